package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/wcwallet/internal/config"
	"github.com/yolodolo42/wcwallet/internal/ui"
	"github.com/yolodolo42/wcwallet/internal/wallet"
	"golang.org/x/term"
)

const passwordEnv = "WCWALLET_PASSWORD"

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage local keys for the peer wallet",
	Long: `Create, import, and list keystore accounts. These keys are only used by
'wcwallet peer'; the remote session wallet itself never holds keys.`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new key",
	RunE:  runKeysCreate,
}

var keysImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a key from a private key",
	RunE:  runKeysImport,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all keys",
	RunE:  runKeysList,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysImportCmd)
	keysCmd.AddCommand(keysListCmd)

	keysImportCmd.Flags().String("key", "", "Private key to import (hex, with or without 0x prefix)")
}

func readPassword(prompt string) (string, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func readNewPassword() (string, error) {
	password, err := readPassword("Enter password for the key: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	if _, ok := os.LookupEnv(passwordEnv); ok {
		return password, nil
	}

	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	km, err := wallet.NewKeystoreManager(config.Dir())
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}

	account, err := km.CreateAccount(password)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Success("Key created"))
	fmt.Fprintln(out, ui.Field("Address", ui.AddressStyle.Render(account.Address.Hex())))
	fmt.Fprintln(out, ui.Field("Keystore", account.URL.Path))
	fmt.Fprintln(out, ui.WarningStyle.Render("Back up your keystore file and remember your password."))
	return nil
}

func runKeysImport(cmd *cobra.Command, args []string) error {
	privateKey, _ := cmd.Flags().GetString("key")
	if privateKey == "" {
		fmt.Fprint(os.Stderr, "Enter private key (hex): ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read private key: %w", err)
		}
		privateKey = strings.TrimSpace(string(raw))
	}
	if privateKey == "" {
		return errors.New("private key is required")
	}

	km, err := wallet.NewKeystoreManager(config.Dir())
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}

	account, err := km.ImportKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Success("Key imported"))
	fmt.Fprintln(out, ui.Field("Address", ui.AddressStyle.Render(account.Address.Hex())))
	fmt.Fprintln(out, ui.Field("Keystore", account.URL.Path))
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	km, err := wallet.NewKeystoreManager(config.Dir())
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	out := cmd.OutOrStdout()
	accounts := km.ListAccounts()
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No keys found.")
		fmt.Fprintln(out, "Use 'wcwallet keys create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "Found %d key(s):\n\n", len(accounts))
	for i, acc := range accounts {
		fmt.Fprintf(out, "%d. %s\n", i+1, ui.AddressStyle.Render(acc.Address.Hex()))
	}
	return nil
}

// unlockSigners opens keystore signers for addrs, or for every stored key
// when addrs is empty. One password is used for all of them.
func unlockSigners(addrs []string) ([]wallet.Signer, error) {
	km, err := wallet.NewKeystoreManager(config.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}

	var targets []common.Address
	for _, a := range addrs {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("invalid address %q", a)
		}
		addr := common.HexToAddress(a)
		if !km.HasAccount(addr) {
			return nil, fmt.Errorf("%s: %w", addr.Hex(), wallet.ErrAccountNotFound)
		}
		targets = append(targets, addr)
	}
	if len(targets) == 0 {
		for _, acc := range km.ListAccounts() {
			targets = append(targets, acc.Address)
		}
	}
	if len(targets) == 0 {
		return nil, errors.New("no keys found; use 'wcwallet keys create' first")
	}

	password, err := readPassword("Keystore password: ")
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	signers := make([]wallet.Signer, 0, len(targets))
	for _, addr := range targets {
		s, err := km.GetSigner(addr, password)
		if err != nil {
			return nil, fmt.Errorf("unlock %s: %w", addr.Hex(), err)
		}
		signers = append(signers, s)
	}
	return signers, nil
}
