package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/wcwallet/internal/caip"
	"github.com/yolodolo42/wcwallet/internal/chain"
	"github.com/yolodolo42/wcwallet/internal/ui"
	"go.uber.org/zap"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Pair with a remote wallet and show the authorized accounts",
	Long: `Request a session from a remote wallet. The pairing URI is shown as a QR
code; once approved the authorized accounts are printed. With --hold the
session stays open and account changes are shown until interrupted.`,
	RunE: runConnect,
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List authorized accounts with balances",
	RunE:  runAccounts,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(accountsCmd)

	connectCmd.Flags().Bool("hold", false, "Keep the session open until interrupted")
	accountsCmd.Flags().StringSlice("token", nil, "ERC20 token addresses to include")
}

func runConnect(cmd *cobra.Command, _ []string) error {
	hold, _ := cmd.Flags().GetBool("hold")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	return withRemote(cmd, func(r *remote) error {
		out := cmd.OutOrStdout()
		sess := r.wallet.Session()
		fmt.Fprintln(out, ui.Success("Session established"))
		if sess != nil {
			fmt.Fprintln(out, ui.Field("Topic", sess.Topic()))
			fmt.Fprintln(out, ui.Field("Chains", fmt.Sprint(sess.Chains())))
			fmt.Fprintln(out, ui.Field("Methods", fmt.Sprint(sess.Methods())))
		}
		printAccounts(out, r.wallet.Accounts())

		if !hold || sess == nil {
			return nil
		}

		fmt.Fprintln(out, ui.HelpStyle.Render("Holding session; ctrl+c to disconnect."))
		last := r.wallet.Accounts()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sess.Done():
				fmt.Fprintln(out, ui.Failure("Session ended: "+sess.Reason()))
				return nil
			case <-time.After(time.Second):
				if now := r.wallet.Accounts(); !slices.Equal(now, last) {
					last = now
					logger.Info("accounts changed", zap.Int("count", len(now)))
					printAccounts(out, now)
				}
			}
		}
	})
}

func printAccounts(out io.Writer, accounts []common.Address) {
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No accounts authorized.")
		return
	}
	fmt.Fprintf(out, "\n%d account(s):\n", len(accounts))
	for _, a := range accounts {
		fmt.Fprintf(out, "  %s %s\n", ui.SymbolBullet, ui.AddressStyle.Render(a.Hex()))
	}
}

func runAccounts(cmd *cobra.Command, _ []string) error {
	tokens, _ := cmd.Flags().GetStringSlice("token")

	cc := chain.NewClient(cfg.Networks)
	defer cc.Close()

	return withRemote(cmd, func(r *remote) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		for _, addr := range r.wallet.Accounts() {
			s, err := r.wallet.Signer(ctx, addr)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "%s %s %s\n", ui.SymbolBullet, ui.AddressStyle.Render(addr.Hex()), ui.DimStyle.Render(s.Chain().String()))

			name, err := chainName(cc, s.Chain())
			if err != nil {
				fmt.Fprintf(out, "  %s %s\n", ui.SymbolTree, ui.DimStyle.Render(err.Error()))
				continue
			}
			printBalances(ctx, out, cc, name, addr, tokens)
		}
		return nil
	})
}

// chainName maps a session chain to a configured network.
func chainName(cc *chain.Client, id caip.ChainID) (string, error) {
	name, err := cc.Resolve(id)
	if err != nil {
		return "", fmt.Errorf("no network configured for %s", id)
	}
	return name, nil
}

func printBalances(ctx context.Context, out io.Writer, cc *chain.Client, name string, addr common.Address, tokens []string) {
	native, err := cc.GetNativeBalance(ctx, name, addr)
	if err != nil {
		logger.Warn("balance lookup failed", zap.String("chain", name), zap.Error(err))
		fmt.Fprintf(out, "  %s %s\n", ui.SymbolTree, ui.ErrorStyle.Render("balance unavailable"))
		return
	}
	fmt.Fprintf(out, "  %s %s %s\n", ui.SymbolTree, ui.ValueStyle.Render(chain.FormatBalance(native.Balance, native.Decimals)), native.Symbol)

	for _, t := range tokens {
		if !common.IsHexAddress(t) {
			continue
		}
		tb, err := cc.GetTokenBalance(ctx, name, common.HexToAddress(t), addr)
		if err != nil {
			logger.Warn("token balance lookup failed", zap.String("token", t), zap.Error(err))
			continue
		}
		fmt.Fprintf(out, "  %s %s %s\n", ui.SymbolTree, ui.ValueStyle.Render(chain.FormatBalance(tb.Balance, tb.Decimals)), tb.Symbol)
	}
}
