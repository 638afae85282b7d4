package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/wcwallet/internal/ui"
)

var signMessageCmd = &cobra.Command{
	Use:   "sign-message [message]",
	Short: "Ask the remote wallet to sign a message (personal_sign)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignMessage,
}

var signTypedCmd = &cobra.Command{
	Use:   "sign-typed [file]",
	Short: "Ask the remote wallet to sign EIP-712 typed data from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignTyped,
}

func init() {
	rootCmd.AddCommand(signMessageCmd)
	rootCmd.AddCommand(signTypedCmd)

	for _, c := range []*cobra.Command{signMessageCmd, signTypedCmd} {
		c.Flags().String("from", "", "Account to sign with (prompted when several are authorized)")
	}
	signMessageCmd.Flags().Bool("hex", false, "Treat the message as 0x-prefixed hex bytes")
}

func runSignMessage(cmd *cobra.Command, args []string) error {
	msg := []byte(args[0])
	if isHex, _ := cmd.Flags().GetBool("hex"); isHex {
		b, err := hexutil.Decode(args[0])
		if err != nil {
			return fmt.Errorf("invalid hex message: %w", err)
		}
		msg = b
	}

	return withRemote(cmd, func(r *remote) error {
		from, err := r.pickFrom(cmd)
		if err != nil {
			return err
		}

		var sig []byte
		err = r.sign(cmd.Context(), "message signature", from, func(ctx context.Context) error {
			sig, err = r.wallet.SignPersonalMessage(ctx, msg, from)
			return err
		})
		if err != nil {
			return err
		}
		return printSignature(cmd, sig, accounts.TextHash(msg), from)
	})
}

func runSignTyped(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(raw, &td); err != nil {
		return fmt.Errorf("invalid typed data: %w", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return fmt.Errorf("invalid typed data: %w", err)
	}

	return withRemote(cmd, func(r *remote) error {
		from, err := r.pickFrom(cmd)
		if err != nil {
			return err
		}

		var sig []byte
		err = r.sign(cmd.Context(), "typed data "+td.PrimaryType, from, func(ctx context.Context) error {
			sig, err = r.wallet.SignTypedData(ctx, td, from)
			return err
		})
		if err != nil {
			return err
		}
		return printSignature(cmd, sig, hash, from)
	})
}

func printSignature(cmd *cobra.Command, sig, hash []byte, from common.Address) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Field("Signature", ui.ValueStyle.Render(hexutil.Encode(sig))))

	signer, err := recoverSigner(hash, sig)
	if err != nil {
		fmt.Fprintln(out, ui.Failure("could not recover signer: "+err.Error()))
		return nil
	}
	if signer != from {
		fmt.Fprintln(out, ui.Failure("signature recovers to "+signer.Hex()))
		return nil
	}
	fmt.Fprintln(out, ui.Success("signature verified for "+from.Hex()))
	return nil
}

// recoverSigner accepts both 0/1 and 27/28 recovery ids.
func recoverSigner(hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
