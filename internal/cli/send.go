package cli

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/wcwallet/internal/chain"
	"github.com/yolodolo42/wcwallet/internal/tx"
	"github.com/yolodolo42/wcwallet/internal/ui"
	"go.uber.org/zap"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send native tokens, signed by the remote wallet",
	Long: `Build a transaction, have the remote wallet sign it, and broadcast it to
the network of the signing account. Balances are shown before and after.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().String("from", "", "Account to send from (prompted when several are authorized)")
	sendCmd.Flags().String("to", "", "Recipient address")
	sendCmd.Flags().String("value", "", "Amount in native units, e.g. 0.01")
	sendCmd.Flags().String("data", "", "Optional 0x-prefixed calldata")
	sendCmd.Flags().String("max", "", "Refuse values above this amount")
	sendCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	sendCmd.Flags().Duration("wait", 2*time.Minute, "How long to wait for the receipt (0 to skip)")
	_ = sendCmd.MarkFlagRequired("to")
	_ = sendCmd.MarkFlagRequired("value")
}

func runSend(cmd *cobra.Command, _ []string) error {
	toFlag, _ := cmd.Flags().GetString("to")
	valueFlag, _ := cmd.Flags().GetString("value")
	dataFlag, _ := cmd.Flags().GetString("data")
	maxFlag, _ := cmd.Flags().GetString("max")
	yes, _ := cmd.Flags().GetBool("yes")
	wait, _ := cmd.Flags().GetDuration("wait")

	if !common.IsHexAddress(toFlag) {
		return fmt.Errorf("invalid --to address %q", toFlag)
	}
	value, err := chain.ParseAmount(valueFlag, 18)
	if err != nil {
		return err
	}
	var data []byte
	if dataFlag != "" {
		if data, err = hexutil.Decode(dataFlag); err != nil {
			return fmt.Errorf("invalid --data: %w", err)
		}
	}
	var policy tx.Policy
	if maxFlag != "" {
		if policy.MaxPerTxWei, err = chain.ParseAmount(maxFlag, 18); err != nil {
			return fmt.Errorf("invalid --max: %w", err)
		}
	}

	cc := chain.NewClient(cfg.Networks)
	defer cc.Close()

	return withRemote(cmd, func(r *remote) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		from, err := r.pickFrom(cmd)
		if err != nil {
			return err
		}
		signer, err := r.wallet.Signer(ctx, from)
		if err != nil {
			return err
		}
		name, err := chainName(cc, signer.Chain())
		if err != nil {
			return err
		}
		netCfg, err := cc.GetChainConfig(name)
		if err != nil {
			return err
		}

		intent := tx.Intent{
			Chain:    name,
			From:     from,
			To:       common.HexToAddress(toFlag),
			ValueWei: value,
			Data:     data,
		}
		if err := tx.Validate(intent, policy); err != nil {
			return err
		}

		before, err := cc.GetBalance(ctx, name, from)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}

		unsigned, fees, err := tx.BuildUnsignedTx(ctx, cc, intent)
		if err != nil {
			return err
		}

		summary := []string{
			ui.Field("From", from.Hex()),
			ui.Field("To", intent.To.Hex()),
			ui.Field("Value", chain.FormatBalance(value, 18)+" "+netCfg.NativeCurrency),
			ui.Field("Network", fmt.Sprintf("%s (%s)", netCfg.Name, signer.Chain())),
			ui.Field("Gas limit", fmt.Sprint(fees.GasLimit)),
			ui.Field("Max cost", chain.FormatBalance(fees.EstimatedCostWei, 18)+" "+netCfg.NativeCurrency),
			ui.Field("Balance", chain.FormatBalance(before, 18)+" "+netCfg.NativeCurrency),
		}
		if fees.EstimatedCostWei.Cmp(before) > 0 {
			return fmt.Errorf("insufficient funds: need up to %s, have %s",
				chain.FormatBalance(fees.EstimatedCostWei, 18), chain.FormatBalance(before, 18))
		}
		if err := confirmSend(summary, yes); err != nil {
			return err
		}

		var signed *types.Transaction
		err = r.sign(ctx, "transaction", from, func(ctx context.Context) error {
			signed, err = r.wallet.SignTransaction(ctx, unsigned, from)
			return err
		})
		if err != nil {
			return err
		}
		if err := checkSigned(unsigned, signed, from); err != nil {
			return err
		}

		if err := cc.SendTransaction(ctx, name, signed); err != nil {
			return fmt.Errorf("broadcast: %w", err)
		}
		logger.Info("transaction broadcast", zap.String("hash", signed.Hash().Hex()), zap.String("chain", name))
		fmt.Fprintln(out, ui.Success("Broadcast "+ui.ValueStyle.Render(signed.Hash().Hex())))
		if netCfg.ExplorerURL != "" {
			fmt.Fprintln(out, ui.Field("Explorer", strings.TrimRight(netCfg.ExplorerURL, "/")+"/tx/"+signed.Hash().Hex()))
		}

		if wait <= 0 {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		receipt, err := cc.WaitMined(waitCtx, name, signed.Hash())
		if err != nil {
			return fmt.Errorf("waiting for receipt: %w", err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			fmt.Fprintln(out, ui.Failure(fmt.Sprintf("Reverted in block %s", receipt.BlockNumber)))
		} else {
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("Mined in block %s, gas used %d", receipt.BlockNumber, receipt.GasUsed)))
		}

		after, err := cc.GetBalance(ctx, name, from)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		fmt.Fprintln(out, ui.Field("Balance", fmt.Sprintf("%s → %s %s",
			chain.FormatBalance(before, 18), chain.FormatBalance(after, 18), netCfg.NativeCurrency)))
		return nil
	})
}

func confirmSend(summary []string, yes bool) error {
	if yes {
		return nil
	}
	if !interactive() {
		return errors.New("refusing to send without confirmation; pass --yes")
	}
	ok, err := ui.Confirm("Send this transaction for remote signing?", summary, tea.WithOutput(os.Stderr))
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("cancelled")
	}
	return nil
}

// checkSigned makes sure the remote wallet signed what was asked, from the
// expected account.
func checkSigned(unsigned, signed *types.Transaction, from common.Address) error {
	sender, err := types.Sender(types.LatestSignerForChainID(signed.ChainId()), signed)
	if err != nil {
		return fmt.Errorf("signed transaction: %w", err)
	}
	if sender != from {
		return fmt.Errorf("signed by %s, expected %s", sender.Hex(), from.Hex())
	}
	if signed.To() == nil || *signed.To() != *unsigned.To() ||
		signed.Nonce() != unsigned.Nonce() || signed.Value().Cmp(unsigned.Value()) != 0 || !equalBig(signed.ChainId(), unsigned.ChainId()) {
		return errors.New("signed transaction differs from the request")
	}
	return nil
}

func equalBig(a, b *big.Int) bool {
	return a != nil && b != nil && a.Cmp(b) == 0
}
