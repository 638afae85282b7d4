package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/wcwallet/internal/caip"
	"github.com/yolodolo42/wcwallet/internal/chain"
	"github.com/yolodolo42/wcwallet/internal/peer"
	"github.com/yolodolo42/wcwallet/internal/relay"
	"github.com/yolodolo42/wcwallet/internal/session"
	"github.com/yolodolo42/wcwallet/internal/ui"
	"go.uber.org/zap"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Answer a pairing URI as a keystore-backed remote wallet",
	Long: `Join the pairing in --uri, offer local keystore accounts, and sign the
wallet's requests after confirmation. Runs until the session is deleted or
interrupted.`,
	RunE: runPeer,
}

func init() {
	rootCmd.AddCommand(peerCmd)

	peerCmd.Flags().String("uri", "", "Pairing URI shown by 'wcwallet connect'")
	peerCmd.Flags().StringSlice("account", nil, "Keystore addresses to offer (default all)")
	peerCmd.Flags().String("chain-id", "", "CAIP-2 chain to offer (default first configured chain)")
	peerCmd.Flags().Bool("auto-approve", false, "Approve the session and every request without asking")
	_ = peerCmd.MarkFlagRequired("uri")
}

func runPeer(cmd *cobra.Command, _ []string) error {
	uri, _ := cmd.Flags().GetString("uri")
	addrs, _ := cmd.Flags().GetStringSlice("account")
	chainFlag, _ := cmd.Flags().GetString("chain-id")
	auto, _ := cmd.Flags().GetBool("auto-approve")

	if chainFlag == "" {
		chainFlag = cfg.Chains[0]
	}
	chainID, err := caip.ParseChainID(chainFlag)
	if err != nil {
		return err
	}
	if _, err := relay.ParseURI(session.PairingURI(uri)); err != nil {
		return err
	}

	signers, err := unlockSigners(addrs)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range signers {
			if l, ok := s.(interface{ Lock() }); ok {
				l.Lock()
			}
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := relay.Dial(ctx, cfg.RelayURL, relay.WithClientLogger(logger.Named("relay")))
	if err != nil {
		return err
	}
	defer client.Close()

	opts := []peer.Option{
		peer.WithLogger(logger.Named("peer")),
		peer.WithConfirm(confirmRequest(auto)),
	}
	cc := chain.NewClient(cfg.Networks)
	defer cc.Close()
	if name, err := cc.Resolve(chainID); err == nil {
		opts = append(opts, peer.WithBroadcaster(cc.Sender(name)))
	} else {
		logger.Warn("no network for chain; eth_sendTransaction disabled", zap.String("chain", chainID.String()))
	}

	resp := peer.New(client, chainID, signers, opts...)
	out := cmd.OutOrStdout()

	proposal, err := resp.Pair(ctx, session.PairingURI(uri))
	if err != nil {
		return err
	}
	details := []string{
		ui.Field("Wallet", proposal.Metadata.Name),
		ui.Field("URL", proposal.Metadata.URL),
		ui.Field("Chains", fmt.Sprint(proposal.Chains)),
		ui.Field("Methods", fmt.Sprint(proposal.Methods)),
		ui.Field("Offering", fmt.Sprint(resp.Accounts())),
	}
	approve := auto
	if !auto {
		if !interactive() {
			_ = resp.Reject(context.WithoutCancel(ctx), "not confirmed")
			return errors.New("session needs confirmation; pass --auto-approve")
		}
		if approve, err = ui.Confirm("Approve session?", details, tea.WithOutput(os.Stderr)); err != nil {
			return err
		}
	}
	if !approve {
		if err := resp.Reject(ctx, "user rejected"); err != nil {
			return err
		}
		fmt.Fprintln(out, ui.Failure("Session rejected"))
		return nil
	}

	topic, err := resp.Approve(ctx)
	if err != nil {
		_ = resp.Reject(context.WithoutCancel(ctx), err.Error())
		return err
	}
	fmt.Fprintln(out, ui.Success("Session approved"))
	fmt.Fprintln(out, ui.Field("Topic", topic))
	fmt.Fprintln(out, ui.HelpStyle.Render("Serving requests; ctrl+c to disconnect."))

	err = resp.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		if derr := resp.Disconnect(context.WithoutCancel(ctx), "peer stopped"); derr != nil && !errors.Is(derr, peer.ErrNoSession) {
			logger.Warn("disconnect failed", zap.Error(derr))
		}
		fmt.Fprintln(out, ui.Success("Disconnected"))
		return nil
	}
	if err == nil {
		fmt.Fprintln(out, ui.Failure("Session ended by the wallet"))
	}
	return err
}

func confirmRequest(auto bool) peer.ConfirmFunc {
	return func(req session.Request) bool {
		if auto {
			logger.Info("auto-approving request", zap.String("method", req.Method), zap.String("id", req.ID))
			return true
		}
		if !interactive() {
			return false
		}
		params := string(req.Params)
		if len(params) > 240 {
			params = params[:240] + "…"
		}
		ok, err := ui.Confirm("Sign "+req.Method+"?", []string{
			ui.Field("Chain", req.ChainID),
			ui.Field("Params", params),
		}, tea.WithOutput(os.Stderr))
		if err != nil {
			logger.Warn("confirmation failed", zap.Error(err))
			return false
		}
		return ok
	}
}
