package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/wcwallet/internal/relay"
	"github.com/yolodolo42/wcwallet/internal/session"
	"github.com/yolodolo42/wcwallet/internal/ui"
	"github.com/yolodolo42/wcwallet/internal/wallet"
	"golang.org/x/term"
)

// remote bundles a relay connection with the wallet negotiated over it.
type remote struct {
	client *relay.Client
	wallet *wallet.RemoteWallet

	mu    sync.Mutex
	print func(string)
}

func interactive() bool {
	return term.IsTerminal(int(os.Stderr.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

func openRemote(ctx context.Context) (*remote, error) {
	client, err := relay.Dial(ctx, cfg.RelayURL, relay.WithClientLogger(logger.Named("relay")))
	if err != nil {
		return nil, err
	}

	r := &remote{
		client: client,
		print:  func(s string) { fmt.Fprintln(os.Stderr, s) },
	}

	sc := cfg.Session()
	sc.OnURI = r.showURI
	w, err := wallet.NewRemoteWallet(client, sc,
		wallet.WithWalletLogger(logger.Named("wallet")),
		wallet.WithSignTimeout(cfg.SignTimeout),
	)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.wallet = w
	return r, nil
}

func (r *remote) showURI(uri session.PairingURI) {
	r.mu.Lock()
	show := r.print
	r.mu.Unlock()
	show(ui.URIBlock(string(uri)))
}

func (r *remote) setPrinter(fn func(string)) func(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.print
	r.print = fn
	return prev
}

// connect negotiates a session, behind a spinner when attached to a terminal.
func (r *remote) connect(ctx context.Context) error {
	if !interactive() {
		fmt.Fprintln(os.Stderr, "Waiting for the remote wallet to approve...")
		return r.wallet.Connect(ctx)
	}

	return ui.Wait(ctx, "Waiting for the remote wallet to approve", func(ctx context.Context, rep ui.Reporter) error {
		prev := r.setPrinter(rep.Print)
		defer r.setPrinter(prev)
		rep.Status("requesting pairing from " + cfg.RelayURL)
		return r.wallet.Connect(ctx)
	}, tea.WithOutput(os.Stderr))
}

// sign wraps a remote signing call in a spinner.
func (r *remote) sign(ctx context.Context, what string, from common.Address, fn func(ctx context.Context) error) error {
	if !interactive() {
		fmt.Fprintf(os.Stderr, "Waiting for %s to approve %s...\n", from.Hex(), what)
		return fn(ctx)
	}
	return ui.Wait(ctx, fmt.Sprintf("Waiting for approval of %s", what), func(ctx context.Context, rep ui.Reporter) error {
		rep.Status("signer " + from.Hex())
		return fn(ctx)
	}, tea.WithOutput(os.Stderr))
}

// close ends the session at the relay and releases the connection.
func (r *remote) close(ctx context.Context) {
	if r.wallet.Session() != nil {
		_ = r.wallet.Disconnect(ctx)
	}
	r.wallet.Close()
	r.client.Close()
}

// pickFrom resolves the signing account from a flag value, prompting when
// more than one account is authorized.
func (r *remote) pickFrom(cmd *cobra.Command) (common.Address, error) {
	from, _ := cmd.Flags().GetString("from")
	if from != "" {
		if !common.IsHexAddress(from) {
			return common.Address{}, fmt.Errorf("invalid --from address %q", from)
		}
		return common.HexToAddress(from), nil
	}

	accounts := r.wallet.Accounts()
	items := make([]ui.SelectorItem, 0, len(accounts))
	for _, a := range accounts {
		desc := ""
		if s, err := r.wallet.Signer(cmd.Context(), a); err == nil {
			desc = s.Chain().String()
		}
		items = append(items, ui.SelectorItem{ID: a.Hex(), Description: desc})
	}
	if len(items) > 1 && !interactive() {
		return common.Address{}, fmt.Errorf("%d accounts authorized; choose one with --from", len(items))
	}
	id, err := ui.Select("Sign with", items, tea.WithOutput(os.Stderr))
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(id), nil
}

// withRemote opens a wallet, negotiates a session and runs fn.
func withRemote(cmd *cobra.Command, fn func(r *remote) error) error {
	ctx := cmd.Context()
	r, err := openRemote(ctx)
	if err != nil {
		return err
	}
	defer r.close(context.WithoutCancel(ctx))

	if err := r.connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return fn(r)
}
