package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/yolodolo42/wcwallet/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RemoteWallet is a wallet whose keys live with a remote signer. The first
// operation on an empty wallet negotiates a session; concurrent callers share
// that negotiation.
type RemoteWallet struct {
	transport   session.Transport
	cfg         session.Config
	log         *zap.Logger
	signTimeout time.Duration

	registry *Registry
	group    singleflight.Group

	mu        sync.Mutex
	neg       *session.Negotiator
	waiters   int
	cancelNeg context.CancelFunc
}

type RemoteWalletOption func(*RemoteWallet)

func WithWalletLogger(l *zap.Logger) RemoteWalletOption {
	return func(w *RemoteWallet) {
		if l != nil {
			w.log = l
		}
	}
}

// WithSignTimeout bounds every request forwarded to the remote signer.
func WithSignTimeout(d time.Duration) RemoteWalletOption {
	return func(w *RemoteWallet) {
		w.signTimeout = d
	}
}

// NewRemoteWallet validates cfg and returns a wallet that negotiates over t
// on first use.
func NewRemoteWallet(t session.Transport, cfg session.Config, opts ...RemoteWalletOption) (*RemoteWallet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &RemoteWallet{
		transport: t,
		cfg:       cfg,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.registry = NewRegistry(w.log, w.signTimeout)
	return w, nil
}

// Connect negotiates a session unless one is already active. Concurrent
// callers share one negotiation, which is abandoned once every caller has
// given up on it.
func (w *RemoteWallet) Connect(ctx context.Context) error {
	for {
		if sess := w.Session(); sess != nil && !sess.Closed() {
			return nil
		}

		w.mu.Lock()
		w.waiters++
		w.mu.Unlock()

		ch := w.group.DoChan("negotiate", func() (any, error) {
			nctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			w.mu.Lock()
			w.cancelNeg = cancel
			if w.waiters == 0 {
				cancel()
			}
			w.mu.Unlock()
			defer func() {
				w.mu.Lock()
				w.cancelNeg = nil
				w.mu.Unlock()
				cancel()
			}()
			return nil, w.negotiate(nctx)
		})

		select {
		case res := <-ch:
			w.leave(false)
			if res.Err != nil && ctx.Err() != nil {
				return fmt.Errorf("connect: %w", ctx.Err())
			}
			// Joined a negotiation the previous callers had already abandoned.
			if errors.Is(res.Err, context.Canceled) {
				continue
			}
			return res.Err
		case <-ctx.Done():
			w.leave(true)
			return fmt.Errorf("connect: %w", ctx.Err())
		}
	}
}

// leave drops a Connect caller. The last caller to give up cancels the
// negotiation.
func (w *RemoteWallet) leave(gaveUp bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waiters--
	if gaveUp && w.waiters == 0 && w.cancelNeg != nil {
		w.cancelNeg()
	}
}

func (w *RemoteWallet) negotiate(ctx context.Context) error {
	if sess := w.Session(); sess != nil {
		// A previous negotiation finished after the caller checked.
		return nil
	}

	neg := session.NewNegotiator(w.transport, session.WithLogger(w.log))
	events := make(chan session.SessionEvent, 8)
	sub := neg.Subscribe(events)

	w.mu.Lock()
	old := w.neg
	w.neg = neg
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}
	go w.follow(neg, sub, events)

	if _, err := neg.Initiate(ctx, w.cfg); err != nil {
		neg.Close()
		return err
	}
	accounts, err := neg.AwaitAccounts(ctx)
	if err != nil {
		neg.Close()
		return err
	}

	sess := neg.Session()
	if sess == nil {
		return ErrSessionClosed
	}
	w.registry.Populate(neg, sess, sess.Accounts())
	w.log.Info("remote wallet connected", zap.Int("accounts", len(accounts)), zap.Int("signers", w.registry.Len()))
	return nil
}

// follow keeps the registry in step with neg's session until neg closes or
// is replaced.
func (w *RemoteWallet) follow(neg *session.Negotiator, sub event.Subscription, events <-chan session.SessionEvent) {
	for {
		select {
		case ev := <-events:
			w.apply(neg, ev)
		case <-sub.Err():
			for {
				select {
				case ev := <-events:
					w.apply(neg, ev)
				default:
					return
				}
			}
		}
	}
}

func (w *RemoteWallet) apply(neg *session.Negotiator, ev session.SessionEvent) {
	if !w.isCurrent(neg) {
		return
	}
	switch ev.Kind {
	case session.SessionActivated, session.SessionChanged:
		w.registry.Populate(neg, ev.Session, ev.Session.Accounts())
	case session.SessionEnded:
		w.registry.Clear()
		w.log.Info("remote session ended", zap.String("reason", ev.Reason))
	}
}

func (w *RemoteWallet) isCurrent(neg *session.Negotiator) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.neg == neg
}

// HasAccount reports whether addr has a live signer. It never negotiates.
func (w *RemoteWallet) HasAccount(addr common.Address) bool {
	_, ok := w.registry.Lookup(addr)
	return ok
}

// Accounts lists the registered addresses.
func (w *RemoteWallet) Accounts() []common.Address {
	return w.registry.Addresses()
}

// Signer resolves the signer for from, negotiating first if the wallet is
// empty.
func (w *RemoteWallet) Signer(ctx context.Context, from common.Address) (*RemoteSigner, error) {
	if err := w.Connect(ctx); err != nil {
		return nil, err
	}
	s, ok := w.registry.Lookup(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, from.Hex())
	}
	return s, nil
}

// SignTransaction returns tx signed by from's remote signer exactly as the
// signer produced it.
func (w *RemoteWallet) SignTransaction(ctx context.Context, tx *types.Transaction, from common.Address) (*types.Transaction, error) {
	s, err := w.Signer(ctx, from)
	if err != nil {
		return nil, err
	}
	// Unsigned legacy transactions carry no chain id.
	var chainID *big.Int
	if tx.Type() != types.LegacyTxType {
		chainID = tx.ChainId()
	}
	if chainID == nil || chainID.Sign() == 0 {
		chainID = s.Chain().EVMChainID()
	}
	return s.SignTransaction(ctx, tx, chainID)
}

func (w *RemoteWallet) SignPersonalMessage(ctx context.Context, data []byte, from common.Address) ([]byte, error) {
	s, err := w.Signer(ctx, from)
	if err != nil {
		return nil, err
	}
	return s.SignMessage(ctx, data)
}

func (w *RemoteWallet) SignTypedData(ctx context.Context, typedData apitypes.TypedData, from common.Address) ([]byte, error) {
	s, err := w.Signer(ctx, from)
	if err != nil {
		return nil, err
	}
	return s.SignTypedData(ctx, typedData)
}

// Session returns the active session, or nil.
func (w *RemoteWallet) Session() *session.Session {
	w.mu.Lock()
	neg := w.neg
	w.mu.Unlock()
	if neg == nil {
		return nil
	}
	return neg.Session()
}

// Disconnect ends the session with the remote signer.
func (w *RemoteWallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	neg := w.neg
	w.mu.Unlock()

	w.registry.Clear()
	if neg == nil {
		return nil
	}
	return neg.Disconnect(ctx)
}

// Close drops the session without telling the remote signer.
func (w *RemoteWallet) Close() {
	w.mu.Lock()
	neg := w.neg
	w.mu.Unlock()

	w.registry.Clear()
	if neg != nil {
		neg.Close()
	}
}
