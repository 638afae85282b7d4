package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/yolodolo42/wcwallet/internal/caip"
	"go.uber.org/zap"
)

const (
	eventBuffer    = 16
	abandonTimeout = 5 * time.Second
)

// Negotiator drives one pairing/session negotiation with a remote signer and
// owns the resulting session until it closes. A Negotiator is single use:
// once Closed, a new one is needed.
type Negotiator struct {
	transport Transport
	log       *zap.Logger
	clientID  string

	mu           sync.Mutex
	state        State
	initiated    bool
	cfg          Config
	pairingTopic string
	uri          PairingURI
	uriReady     chan struct{}
	settled      chan struct{}
	isSettled    bool
	err          error
	session      *Session
	seen         map[string]struct{}
	sub          event.Subscription

	events    chan Event
	quit      chan struct{}
	closeOnce sync.Once

	feed  event.Feed
	scope event.SubscriptionScope
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithLogger sets the logger used for lifecycle diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(n *Negotiator) {
		if l != nil {
			n.log = l
		}
	}
}

// WithClientID overrides the relay client id (random by default).
func WithClientID(id string) Option {
	return func(n *Negotiator) {
		if id != "" {
			n.clientID = id
		}
	}
}

// NewNegotiator creates an idle negotiator on top of t.
func NewNegotiator(t Transport, opts ...Option) *Negotiator {
	n := &Negotiator{
		transport: t,
		log:       zap.NewNop(),
		clientID:  uuid.NewString(),
		state:     Idle,
		uriReady:  make(chan struct{}),
		settled:   make(chan struct{}),
		seen:      make(map[string]struct{}),
		events:    make(chan Event, eventBuffer),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With(zap.String("client", n.clientID))
	return n
}

// ClientID is the id this negotiator registers with the relay.
func (n *Negotiator) ClientID() string { return n.clientID }

// State returns the current negotiation state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Session returns the active session, or nil when none is active.
func (n *Negotiator) Session() *Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session
}

// Subscribe registers ch for session activation, change and teardown
// notifications. The subscription ends when the negotiator closes.
func (n *Negotiator) Subscribe(ch chan<- SessionEvent) event.Subscription {
	return n.scope.Track(n.feed.Subscribe(ch))
}

// Initiate starts the negotiation and returns the pairing URI the remote
// party needs. It registers for lifecycle events before asking the relay to
// connect so no event is missed.
func (n *Negotiator) Initiate(ctx context.Context, cfg Config) (PairingURI, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	n.mu.Lock()
	if n.initiated {
		n.mu.Unlock()
		return "", ErrAlreadyInitiated
	}
	n.initiated = true
	n.cfg = cfg
	n.mu.Unlock()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	sub, err := n.transport.Subscribe(ctx, n.clientID, n.events)
	if err != nil {
		err = transportErr("subscribe", err)
		n.shutdown(err, "subscribe failed")
		return "", err
	}
	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()
	go n.loop(sub)

	res, err := n.transport.Connect(ctx, ConnectParams{
		ClientID: n.clientID,
		Chains:   cfg.Chains,
		Methods:  cfg.Methods,
		Metadata: cfg.Metadata,
	})
	if err != nil {
		if ctx.Err() != nil {
			err = waitErr(ctx, "connect")
		} else {
			err = transportErr("connect", err)
		}
		n.shutdown(err, "connect failed")
		return "", err
	}

	n.mu.Lock()
	if n.pairingTopic == "" {
		n.pairingTopic = res.PairingTopic
	}
	n.mu.Unlock()
	n.log.Debug("pairing requested", zap.String("pairing", res.PairingTopic))

	select {
	case <-n.uriReady:
	case <-n.settled:
		if !n.hasURI() {
			return "", n.settledErr()
		}
	case <-ctx.Done():
		err := waitErr(ctx, "await pairing uri")
		n.abandon(ctx, err, "no pairing uri")
		return "", err
	}

	n.mu.Lock()
	uri := n.uri
	n.mu.Unlock()
	if cfg.OnURI != nil {
		cfg.OnURI(uri)
	}
	return uri, nil
}

// AwaitAccounts suspends until the remote party approves the session and
// returns the authorized accounts in advertised order. Malformed entries are
// logged and skipped.
func (n *Negotiator) AwaitAccounts(ctx context.Context) ([]caip.Account, error) {
	n.mu.Lock()
	if !n.initiated {
		n.mu.Unlock()
		return nil, ErrNotInitiated
	}
	timeout := n.cfg.Timeout
	n.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-n.settled:
	case <-ctx.Done():
		select {
		case <-n.settled:
		default:
			err := waitErr(ctx, "await accounts")
			reason := "approval abandoned"
			if errors.Is(err, ErrNegotiationTimeout) {
				reason = "approval timed out"
			}
			n.abandon(ctx, err, reason)
			return nil, err
		}
	}

	if err := n.settledErr(); err != nil {
		return nil, err
	}
	sess := n.Session()
	if sess == nil {
		return nil, ErrSessionClosed
	}

	accounts, errs := caip.ParseAccounts(sess.Accounts())
	for _, err := range errs {
		n.log.Warn("dropping malformed account", zap.Error(err))
	}
	return accounts, nil
}

// Request forwards method with params to the remote party over sess and
// decodes the reply into result. sess must be the active session; if it
// closes while the request is pending the call fails with ErrSessionClosed.
func (n *Negotiator) Request(ctx context.Context, sess *Session, chain caip.ChainID, method string, params, result any) error {
	if sess == nil || sess.Closed() || n.Session() != sess {
		return fmt.Errorf("%s: %w", method, ErrSessionClosed)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	req := Request{
		ID:      uuid.NewString(),
		Topic:   sess.Topic(),
		ChainID: chain.String(),
		Method:  method,
		Params:  raw,
	}
	n.log.Debug("forwarding request", zap.String("id", req.ID), zap.String("method", method))

	if err := n.transport.Request(ctx, req, result); err != nil {
		if sess.Closed() {
			return fmt.Errorf("%s: %w", method, ErrSessionClosed)
		}
		return err
	}
	return nil
}

// Disconnect tells the relay to drop the session (or the pending pairing) and
// closes the negotiator.
func (n *Negotiator) Disconnect(ctx context.Context) error {
	n.mu.Lock()
	state := n.state
	topic := n.pairingTopic
	if n.session != nil {
		topic = n.session.Topic()
	}
	n.mu.Unlock()

	if state == Closed {
		return nil
	}

	var err error
	if topic != "" {
		if derr := n.transport.Disconnect(ctx, topic, "disconnected by wallet"); derr != nil {
			err = fmt.Errorf("disconnect %s: %w", topic, derr)
		}
	}
	n.shutdown(ErrSessionClosed, "disconnected by wallet")
	return err
}

// abandon closes a negotiation nobody is waiting on and asks the relay to drop
// its pairing, so the pairing URI can no longer be approved.
func (n *Negotiator) abandon(ctx context.Context, cause error, reason string) {
	n.mu.Lock()
	state := n.state
	topic := n.pairingTopic
	if n.session != nil {
		topic = n.session.Topic()
	}
	n.mu.Unlock()

	if state != Closed && topic != "" {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
		if err := n.transport.Disconnect(ctx, topic, reason); err != nil {
			n.log.Warn("relay kept abandoned pairing", zap.String("topic", topic), zap.Error(err))
		}
		cancel()
	}
	n.shutdown(cause, reason)
}

// Close stops the negotiator without notifying the relay.
func (n *Negotiator) Close() {
	n.shutdown(ErrSessionClosed, "closed")
}

func (n *Negotiator) loop(sub event.Subscription) {
	for {
		select {
		case ev := <-n.events:
			n.dispatch(ev)
		case err, ok := <-sub.Err():
			if ok && err != nil {
				n.log.Warn("relay subscription failed", zap.Error(err))
				n.shutdown(transportErr("subscription", err), "relay subscription lost")
			}
			return
		case <-n.quit:
			return
		}
	}
}

type handler func(n *Negotiator, ev Event, from, to State) (*SessionEvent, error)

var handlers = map[EventKind]handler{
	PairingProposal: (*Negotiator).onPairingProposal,
	PairingCreated:  (*Negotiator).onPairingCreated,
	PairingUpdated:  (*Negotiator).onPairingUpdated,
	PairingDeleted:  (*Negotiator).onPairingDeleted,
	SessionProposal: (*Negotiator).onSessionProposal,
	SessionCreated:  (*Negotiator).onSessionCreated,
	SessionUpdated:  (*Negotiator).onSessionUpdated,
	SessionDeleted:  (*Negotiator).onSessionDeleted,
}

func (n *Negotiator) dispatch(ev Event) {
	log := n.log.With(zap.String("event", string(ev.Kind)), zap.String("id", ev.ID))

	n.mu.Lock()
	if n.pairingTopic != "" && ev.PairingTopic != n.pairingTopic {
		n.mu.Unlock()
		log.Debug("ignoring event for other pairing", zap.String("pairing", ev.PairingTopic))
		return
	}
	if _, dup := n.seen[ev.ID]; dup && ev.ID != "" {
		n.mu.Unlock()
		log.Debug("ignoring duplicate event")
		return
	}

	from := n.state
	to, legal := next(from, ev.Kind)
	h, known := handlers[ev.Kind]
	if !legal || !known {
		n.mu.Unlock()
		log.Warn("rejecting out of order event", zap.Stringer("state", from))
		return
	}

	notify, err := h(n, ev, from, to)
	if err != nil {
		n.mu.Unlock()
		log.Warn("rejecting malformed event", zap.Error(err))
		return
	}
	if ev.ID != "" {
		n.seen[ev.ID] = struct{}{}
	}
	state := n.state
	n.mu.Unlock()

	log.Debug("lifecycle transition", zap.Stringer("from", from), zap.Stringer("to", state))
	if notify != nil {
		n.feed.Send(*notify)
	}
	if state == Closed {
		n.stop()
	}
}

func (n *Negotiator) onPairingProposal(ev Event, _, to State) (*SessionEvent, error) {
	if ev.URI == "" {
		return nil, errors.New("pairing proposal without uri")
	}
	if n.pairingTopic == "" {
		n.pairingTopic = ev.PairingTopic
	}
	n.uri = ev.URI
	n.state = to
	close(n.uriReady)
	return nil, nil
}

func (n *Negotiator) onPairingCreated(ev Event, _, to State) (*SessionEvent, error) {
	n.log.Info("pairing established", zap.String("pairing", ev.PairingTopic))
	n.state = to
	return nil, nil
}

func (n *Negotiator) onPairingUpdated(_ Event, _, to State) (*SessionEvent, error) {
	n.state = to
	return nil, nil
}

func (n *Negotiator) onPairingDeleted(ev Event, from, to State) (*SessionEvent, error) {
	if to != Closed {
		n.log.Info("pairing deleted, session kept", zap.String("reason", ev.Reason))
		return nil, nil
	}
	return n.closeLocked(rejection(ev.Reason), reasonOr(ev.Reason, "pairing deleted")), nil
}

func (n *Negotiator) onSessionProposal(ev Event, _, to State) (*SessionEvent, error) {
	if p := ev.Proposal; p != nil {
		n.log.Info("session proposed", zap.Strings("chains", p.Chains), zap.Strings("methods", p.Methods))
	}
	n.state = to
	return nil, nil
}

func (n *Negotiator) onSessionCreated(ev Event, _, to State) (*SessionEvent, error) {
	if ev.Session == nil || ev.Session.Topic == "" {
		return nil, errors.New("session created without session topic")
	}
	n.session = newSession(n.pairingTopic, ev.Session)
	n.state = to
	n.settle(nil)
	n.log.Info("session active",
		zap.String("session", ev.Session.Topic),
		zap.Int("accounts", len(ev.Session.Accounts)))
	return &SessionEvent{Kind: SessionActivated, Session: n.session}, nil
}

func (n *Negotiator) onSessionUpdated(ev Event, _, to State) (*SessionEvent, error) {
	if ev.Session == nil || ev.Session.Topic != n.session.Topic() {
		return nil, errors.New("session update for unknown session")
	}
	n.session.update(ev.Session)
	n.state = to
	return &SessionEvent{Kind: SessionChanged, Session: n.session}, nil
}

func (n *Negotiator) onSessionDeleted(ev Event, from, _ State) (*SessionEvent, error) {
	var cause error
	if from != SessionActive {
		cause = rejection(ev.Reason)
	}
	return n.closeLocked(cause, reasonOr(ev.Reason, "session deleted")), nil
}

// closeLocked moves to Closed, closing the active session if any. cause is
// reported to waiters that have not seen a session yet.
func (n *Negotiator) closeLocked(cause error, reason string) *SessionEvent {
	if n.state == Closed {
		return nil
	}
	n.state = Closed
	if cause == nil {
		cause = ErrSessionClosed
	}
	n.settle(cause)

	sess := n.session
	n.session = nil
	if sess == nil {
		return nil
	}
	sess.close(reason)
	n.log.Info("session closed", zap.String("session", sess.Topic()), zap.String("reason", reason))
	return &SessionEvent{Kind: SessionEnded, Session: sess, Reason: reason}
}

func (n *Negotiator) settle(err error) {
	if n.isSettled {
		return
	}
	n.isSettled = true
	n.err = err
	close(n.settled)
}

func (n *Negotiator) hasURI() bool {
	select {
	case <-n.uriReady:
		return true
	default:
		return false
	}
}

func (n *Negotiator) settledErr() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

func (n *Negotiator) shutdown(cause error, reason string) {
	n.mu.Lock()
	notify := n.closeLocked(cause, reason)
	n.mu.Unlock()

	if notify != nil {
		n.feed.Send(*notify)
	}
	n.stop()
}

func (n *Negotiator) stop() {
	n.closeOnce.Do(func() {
		close(n.quit)
		n.mu.Lock()
		sub := n.sub
		n.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		n.scope.Close()
	})
}

func waitErr(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, ErrNegotiationTimeout)
	}
	return fmt.Errorf("%s: %w", what, ctx.Err())
}

func transportErr(what string, err error) error {
	if errors.Is(err, ErrTransportUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", what, ErrTransportUnavailable, err)
}

func rejection(reason string) error {
	if reason == "" {
		return ErrNegotiationRejected
	}
	return fmt.Errorf("%w: %s", ErrNegotiationRejected, reason)
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
