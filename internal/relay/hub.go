package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/yolodolo42/wcwallet/internal/caip"
	"github.com/yolodolo42/wcwallet/internal/session"
	"go.uber.org/zap"
)

const (
	// Namespace is the JSON-RPC namespace the hub is registered under.
	Namespace = "relay"

	DefaultRequestTimeout = 5 * time.Minute

	sinkBuffer = 64
)

// PeerEvent is what a remote signer receives on its requests subscription.
type PeerEvent struct {
	Kind    PeerEventKind     `json:"kind"`
	Request *session.Request `json:"request,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

type PeerEventKind string

const (
	PeerRequest        PeerEventKind = "request"
	PeerSessionDeleted PeerEventKind = "session_deleted"
)

// Hub routes pairing, lifecycle and request traffic. The zero value is not
// usable; create one with NewHub.
type Hub struct {
	log            *zap.Logger
	requestTimeout time.Duration

	mu       sync.Mutex
	clients  map[string]*sink
	pairings map[string]*pairing
	sessions map[string]*pairing
	pending  map[string]*pendingRequest
}

type pairing struct {
	topic    string
	clientID string
	proposal session.Proposal
	paired   bool
	session  *session.SessionState
	peer     *sink
}

type pendingRequest struct {
	req   session.Request
	reply chan reply
	once  sync.Once
}

type reply struct {
	result json.RawMessage
	err    error
}

func (p *pendingRequest) complete(r reply) {
	p.once.Do(func() { p.reply <- r })
}

// HubOption configures a Hub.
type HubOption func(*Hub)

func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithRequestTimeout bounds how long a request waits for the signer.
func WithRequestTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		log:            zap.NewNop(),
		requestTimeout: DefaultRequestTimeout,
		clients:        make(map[string]*sink),
		pairings:       make(map[string]*pairing),
		sessions:       make(map[string]*pairing),
		pending:        make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Server returns an rpc.Server with the hub registered under Namespace.
func (h *Hub) Server() (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(Namespace, &API{hub: h}); err != nil {
		return nil, err
	}
	return srv, nil
}

// Handler serves the hub over websocket.
func (h *Hub) Handler(allowedOrigins []string) (http.Handler, error) {
	srv, err := h.Server()
	if err != nil {
		return nil, err
	}
	return srv.WebsocketHandler(allowedOrigins), nil
}

// API is the set of methods exposed over JSON-RPC.
type API struct {
	hub *Hub
}

// Events streams lifecycle events for pairings opened by clientID.
func (a *API) Events(ctx context.Context, clientID string) (*rpc.Subscription, error) {
	if clientID == "" {
		return nil, errorf(codeInvalid, "client id required")
	}
	s, err := newSink(ctx)
	if err != nil {
		return nil, err
	}

	h := a.hub
	h.mu.Lock()
	h.clients[clientID] = s
	h.mu.Unlock()
	h.log.Debug("wallet subscribed", zap.String("client", clientID))
	return s.sub, nil
}

// Requests streams sign requests for sessionTopic to the remote signer.
// Requests that arrived before the subscription are delivered first.
func (a *API) Requests(ctx context.Context, sessionTopic string) (*rpc.Subscription, error) {
	h := a.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.sessions[sessionTopic]
	if !ok {
		return nil, errorf(codeUnknownTopic, "unknown session %s", sessionTopic)
	}

	s, err := newSink(ctx)
	if err != nil {
		return nil, err
	}
	p.peer = s
	for _, pr := range h.pending {
		if pr.req.Topic == sessionTopic {
			req := pr.req
			if !s.send(PeerEvent{Kind: PeerRequest, Request: &req}) {
				h.log.Warn("signer fell behind on queued requests", zap.String("session", sessionTopic))
				break
			}
		}
	}
	return s.sub, nil
}

// Connect opens a pairing for the given client and announces its URI.
func (a *API) Connect(params session.ConnectParams) (*session.ConnectResult, error) {
	if len(params.Chains) == 0 || len(params.Methods) == 0 {
		return nil, errorf(codeInvalid, "chains and methods are required")
	}
	for _, ch := range params.Chains {
		if _, err := caip.ParseChainID(ch); err != nil {
			return nil, errorf(codeInvalid, "%v", err)
		}
	}

	h := a.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[params.ClientID]
	if !ok {
		return nil, errorf(codeInvalid, "client %q has no event subscription", params.ClientID)
	}

	topic := uuid.NewString()
	p := &pairing{
		topic:    topic,
		clientID: params.ClientID,
		proposal: session.Proposal{
			PairingTopic: topic,
			Chains:       slices.Clone(params.Chains),
			Methods:      slices.Clone(params.Methods),
			Metadata:     params.Metadata,
		},
	}
	h.pairings[topic] = p

	uri := FormatURI(topic)
	client.send(newEvent(session.PairingProposal, topic, func(ev *session.Event) { ev.URI = uri }))
	h.log.Info("pairing proposed", zap.String("pairing", topic), zap.String("client", params.ClientID))
	return &session.ConnectResult{PairingTopic: topic, URI: uri}, nil
}

// Pair is called by the remote signer with the URI it was shown.
func (a *API) Pair(uri session.PairingURI) (*session.Proposal, error) {
	topic, err := ParseURI(uri)
	if err != nil {
		return nil, errorf(codeInvalid, "%v", err)
	}

	h := a.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pairings[topic]
	if !ok {
		return nil, errorf(codeUnknownTopic, "unknown pairing %s", topic)
	}
	if p.paired {
		return nil, errorf(codeInvalid, "pairing %s already used", topic)
	}
	p.paired = true

	proposal := p.proposal
	h.emit(p, newEvent(session.PairingCreated, topic, nil))
	h.emit(p, newEvent(session.SessionProposal, topic, func(ev *session.Event) { ev.Proposal = &proposal }))
	return &proposal, nil
}

// Approve authorizes accounts for the pairing's proposal and returns the new
// session topic.
func (a *API) Approve(pairingTopic string, accounts []string) (string, error) {
	if len(accounts) == 0 {
		return "", errorf(codeInvalid, "at least one account required")
	}

	h := a.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pairings[pairingTopic]
	if !ok || !p.paired {
		return "", errorf(codeUnknownTopic, "no paired proposal for %s", pairingTopic)
	}
	if p.session != nil {
		return "", errorf(codeInvalid, "pairing %s already has a session", pairingTopic)
	}

	p.session = &session.SessionState{
		Topic:    uuid.NewString(),
		Chains:   slices.Clone(p.proposal.Chains),
		Methods:  slices.Clone(p.proposal.Methods),
		Accounts: slices.Clone(accounts),
	}
	h.sessions[p.session.Topic] = p

	st := *p.session
	h.emit(p, newEvent(session.SessionCreated, pairingTopic, func(ev *session.Event) { ev.Session = &st }))
	h.log.Info("session approved", zap.String("session", st.Topic), zap.Int("accounts", len(accounts)))
	return st.Topic, nil
}

// Reject declines the pairing's proposal.
func (a *API) Reject(pairingTopic, reason string) error {
	h := a.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pairings[pairingTopic]
	if !ok {
		return errorf(codeUnknownTopic, "unknown pairing %s", pairingTopic)
	}
	if p.session != nil {
		return errorf(codeInvalid, "pairing %s already approved", pairingTopic)
	}
	h.teardown(p, reasonOr(reason, "rejected by signer"))
	return nil
}

// Update replaces the session's authorized accounts.
func (a *API) Update(sessionTopic string, accounts []string) error {
	h := a.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.sessions[sessionTopic]
	if !ok {
		return errorf(codeSessionClosed, "unknown session %s", sessionTopic)
	}
	p.session.Accounts = slices.Clone(accounts)

	st := *p.session
	h.emit(p, newEvent(session.SessionUpdated, p.topic, func(ev *session.Event) { ev.Session = &st }))
	return nil
}

// Disconnect deletes the session or pairing identified by topic. Pending
// requests on the session fail.
func (a *API) Disconnect(topic, reason string) error {
	h := a.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.sessions[topic]
	if !ok {
		p, ok = h.pairings[topic]
	}
	if !ok {
		return errorf(codeUnknownTopic, "unknown topic %s", topic)
	}
	h.teardown(p, reasonOr(reason, "disconnected"))
	return nil
}

// Request forwards req to the remote signer and waits for its answer.
func (a *API) Request(ctx context.Context, req session.Request) (json.RawMessage, error) {
	h := a.hub
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	h.mu.Lock()
	p, ok := h.sessions[req.Topic]
	if !ok {
		h.mu.Unlock()
		return nil, errorf(codeSessionClosed, "unknown session %s", req.Topic)
	}
	if _, dup := h.pending[req.ID]; dup {
		h.mu.Unlock()
		return nil, errorf(codeInvalid, "duplicate request id %s", req.ID)
	}
	pr := &pendingRequest{req: req, reply: make(chan reply, 1)}
	h.pending[req.ID] = pr
	if p.peer != nil && !p.peer.send(PeerEvent{Kind: PeerRequest, Request: &req}) {
		p.peer = nil
		h.log.Warn("signer subscription dropped", zap.String("session", req.Topic))
	}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, req.ID)
		h.mu.Unlock()
	}()

	timer := time.NewTimer(h.requestTimeout)
	defer timer.Stop()

	select {
	case r := <-pr.reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errorf(codeExpired, "request %s expired", req.ID)
	}
}

// Respond completes a pending request.
func (a *API) Respond(resp session.Response) error {
	h := a.hub
	h.mu.Lock()
	pr, ok := h.pending[resp.ID]
	if ok {
		delete(h.pending, resp.ID)
	}
	h.mu.Unlock()

	if !ok {
		return errorf(codeUnknownTopic, "no pending request %s", resp.ID)
	}
	if resp.Error != "" {
		pr.complete(reply{err: errorf(codeRejected, "%s", resp.Error)})
		return nil
	}
	pr.complete(reply{result: resp.Result})
	return nil
}

// teardown removes p and everything hanging off it. Caller holds h.mu.
func (h *Hub) teardown(p *pairing, reason string) {
	if p.session != nil {
		topic := p.session.Topic
		for id, pr := range h.pending {
			if pr.req.Topic == topic {
				pr.complete(reply{err: errorf(codeSessionClosed, "session %s closed: %s", topic, reason)})
				delete(h.pending, id)
			}
		}
		if p.peer != nil {
			p.peer.send(PeerEvent{Kind: PeerSessionDeleted, Reason: reason})
		}
		delete(h.sessions, topic)
	}
	h.emit(p, newEvent(session.SessionDeleted, p.topic, func(ev *session.Event) { ev.Reason = reason }))
	h.emit(p, newEvent(session.PairingDeleted, p.topic, func(ev *session.Event) { ev.Reason = reason }))
	delete(h.pairings, p.topic)
	h.log.Info("pairing removed", zap.String("pairing", p.topic), zap.String("reason", reason))
}

// emit sends ev to the wallet that opened p. Caller holds h.mu.
func (h *Hub) emit(p *pairing, ev session.Event) {
	client, ok := h.clients[p.clientID]
	if !ok {
		return
	}
	if !client.send(ev) {
		delete(h.clients, p.clientID)
		h.log.Debug("wallet subscription gone", zap.String("client", p.clientID))
	}
}

func newEvent(kind session.EventKind, pairingTopic string, fill func(*session.Event)) session.Event {
	ev := session.Event{ID: uuid.NewString(), Kind: kind, PairingTopic: pairingTopic}
	if fill != nil {
		fill(&ev)
	}
	return ev
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}

// sink queues notifications for one rpc subscription so hub state changes
// never wait on a slow connection. A subscriber that lets its queue fill up
// is cut off.
type sink struct {
	notifier *rpc.Notifier
	sub      *rpc.Subscription
	queue    chan any
	done     chan struct{}
	stalled  chan struct{}
	stall    sync.Once
}

func newSink(ctx context.Context) (*sink, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	s := &sink{
		notifier: notifier,
		sub:      notifier.CreateSubscription(),
		queue:    make(chan any, sinkBuffer),
		done:     make(chan struct{}),
		stalled:  make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *sink) run() {
	defer close(s.done)
	for {
		select {
		case v := <-s.queue:
			if err := s.notifier.Notify(s.sub.ID, v); err != nil {
				return
			}
		case <-s.sub.Err():
			return
		case <-s.stalled:
			return
		}
	}
}

// send never blocks. It reports false once the subscriber is gone or has
// been cut off for falling behind.
func (s *sink) send(v any) bool {
	select {
	case <-s.done:
		return false
	case <-s.stalled:
		return false
	default:
	}
	select {
	case s.queue <- v:
		return true
	default:
		s.stall.Do(func() { close(s.stalled) })
		return false
	}
}
