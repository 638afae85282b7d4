package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testAccount  = "celo:44787:0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	otherAccount = "celo:44787:0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

// fakeTransport is an in-memory relay that lets tests drive lifecycle events
// by hand.
type fakeTransport struct {
	mu           sync.Mutex
	feed         event.Feed
	subscribeErr error
	connectErr   error
	connects     []ConnectParams
	requests     []Request
	disconnects  []string
	topic        string
	respond      func(ctx context.Context, req Request) (any, error)
	n            int
}

func (f *fakeTransport) Subscribe(_ context.Context, _ string, sink chan<- Event) (event.Subscription, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.feed.Subscribe(sink), nil
}

func (f *fakeTransport) Connect(_ context.Context, p ConnectParams) (*ConnectResult, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.mu.Lock()
	f.n++
	f.topic = fmt.Sprintf("pairing-%d", f.n)
	f.connects = append(f.connects, p)
	topic := f.topic
	f.mu.Unlock()

	uri := PairingURI("wc:" + topic + "@2?relay-protocol=rpc")
	f.emit(Event{ID: topic + "-proposal", Kind: PairingProposal, PairingTopic: topic, URI: uri})
	return &ConnectResult{PairingTopic: topic, URI: uri}, nil
}

func (f *fakeTransport) Request(ctx context.Context, req Request, result any) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return errors.New("no responder")
	}
	out, err := respond(ctx, req)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (f *fakeTransport) Disconnect(_ context.Context, topic, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, topic)
	return nil
}

func (f *fakeTransport) emit(ev Event) {
	f.feed.Send(ev)
}

func (f *fakeTransport) pairing() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topic
}

func (f *fakeTransport) dropped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

func (f *fakeTransport) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testConfig() Config {
	return Config{
		Chains:  []string{"celo:44787"},
		Methods: []string{"eth_sendTransaction"},
		Timeout: 2 * time.Second,
	}
}

func waitState(t *testing.T, n *Negotiator, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return n.State() == want }, time.Second, 5*time.Millisecond,
		"state never became %s (is %s)", want, n.State())
}

// activate walks a negotiator through pairing and session creation.
func activate(t *testing.T, f *fakeTransport, n *Negotiator, accounts ...string) []string {
	t.Helper()
	_, err := n.Initiate(context.Background(), testConfig())
	require.NoError(t, err)

	topic := f.pairing()
	f.emit(Event{ID: "pc", Kind: PairingCreated, PairingTopic: topic})
	f.emit(Event{ID: "sp", Kind: SessionProposal, PairingTopic: topic})
	f.emit(Event{ID: "sc", Kind: SessionCreated, PairingTopic: topic, Session: &SessionState{
		Topic:    "session-1",
		Chains:   []string{"celo:44787"},
		Methods:  []string{"eth_sendTransaction"},
		Accounts: accounts,
	}})
	waitState(t, n, SessionActive)
	return accounts
}

func TestNegotiator_Initiate(t *testing.T) {
	t.Run("returns uri and delivers it once", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		t.Cleanup(n.Close)

		var delivered []PairingURI
		cfg := testConfig()
		cfg.OnURI = func(u PairingURI) { delivered = append(delivered, u) }

		uri, err := n.Initiate(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, PairingURI("wc:pairing-1@2?relay-protocol=rpc"), uri)
		assert.Equal(t, []PairingURI{uri}, delivered)
		assert.Equal(t, Pairing, n.State())

		require.Len(t, f.connects, 1)
		assert.Equal(t, []string{"celo:44787"}, f.connects[0].Chains)
		assert.Equal(t, []string{"eth_sendTransaction"}, f.connects[0].Methods)
		assert.Equal(t, n.ClientID(), f.connects[0].ClientID)
	})

	t.Run("second initiate fails", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		t.Cleanup(n.Close)

		_, err := n.Initiate(context.Background(), testConfig())
		require.NoError(t, err)
		_, err = n.Initiate(context.Background(), testConfig())
		assert.ErrorIs(t, err, ErrAlreadyInitiated)
	})

	t.Run("separate negotiations get separate uris", func(t *testing.T) {
		f := &fakeTransport{}
		a, b := NewNegotiator(f), NewNegotiator(f)
		t.Cleanup(a.Close)
		t.Cleanup(b.Close)

		uriA, err := a.Initiate(context.Background(), testConfig())
		require.NoError(t, err)
		uriB, err := b.Initiate(context.Background(), testConfig())
		require.NoError(t, err)
		assert.NotEqual(t, uriA, uriB)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		n := NewNegotiator(&fakeTransport{})
		_, err := n.Initiate(context.Background(), Config{Methods: []string{"personal_sign"}})
		assert.ErrorIs(t, err, ErrInvalidConfig)

		_, err = n.Initiate(context.Background(), Config{Chains: []string{"nope"}, Methods: []string{"personal_sign"}})
		assert.ErrorIs(t, err, ErrInvalidConfig)

		_, err = n.Initiate(context.Background(), Config{Chains: []string{"celo:44787"}})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("connect failure is transport unavailable", func(t *testing.T) {
		f := &fakeTransport{connectErr: errors.New("dial tcp: connection refused")}
		n := NewNegotiator(f)

		_, err := n.Initiate(context.Background(), testConfig())
		assert.ErrorIs(t, err, ErrTransportUnavailable)
		assert.Equal(t, Closed, n.State())
	})

	t.Run("subscribe failure is transport unavailable", func(t *testing.T) {
		f := &fakeTransport{subscribeErr: errors.New("eof")}
		n := NewNegotiator(f)

		_, err := n.Initiate(context.Background(), testConfig())
		assert.ErrorIs(t, err, ErrTransportUnavailable)
		assert.Empty(t, f.connects)
	})
}

func TestNegotiator_AwaitAccounts(t *testing.T) {
	t.Run("returns approved accounts in order", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		f := &fakeTransport{}
		n := NewNegotiator(f, WithLogger(zap.New(core)))
		t.Cleanup(n.Close)

		activate(t, f, n, testAccount, "not-an-account", otherAccount)

		accounts, err := n.AwaitAccounts(context.Background())
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), accounts[0].Address)
		assert.Equal(t, "celo:44787", accounts[0].Chain.String())
		assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), accounts[1].Address)
		assert.Equal(t, 1, logs.FilterMessage("dropping malformed account").Len())
	})

	t.Run("before initiate", func(t *testing.T) {
		n := NewNegotiator(&fakeTransport{})
		_, err := n.AwaitAccounts(context.Background())
		assert.ErrorIs(t, err, ErrNotInitiated)
	})

	t.Run("times out without approval", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		cfg := testConfig()
		cfg.Timeout = 50 * time.Millisecond

		_, err := n.Initiate(context.Background(), cfg)
		require.NoError(t, err)

		_, err = n.AwaitAccounts(context.Background())
		assert.ErrorIs(t, err, ErrNegotiationTimeout)
		assert.Equal(t, Closed, n.State())
		assert.Equal(t, []string{f.pairing()}, f.dropped())
	})

	t.Run("caller cancellation is not a timeout", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		t.Cleanup(n.Close)
		_, err := n.Initiate(context.Background(), testConfig())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = n.AwaitAccounts(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrNegotiationTimeout)
	})

	t.Run("abandoned wait closes and drops the pairing", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		_, err := n.Initiate(context.Background(), testConfig())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err = n.AwaitAccounts(ctx)
		require.ErrorIs(t, err, context.Canceled)

		assert.Equal(t, Closed, n.State())
		assert.Equal(t, []string{f.pairing()}, f.dropped())

		// A late approval for the dropped pairing changes nothing.
		topic := f.pairing()
		f.emit(Event{ID: "pc", Kind: PairingCreated, PairingTopic: topic})
		f.emit(Event{ID: "sc", Kind: SessionCreated, PairingTopic: topic, Session: &SessionState{
			Topic:    "session-1",
			Accounts: []string{testAccount},
		}})
		assert.Equal(t, Closed, n.State())
		assert.Nil(t, n.Session())
	})

	t.Run("remote rejection", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		_, err := n.Initiate(context.Background(), testConfig())
		require.NoError(t, err)

		topic := f.pairing()
		f.emit(Event{ID: "pc", Kind: PairingCreated, PairingTopic: topic})
		f.emit(Event{ID: "sd", Kind: SessionDeleted, PairingTopic: topic, Reason: "user declined"})

		_, err = n.AwaitAccounts(context.Background())
		assert.ErrorIs(t, err, ErrNegotiationRejected)
		assert.Contains(t, err.Error(), "user declined")
		assert.Equal(t, Closed, n.State())
	})

	t.Run("pairing deleted before approval is a rejection", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		_, err := n.Initiate(context.Background(), testConfig())
		require.NoError(t, err)

		f.emit(Event{ID: "pd", Kind: PairingDeleted, PairingTopic: f.pairing()})

		_, err = n.AwaitAccounts(context.Background())
		assert.ErrorIs(t, err, ErrNegotiationRejected)
	})
}

func TestNegotiator_EventOrdering(t *testing.T) {
	t.Run("session created before pairing created is rejected", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		f := &fakeTransport{}
		n := NewNegotiator(f, WithLogger(zap.New(core)))
		t.Cleanup(n.Close)
		_, err := n.Initiate(context.Background(), testConfig())
		require.NoError(t, err)

		f.emit(Event{ID: "early", Kind: SessionCreated, PairingTopic: f.pairing(), Session: &SessionState{
			Topic: "session-1", Accounts: []string{testAccount},
		}})

		require.Eventually(t, func() bool {
			return logs.FilterMessage("rejecting out of order event").Len() == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, Pairing, n.State())
		assert.Nil(t, n.Session())
	})

	t.Run("duplicate events are applied once", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		f := &fakeTransport{}
		n := NewNegotiator(f, WithLogger(zap.New(core)))
		t.Cleanup(n.Close)
		activate(t, f, n, testAccount)

		update := Event{ID: "su-1", Kind: SessionUpdated, PairingTopic: f.pairing(), Session: &SessionState{
			Topic: "session-1", Accounts: []string{otherAccount},
		}}
		f.emit(update)
		f.emit(update)

		require.Eventually(t, func() bool {
			return logs.FilterMessage("ignoring duplicate event").Len() == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{otherAccount}, n.Session().Accounts())
	})

	t.Run("events for other pairings are ignored", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		t.Cleanup(n.Close)
		_, err := n.Initiate(context.Background(), testConfig())
		require.NoError(t, err)

		f.emit(Event{ID: "x", Kind: PairingCreated, PairingTopic: "someone-else"})
		f.emit(Event{ID: "y", Kind: PairingCreated, PairingTopic: f.pairing()})
		waitState(t, n, Paired)
	})

	t.Run("update for unknown session is rejected", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		t.Cleanup(n.Close)
		activate(t, f, n, testAccount)

		f.emit(Event{ID: "bad", Kind: SessionUpdated, PairingTopic: f.pairing(), Session: &SessionState{
			Topic: "session-9", Accounts: []string{otherAccount},
		}})
		f.emit(Event{ID: "marker", Kind: PairingUpdated, PairingTopic: f.pairing()})
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, []string{testAccount}, n.Session().Accounts())
	})
}

func TestNegotiator_SessionLifecycle(t *testing.T) {
	t.Run("subscribers see activation, change and end", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		ch := make(chan SessionEvent, 8)
		sub := n.Subscribe(ch)
		t.Cleanup(sub.Unsubscribe)

		activate(t, f, n, testAccount)
		f.emit(Event{ID: "su", Kind: SessionUpdated, PairingTopic: f.pairing(), Session: &SessionState{
			Topic: "session-1", Accounts: []string{testAccount, otherAccount},
		}})
		f.emit(Event{ID: "sd", Kind: SessionDeleted, PairingTopic: f.pairing(), Reason: "bye"})

		var kinds []SessionEventKind
		for len(kinds) < 3 {
			select {
			case ev := <-ch:
				kinds = append(kinds, ev.Kind)
			case <-time.After(time.Second):
				t.Fatalf("only got %v", kinds)
			}
		}
		assert.Equal(t, []SessionEventKind{SessionActivated, SessionChanged, SessionEnded}, kinds)
		assert.Equal(t, Closed, n.State())
	})

	t.Run("pairing deletion keeps an active session", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		t.Cleanup(n.Close)
		activate(t, f, n, testAccount)

		f.emit(Event{ID: "pd", Kind: PairingDeleted, PairingTopic: f.pairing()})
		f.emit(Event{ID: "pu", Kind: PairingUpdated, PairingTopic: f.pairing()})
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, SessionActive, n.State())
		assert.NotNil(t, n.Session())
	})

	t.Run("deleted session fails requests", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		activate(t, f, n, testAccount)
		sess := n.Session()

		f.emit(Event{ID: "sd", Kind: SessionDeleted, PairingTopic: f.pairing()})
		waitState(t, n, Closed)

		assert.True(t, sess.Closed())
		assert.Equal(t, "session deleted", sess.Reason())
		err := n.Request(context.Background(), sess, "celo:44787", "personal_sign", []string{"0x00"}, new(string))
		assert.ErrorIs(t, err, ErrSessionClosed)
		assert.Zero(t, f.requestCount())
	})

	t.Run("pending request fails when session is deleted", func(t *testing.T) {
		f := &fakeTransport{}
		started := make(chan struct{})
		f.respond = func(ctx context.Context, _ Request) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		n := NewNegotiator(f)
		activate(t, f, n, testAccount)
		sess := n.Session()

		errc := make(chan error, 1)
		go func() {
			var out string
			errc <- n.Request(context.Background(), sess, "celo:44787", "personal_sign", []string{"0x00"}, &out)
		}()

		<-started
		f.emit(Event{ID: "sd", Kind: SessionDeleted, PairingTopic: f.pairing()})

		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrSessionClosed)
		case <-time.After(time.Second):
			t.Fatal("request did not fail after session deletion")
		}
	})

	t.Run("request carries session topic and chain", func(t *testing.T) {
		f := &fakeTransport{}
		f.respond = func(_ context.Context, req Request) (any, error) {
			return "0xsig-" + req.Method, nil
		}
		n := NewNegotiator(f)
		t.Cleanup(n.Close)
		activate(t, f, n, testAccount)

		var out string
		err := n.Request(context.Background(), n.Session(), "celo:44787", "personal_sign", []string{"0x00"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "0xsig-personal_sign", out)

		require.Len(t, f.requests, 1)
		assert.Equal(t, "session-1", f.requests[0].Topic)
		assert.Equal(t, "celo:44787", f.requests[0].ChainID)
		assert.JSONEq(t, `["0x00"]`, string(f.requests[0].Params))
		assert.NotEmpty(t, f.requests[0].ID)
	})

	t.Run("disconnect notifies relay and closes", func(t *testing.T) {
		f := &fakeTransport{}
		n := NewNegotiator(f)
		activate(t, f, n, testAccount)
		sess := n.Session()

		require.NoError(t, n.Disconnect(context.Background()))
		assert.Equal(t, []string{"session-1"}, f.disconnects)
		assert.Equal(t, Closed, n.State())
		assert.True(t, sess.Closed())

		require.NoError(t, n.Disconnect(context.Background()))
		assert.Len(t, f.disconnects, 1)
	})
}
