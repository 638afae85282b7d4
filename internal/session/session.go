package session

import (
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yolodolo42/wcwallet/internal/caip"
)

// Session is an authorized link to a remote signer. Its permissions and
// accounts change on session updates; it is closed exactly once.
type Session struct {
	topic        string
	pairingTopic string

	mu       sync.RWMutex
	chains   []string
	methods  []string
	accounts []string
	reason   string

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(pairingTopic string, st *SessionState) *Session {
	s := &Session{
		topic:        st.Topic,
		pairingTopic: pairingTopic,
		done:         make(chan struct{}),
	}
	s.update(st)
	return s
}

// Topic identifies the session on the relay.
func (s *Session) Topic() string { return s.topic }

// PairingTopic identifies the pairing the session was negotiated over.
func (s *Session) PairingTopic() string { return s.pairingTopic }

func (s *Session) Chains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chains)
}

func (s *Session) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.methods)
}

// Accounts returns the chain-qualified account strings as advertised.
func (s *Session) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.accounts)
}

// Authorizes reports whether addr is in the current account list.
func (s *Session) Authorizes(addr common.Address) bool {
	for _, raw := range s.Accounts() {
		acc, err := caip.ParseAccount(raw)
		if err == nil && acc.Address == addr {
			return true
		}
	}
	return false
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason is the teardown reason, empty while the session is open.
func (s *Session) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

func (s *Session) update(st *SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains = slices.Clone(st.Chains)
	s.methods = slices.Clone(st.Methods)
	s.accounts = slices.Clone(st.Accounts)
}

func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}
