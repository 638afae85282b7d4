package wallet

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yolodolo42/wcwallet/internal/caip"
	"github.com/yolodolo42/wcwallet/internal/session"
	"go.uber.org/zap"
)

// Registry maps addresses advertised by the active session to RemoteSigner
// handles. Readers always see a complete snapshot.
type Registry struct {
	log         *zap.Logger
	signTimeout time.Duration
	current     atomic.Pointer[snapshot]
}

type snapshot struct {
	order   []common.Address
	signers map[string]*RemoteSigner
}

var emptySnapshot = &snapshot{signers: map[string]*RemoteSigner{}}

// NewRegistry returns an empty registry. Signers it creates time out after
// signTimeout.
func NewRegistry(log *zap.Logger, signTimeout time.Duration) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{log: log, signTimeout: signTimeout}
	r.current.Store(emptySnapshot)
	return r
}

// Populate replaces the mapping with signers for accounts, bound to sess.
// Malformed entries are logged and dropped; for a repeated address the first
// entry wins. A nil or closed session clears the registry.
func (r *Registry) Populate(req Requester, sess *session.Session, accounts []string) {
	if sess == nil || sess.Closed() {
		r.Clear()
		return
	}

	parsed, errs := caip.ParseAccounts(accounts)
	for _, err := range errs {
		r.log.Warn("dropping malformed account", zap.String("session", sess.Topic()), zap.Error(err))
	}

	next := &snapshot{signers: make(map[string]*RemoteSigner, len(parsed))}
	for _, acc := range parsed {
		key := acc.Key()
		if _, dup := next.signers[key]; dup {
			r.log.Debug("ignoring duplicate account", zap.String("account", acc.String()))
			continue
		}
		next.signers[key] = NewRemoteSigner(req, sess, acc, r.signTimeout)
		next.order = append(next.order, acc.Address)
	}
	r.current.Store(next)
	r.log.Info("registry populated", zap.String("session", sess.Topic()), zap.Int("signers", len(next.order)))
}

// Lookup returns the signer for addr. Signers whose session has closed are
// reported as missing.
func (r *Registry) Lookup(addr common.Address) (*RemoteSigner, bool) {
	s, ok := r.current.Load().signers[caip.NormalizeAddress(addr)]
	if !ok || !s.Live() {
		return nil, false
	}
	return s, true
}

func (r *Registry) Clear() {
	if r.current.Swap(emptySnapshot) != emptySnapshot {
		r.log.Info("registry cleared")
	}
}

// Addresses lists registered addresses in the order the session advertised
// them.
func (r *Registry) Addresses() []common.Address {
	return slices.Clone(r.current.Load().order)
}

func (r *Registry) Len() int {
	return len(r.current.Load().order)
}
