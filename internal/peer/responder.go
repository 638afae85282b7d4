// Package peer is the remote-signer side of a wallet session. A Responder
// pairs with a wallet through the relay, approves it with locally held keys
// and answers its sign requests.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/yolodolo42/wcwallet/internal/caip"
	"github.com/yolodolo42/wcwallet/internal/relay"
	"github.com/yolodolo42/wcwallet/internal/session"
	"github.com/yolodolo42/wcwallet/internal/wallet"
	"go.uber.org/zap"
)

var (
	ErrNotPaired       = errors.New("not paired")
	ErrNoSession       = errors.New("no approved session")
	ErrChainNotOffered = errors.New("chain not requested by wallet")
	ErrNoSigners       = errors.New("no signers")
)

// Broadcaster submits signed transactions. *ethclient.Client implements it.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ConfirmFunc decides whether to honour a request. Returning false answers
// it with a rejection.
type ConfirmFunc func(req session.Request) bool

type Option func(*Responder)

func WithLogger(l *zap.Logger) Option {
	return func(r *Responder) {
		if l != nil {
			r.log = l
		}
	}
}

func WithConfirm(fn ConfirmFunc) Option {
	return func(r *Responder) { r.confirm = fn }
}

// WithBroadcaster enables eth_sendTransaction.
func WithBroadcaster(b Broadcaster) Option {
	return func(r *Responder) { r.broadcaster = b }
}

// Responder answers one wallet session.
type Responder struct {
	client      *relay.Client
	chain       caip.ChainID
	log         *zap.Logger
	confirm     ConfirmFunc
	broadcaster Broadcaster

	mu           sync.Mutex
	signers      map[common.Address]wallet.Signer
	order        []common.Address
	proposal     *session.Proposal
	sessionTopic string
}

// New returns a responder that offers signers on chain.
func New(client *relay.Client, chain caip.ChainID, signers []wallet.Signer, opts ...Option) *Responder {
	r := &Responder{
		client: client,
		chain:  chain,
		log:    zap.NewNop(),
	}
	r.setSigners(signers)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Responder) setSigners(signers []wallet.Signer) {
	r.signers = make(map[common.Address]wallet.Signer, len(signers))
	r.order = r.order[:0]
	for _, s := range signers {
		if _, dup := r.signers[s.Address()]; dup {
			continue
		}
		r.signers[s.Address()] = s
		r.order = append(r.order, s.Address())
	}
}

// Accounts returns the offered accounts in CAIP-10 form.
func (r *Responder) Accounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accountsLocked()
}

func (r *Responder) accountsLocked() []string {
	out := make([]string, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, caip.Account{Address: addr, Chain: r.chain}.String())
	}
	return out
}

// SessionTopic is empty until Approve succeeds.
func (r *Responder) SessionTopic() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionTopic
}

// Pair joins the pairing in uri and returns what the wallet asked for.
func (r *Responder) Pair(ctx context.Context, uri session.PairingURI) (*session.Proposal, error) {
	p, err := r.client.Pair(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}
	r.mu.Lock()
	r.proposal = p
	r.mu.Unlock()
	r.log.Info("paired", zap.String("pairing", p.PairingTopic), zap.String("wallet", p.Metadata.Name))
	return p, nil
}

// Approve grants the wallet's proposal with every local signer.
func (r *Responder) Approve(ctx context.Context) (string, error) {
	r.mu.Lock()
	p := r.proposal
	accounts := r.accountsLocked()
	r.mu.Unlock()

	if p == nil {
		return "", ErrNotPaired
	}
	if !slices.Contains(p.Chains, r.chain.String()) {
		return "", fmt.Errorf("%w: %s not in %v", ErrChainNotOffered, r.chain, p.Chains)
	}
	if len(accounts) == 0 {
		return "", ErrNoSigners
	}

	topic, err := r.client.Approve(ctx, p.PairingTopic, accounts)
	if err != nil {
		return "", fmt.Errorf("approve: %w", err)
	}
	r.mu.Lock()
	r.sessionTopic = topic
	r.mu.Unlock()
	r.log.Info("session approved", zap.String("session", topic), zap.Strings("accounts", accounts))
	return topic, nil
}

// Reject declines the wallet's proposal.
func (r *Responder) Reject(ctx context.Context, reason string) error {
	r.mu.Lock()
	p := r.proposal
	r.mu.Unlock()
	if p == nil {
		return ErrNotPaired
	}
	if err := r.client.Reject(ctx, p.PairingTopic, reason); err != nil {
		return fmt.Errorf("reject: %w", err)
	}
	return nil
}

// Update replaces the offered signers and tells the wallet.
func (r *Responder) Update(ctx context.Context, signers []wallet.Signer) error {
	r.mu.Lock()
	r.setSigners(signers)
	accounts := r.accountsLocked()
	topic := r.sessionTopic
	r.mu.Unlock()

	if topic == "" {
		return ErrNoSession
	}
	if err := r.client.Update(ctx, topic, accounts); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// Disconnect deletes the session.
func (r *Responder) Disconnect(ctx context.Context, reason string) error {
	r.mu.Lock()
	topic := r.sessionTopic
	r.sessionTopic = ""
	r.mu.Unlock()

	if topic == "" {
		return ErrNoSession
	}
	if err := r.client.Disconnect(ctx, topic, reason); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Serve answers requests until the session is deleted (returning nil), the
// relay subscription fails or ctx ends.
func (r *Responder) Serve(ctx context.Context) error {
	topic := r.SessionTopic()
	if topic == "" {
		return ErrNoSession
	}

	ch := make(chan relay.PeerEvent, 16)
	sub, err := r.client.SubscribeRequests(ctx, topic, ch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-ch:
			switch ev.Kind {
			case relay.PeerSessionDeleted:
				r.log.Info("session deleted", zap.String("reason", ev.Reason))
				return nil
			case relay.PeerRequest:
				if ev.Request == nil {
					continue
				}
				resp := r.Handle(ctx, *ev.Request)
				if err := r.client.Respond(ctx, resp); err != nil {
					r.log.Warn("respond failed", zap.String("id", resp.ID), zap.Error(err))
				}
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type methodHandler func(r *Responder, ctx context.Context, params json.RawMessage) (any, error)

var methods = map[string]methodHandler{
	wallet.MethodPersonalSign:    (*Responder).personalSign,
	wallet.MethodSignTransaction: (*Responder).signTransaction,
	wallet.MethodSendTransaction: (*Responder).sendTransaction,
	wallet.MethodSignTypedData:   (*Responder).signTypedData,
}

// Handle executes one request and builds its response.
func (r *Responder) Handle(ctx context.Context, req session.Request) session.Response {
	resp := session.Response{ID: req.ID}
	log := r.log.With(zap.String("id", req.ID), zap.String("method", req.Method))

	h, ok := methods[req.Method]
	if !ok {
		resp.Error = fmt.Sprintf("unsupported method %s", req.Method)
		log.Warn("unsupported request")
		return resp
	}
	if r.confirm != nil && !r.confirm(req) {
		resp.Error = "user rejected request"
		log.Info("request rejected")
		return resp
	}

	out, err := h(r, ctx, req.Params)
	if err != nil {
		resp.Error = err.Error()
		log.Warn("request failed", zap.Error(err))
		return resp
	}
	raw, err := json.Marshal(out)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Result = raw
	log.Debug("request answered")
	return resp
}

func (r *Responder) signer(addr common.Address) (wallet.Signer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.signers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", wallet.ErrUnknownAddress, addr.Hex())
	}
	return s, nil
}

func (r *Responder) personalSign(ctx context.Context, params json.RawMessage) (any, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 2 {
		return nil, errors.New("personal_sign expects [data, address]")
	}
	var data hexutil.Bytes
	if err := json.Unmarshal(args[0], &data); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	var addr common.Address
	if err := json.Unmarshal(args[1], &addr); err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}

	s, err := r.signer(addr)
	if err != nil {
		return nil, err
	}
	sig, err := s.SignMessage(ctx, data)
	if err != nil {
		return nil, err
	}
	return hexutil.Bytes(sig), nil
}

func (r *Responder) signTypedData(ctx context.Context, params json.RawMessage) (any, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 2 {
		return nil, errors.New("eth_signTypedData expects [address, typedData]")
	}
	var addr common.Address
	if err := json.Unmarshal(args[0], &addr); err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(args[1], &td); err != nil {
		return nil, fmt.Errorf("typed data: %w", err)
	}

	s, err := r.signer(addr)
	if err != nil {
		return nil, err
	}
	sig, err := s.SignTypedData(ctx, td)
	if err != nil {
		return nil, err
	}
	return hexutil.Bytes(sig), nil
}

func (r *Responder) signTransaction(ctx context.Context, params json.RawMessage) (any, error) {
	signed, err := r.sign(ctx, params)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return hexutil.Bytes(raw), nil
}

func (r *Responder) sendTransaction(ctx context.Context, params json.RawMessage) (any, error) {
	if r.broadcaster == nil {
		return nil, errors.New("eth_sendTransaction needs a chain connection")
	}
	signed, err := r.sign(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := r.broadcaster.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	return signed.Hash(), nil
}

func (r *Responder) sign(ctx context.Context, params json.RawMessage) (*types.Transaction, error) {
	var args []wallet.TxArgs
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, errors.New("expected [transaction]")
	}
	tx, chainID, err := r.buildTx(args[0])
	if err != nil {
		return nil, err
	}
	s, err := r.signer(args[0].From)
	if err != nil {
		return nil, err
	}
	return s.SignTransaction(ctx, tx, chainID)
}

// buildTx turns wallet-supplied arguments back into a transaction. Fee market
// fields select an EIP-1559 transaction.
func (r *Responder) buildTx(a wallet.TxArgs) (*types.Transaction, *big.Int, error) {
	chainID := r.chain.EVMChainID()
	if a.ChainID != nil {
		chainID = a.ChainID.ToInt()
	}
	if chainID == nil {
		return nil, nil, fmt.Errorf("no evm chain id for %s", r.chain)
	}
	value := new(big.Int)
	if a.Value != nil {
		value = a.Value.ToInt()
	}

	if a.MaxFeePerGas != nil {
		tip := new(big.Int)
		if a.MaxPriorityFeePerGas != nil {
			tip = a.MaxPriorityFeePerGas.ToInt()
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     uint64(a.Nonce),
			GasTipCap: tip,
			GasFeeCap: a.MaxFeePerGas.ToInt(),
			Gas:       uint64(a.Gas),
			To:        a.To,
			Value:     value,
			Data:      a.Data,
		}), chainID, nil
	}
	if a.GasPrice == nil {
		return nil, nil, errors.New("transaction has no gas price")
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    uint64(a.Nonce),
		GasPrice: a.GasPrice.ToInt(),
		Gas:      uint64(a.Gas),
		To:       a.To,
		Value:    value,
		Data:     a.Data,
	}), chainID, nil
}
