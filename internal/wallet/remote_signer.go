package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
	"weak"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/yolodolo42/wcwallet/internal/caip"
	"github.com/yolodolo42/wcwallet/internal/session"
)

// JSON-RPC methods forwarded to the remote signer.
const (
	MethodSignTransaction = "eth_signTransaction"
	MethodSendTransaction = "eth_sendTransaction"
	MethodPersonalSign    = "personal_sign"
	MethodSignTypedData   = "eth_signTypedData"
)

// Requester routes a request over a session. *session.Negotiator implements
// it.
type Requester interface {
	Request(ctx context.Context, sess *session.Session, chain caip.ChainID, method string, params, result any) error
}

var _ Signer = (*RemoteSigner)(nil)

// RemoteSigner forwards signing for one address to the session that
// authorized it. It holds no key material and does not keep the session
// alive.
type RemoteSigner struct {
	account   caip.Account
	session   weak.Pointer[session.Session]
	requester Requester
	timeout   time.Duration
}

// NewRemoteSigner binds account to sess. A zero timeout waits as long as ctx
// allows.
func NewRemoteSigner(req Requester, sess *session.Session, account caip.Account, timeout time.Duration) *RemoteSigner {
	return &RemoteSigner{
		account:   account,
		session:   weak.Make(sess),
		requester: req,
		timeout:   timeout,
	}
}

func (s *RemoteSigner) Address() common.Address {
	return s.account.Address
}

func (s *RemoteSigner) Chain() caip.ChainID {
	return s.account.Chain
}

// Live reports whether the bound session is still open.
func (s *RemoteSigner) Live() bool {
	sess := s.session.Value()
	return sess != nil && !sess.Closed()
}

// TxArgs is the eth_signTransaction parameter object.
type TxArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Data                 hexutil.Bytes   `json:"data"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

// NewTxArgs describes tx as sent by from.
func NewTxArgs(tx *types.Transaction, from common.Address, chainID *big.Int) TxArgs {
	args := TxArgs{
		From:  from,
		To:    tx.To(),
		Gas:   hexutil.Uint64(tx.Gas()),
		Value: (*hexutil.Big)(tx.Value()),
		Nonce: hexutil.Uint64(tx.Nonce()),
		Data:  tx.Data(),
	}
	if chainID != nil {
		args.ChainID = (*hexutil.Big)(chainID)
	}
	if tx.Type() == types.LegacyTxType || tx.Type() == types.AccessListTxType {
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
	} else {
		args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	}
	return args
}

// SignTransaction asks the remote signer to sign tx and decodes the raw
// transaction it returns.
func (s *RemoteSigner) SignTransaction(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if chainID == nil {
		chainID = s.account.Chain.EVMChainID()
	}
	var raw hexutil.Bytes
	args := NewTxArgs(tx, s.account.Address, chainID)
	if err := s.call(ctx, MethodSignTransaction, []any{args}, &raw); err != nil {
		return nil, err
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return signed, nil
}

// SignMessage requests an EIP-191 personal_sign signature.
func (s *RemoteSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := s.call(ctx, MethodPersonalSign, []any{hexutil.Bytes(message), s.account.Address}, &sig); err != nil {
		return nil, err
	}
	return sig, nil
}

// SignTypedData requests an EIP-712 signature.
func (s *RemoteSigner) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	var sig hexutil.Bytes
	if err := s.call(ctx, MethodSignTypedData, []any{s.account.Address, typedData}, &sig); err != nil {
		return nil, err
	}
	return sig, nil
}

func (s *RemoteSigner) call(ctx context.Context, method string, params, result any) error {
	sess := s.session.Value()
	if sess == nil || sess.Closed() {
		return fmt.Errorf("%s: %w", method, ErrSessionClosed)
	}
	if !sess.Authorizes(s.account.Address) {
		return fmt.Errorf("%s: %w: %s no longer authorized", method, ErrUnknownAddress, s.account.Address.Hex())
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := s.requester.Request(callCtx, sess, s.account.Chain, method, params, result)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w", method, ErrSignTimeout)
	}
	return err
}
