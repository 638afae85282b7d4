package tx

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/yolodolo42/wcwallet/internal/chain"
)

var (
	ErrValueMissing = errors.New("value missing")
	ErrDenied       = errors.New("destination denied by policy")
	ErrNotAllowed   = errors.New("destination not in allowlist")
	ErrOverLimit    = errors.New("value exceeds max per tx limit")
)

// Intent captures a state-changing transaction the user wants to perform.
type Intent struct {
	Chain       string         // chain name (e.g., "alfajores")
	From        common.Address // remote account that will sign
	To          common.Address // recipient
	ValueWei    *big.Int       // native value
	Data        []byte         // calldata (empty for native send)
	Nonce       *uint64        // optional override
	GasLimit    *uint64        // optional override
	MaxFeePerG  *big.Int       // optional override
	MaxPriority *big.Int       // optional override
}

// Policy enforces safety constraints before a transaction is sent for
// signing.
type Policy struct {
	MaxPerTxWei *big.Int
	AllowTo     []common.Address
	DenyTo      []common.Address
}

// SuggestedFees carries gas estimates so the caller can render them.
type SuggestedFees struct {
	GasLimit         uint64
	MaxFeePerGas     *big.Int
	MaxPriorityFee   *big.Int
	EstimatedCostWei *big.Int
}

// Validate applies allow/deny lists and spend limits.
func Validate(intent Intent, policy Policy) error {
	if intent.ValueWei == nil {
		return ErrValueMissing
	}
	if slices.Contains(policy.DenyTo, intent.To) {
		return ErrDenied
	}
	if len(policy.AllowTo) > 0 && !slices.Contains(policy.AllowTo, intent.To) {
		return ErrNotAllowed
	}
	if policy.MaxPerTxWei != nil && intent.ValueWei.Cmp(policy.MaxPerTxWei) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrOverLimit, intent.ValueWei, policy.MaxPerTxWei)
	}
	return nil
}

// ChainReader is the subset of chain.Client needed to prepare a transaction.
type ChainReader interface {
	GetChainConfig(chainName string) (*chain.ChainConfig, error)
	GetNonce(ctx context.Context, chainName string, address common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context, chainName string) (*big.Int, error)
	SuggestGasPrice(ctx context.Context, chainName string) (*big.Int, error)
	EstimateGas(ctx context.Context, chainName string, msg ethereum.CallMsg) (uint64, error)
}

// BuildUnsignedTx prepares an unsigned EIP-1559 transaction for the remote
// signer. Overrides in intent skip the corresponding RPC lookups.
func BuildUnsignedTx(ctx context.Context, cc ChainReader, intent Intent) (*types.Transaction, SuggestedFees, error) {
	if intent.ValueWei == nil {
		return nil, SuggestedFees{}, ErrValueMissing
	}
	cfg, err := cc.GetChainConfig(intent.Chain)
	if err != nil {
		return nil, SuggestedFees{}, err
	}

	var nonce uint64
	if intent.Nonce != nil {
		nonce = *intent.Nonce
	} else {
		n, err := cc.GetNonce(ctx, intent.Chain, intent.From)
		if err != nil {
			return nil, SuggestedFees{}, fmt.Errorf("nonce: %w", err)
		}
		nonce = n
	}

	maxFee := intent.MaxFeePerG
	maxPrio := intent.MaxPriority
	if maxPrio == nil {
		tip, err := cc.SuggestGasTipCap(ctx, intent.Chain)
		if err != nil {
			return nil, SuggestedFees{}, fmt.Errorf("tip cap: %w", err)
		}
		maxPrio = tip
	}
	if maxFee == nil {
		price, err := cc.SuggestGasPrice(ctx, intent.Chain)
		if err != nil {
			return nil, SuggestedFees{}, fmt.Errorf("gas price: %w", err)
		}
		// Leave headroom for one base fee doubling.
		maxFee = new(big.Int).Add(new(big.Int).Mul(price, big.NewInt(2)), maxPrio)
	}

	var gasLimit uint64
	if intent.GasLimit != nil {
		gasLimit = *intent.GasLimit
	} else {
		gl, err := cc.EstimateGas(ctx, intent.Chain, ethereum.CallMsg{
			From:      intent.From,
			To:        &intent.To,
			GasFeeCap: maxFee,
			GasTipCap: maxPrio,
			Value:     intent.ValueWei,
			Data:      intent.Data,
		})
		if err != nil {
			return nil, SuggestedFees{}, fmt.Errorf("estimate gas: %w", err)
		}
		gasLimit = gl
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(cfg.ChainID),
		Nonce:     nonce,
		GasTipCap: maxPrio,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &intent.To,
		Value:     intent.ValueWei,
		Data:      intent.Data,
	})

	total := new(big.Int).Mul(maxFee, new(big.Int).SetUint64(gasLimit))
	total.Add(total, intent.ValueWei)

	return tx, SuggestedFees{
		GasLimit:         gasLimit,
		MaxFeePerGas:     maxFee,
		MaxPriorityFee:   maxPrio,
		EstimatedCostWei: total,
	}, nil
}
