package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is the interface for signing transactions and messages.
// Different implementations support different key management strategies.
type Signer interface {
	// Address returns the Ethereum address of the signer
	Address() common.Address

	// SignTransaction signs a transaction with the given chain ID
	SignTransaction(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)

	// SignMessage signs an arbitrary message (EIP-191 personal sign)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// SignTypedData signs EIP-712 typed data
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
}
