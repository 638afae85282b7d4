package tx

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/wcwallet/internal/chain"
)

type fakeChain struct {
	nonce     uint64
	tip       *big.Int
	price     *big.Int
	gas       uint64
	gasErr    error
	estimated *ethereum.CallMsg
}

func (f *fakeChain) GetChainConfig(name string) (*chain.ChainConfig, error) {
	cfg, ok := chain.DefaultChains()[name]
	if !ok {
		return nil, errors.New("unknown chain: " + name)
	}
	return cfg, nil
}

func (f *fakeChain) GetNonce(context.Context, string, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context, string) (*big.Int, error) {
	return f.tip, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context, string) (*big.Int, error) {
	return f.price, nil
}

func (f *fakeChain) EstimateGas(_ context.Context, _ string, msg ethereum.CallMsg) (uint64, error) {
	f.estimated = &msg
	return f.gas, f.gasErr
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestValidate(t *testing.T) {
	intent := Intent{To: bob, ValueWei: big.NewInt(100)}

	t.Run("no policy", func(t *testing.T) {
		assert.NoError(t, Validate(intent, Policy{}))
	})

	t.Run("value required", func(t *testing.T) {
		assert.ErrorIs(t, Validate(Intent{To: bob}, Policy{}), ErrValueMissing)
	})

	t.Run("deny list", func(t *testing.T) {
		assert.ErrorIs(t, Validate(intent, Policy{DenyTo: []common.Address{bob}}), ErrDenied)
	})

	t.Run("allow list", func(t *testing.T) {
		assert.ErrorIs(t, Validate(intent, Policy{AllowTo: []common.Address{alice}}), ErrNotAllowed)
		assert.NoError(t, Validate(intent, Policy{AllowTo: []common.Address{alice, bob}}))
	})

	t.Run("spend limit", func(t *testing.T) {
		assert.ErrorIs(t, Validate(intent, Policy{MaxPerTxWei: big.NewInt(99)}), ErrOverLimit)
		assert.NoError(t, Validate(intent, Policy{MaxPerTxWei: big.NewInt(100)}))
	})
}

func TestBuildUnsignedTx(t *testing.T) {
	ctx := context.Background()

	t.Run("fills nonce fees and gas", func(t *testing.T) {
		fc := &fakeChain{nonce: 9, tip: big.NewInt(2), price: big.NewInt(10), gas: 21000}
		tx, fees, err := BuildUnsignedTx(ctx, fc, Intent{Chain: "alfajores", From: alice, To: bob, ValueWei: big.NewInt(5)})
		require.NoError(t, err)

		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
		assert.Equal(t, int64(44787), tx.ChainId().Int64())
		assert.Equal(t, uint64(9), tx.Nonce())
		assert.Equal(t, uint64(21000), tx.Gas())
		assert.Equal(t, int64(2), tx.GasTipCap().Int64())
		assert.Equal(t, int64(22), tx.GasFeeCap().Int64())
		assert.Equal(t, bob, *tx.To())

		assert.Equal(t, int64(22*21000+5), fees.EstimatedCostWei.Int64())
		require.NotNil(t, fc.estimated)
		assert.Equal(t, alice, fc.estimated.From)
	})

	t.Run("overrides skip lookups", func(t *testing.T) {
		nonce, gas := uint64(1), uint64(50000)
		fc := &fakeChain{gasErr: errors.New("should not estimate")}
		tx, _, err := BuildUnsignedTx(ctx, fc, Intent{
			Chain:       "alfajores",
			From:        alice,
			To:          bob,
			ValueWei:    big.NewInt(1),
			Nonce:       &nonce,
			GasLimit:    &gas,
			MaxFeePerG:  big.NewInt(30),
			MaxPriority: big.NewInt(3),
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), tx.Nonce())
		assert.Equal(t, uint64(50000), tx.Gas())
		assert.Equal(t, int64(30), tx.GasFeeCap().Int64())
		assert.Nil(t, fc.estimated)
	})

	t.Run("unknown chain", func(t *testing.T) {
		_, _, err := BuildUnsignedTx(ctx, &fakeChain{}, Intent{Chain: "nowhere", ValueWei: big.NewInt(1)})
		assert.Error(t, err)
	})

	t.Run("estimate failure", func(t *testing.T) {
		fc := &fakeChain{tip: big.NewInt(1), price: big.NewInt(1), gasErr: errors.New("execution reverted")}
		_, _, err := BuildUnsignedTx(ctx, fc, Intent{Chain: "alfajores", From: alice, To: bob, ValueWei: big.NewInt(1)})
		assert.ErrorContains(t, err, "execution reverted")
	})
}
