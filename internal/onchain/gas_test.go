package onchain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-scanner/internal/spread"
)

type fakeChain struct {
	gasPrice *big.Int
	gasErr   error
	answer   *big.Int
	places   uint8
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, f.gasErr
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch {
	case bytes.HasPrefix(msg.Data, aggregatorABI.Methods["decimals"].ID):
		return aggregatorABI.Methods["decimals"].Outputs.Pack(f.places)
	case bytes.HasPrefix(msg.Data, aggregatorABI.Methods["latestRoundData"].ID):
		return aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
			big.NewInt(1), f.answer, big.NewInt(0), big.NewInt(0), big.NewInt(1))
	}
	return nil, errors.New("unexpected call")
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestTransferCostWithStaticPrice(t *testing.T) {
	oracle := NewGasOracleWithReader(&fakeChain{gasPrice: gwei(20)}, Options{
		GasLimit:    50000,
		NativePrice: decimal.NewFromInt(3000),
	}, zerolog.Nop())

	cost, err := oracle.TransferCost(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3", cost.String())
}

func TestTransferCostWithPriceFeed(t *testing.T) {
	chain := &fakeChain{gasPrice: gwei(10), answer: big.NewInt(250000000000), places: 8}
	oracle := NewGasOracleWithReader(chain, Options{
		GasLimit:  100000,
		PriceFeed: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
	}, zerolog.Nop())

	cost, err := oracle.TransferCost(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.5", cost.String())
}

func TestAdjustReplacesMatchingRows(t *testing.T) {
	oracle := NewGasOracleWithReader(&fakeChain{gasPrice: gwei(20)}, Options{
		GasLimit:    50000,
		NativePrice: decimal.NewFromInt(3000),
	}, zerolog.Nop())
	base := spread.CostModel{Transfers: []spread.NetworkFee{
		{Venue: "*", Asset: "USDT", Network: "ERC20", Flat: decimal.NewFromInt(10)},
		{Venue: "*", Asset: "USDT", Network: "TRC20", Flat: decimal.NewFromInt(1)},
	}}

	got := oracle.Adjust(context.Background(), base)
	require.Len(t, got.Transfers, 2)
	assert.True(t, got.Transfers[0].Flat.IsZero())
	assert.Equal(t, "3", got.Transfers[0].FlatQuote.String())
	assert.Equal(t, "1", got.Transfers[1].Flat.String())
	assert.Equal(t, "10", base.Transfers[0].Flat.String(), "base model must not be mutated")
}

func TestAdjustAddsRowWhenMissing(t *testing.T) {
	oracle := NewGasOracleWithReader(&fakeChain{gasPrice: gwei(20)}, Options{
		GasLimit:    50000,
		NativePrice: decimal.NewFromInt(3000),
	}, zerolog.Nop())

	got := oracle.Adjust(context.Background(), spread.CostModel{})
	require.Len(t, got.Transfers, 1)
	assert.Equal(t, "ERC20", got.Transfers[0].Network)
	assert.Equal(t, spread.Wildcard, got.Transfers[0].Venue)
}

func TestAdjustKeepsBaseOnFailure(t *testing.T) {
	oracle := NewGasOracleWithReader(&fakeChain{gasErr: errors.New("rpc down")}, Options{
		NativePrice: decimal.NewFromInt(3000),
	}, zerolog.Nop())
	base := spread.CostModel{Transfers: []spread.NetworkFee{{Asset: "USDT", Network: "ERC20", Flat: decimal.NewFromInt(10)}}}

	got := oracle.Adjust(context.Background(), base)
	assert.Equal(t, base.Transfers, got.Transfers)
}

func TestMissingRPCURL(t *testing.T) {
	oracle := NewGasOracle(Options{NativePrice: decimal.NewFromInt(1)}, zerolog.Nop())
	_, err := oracle.TransferCost(context.Background())
	assert.Error(t, err)
}
