// Package onchain prices an EVM withdrawal network from live gas.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-scanner/internal/scanner"
	"spread-scanner/internal/spread"
)

const aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainReader is the subset of ethclient.Client the oracle uses.
type ChainReader interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Options parameterise the gas oracle.
type Options struct {
	RPCURL string
	// Network and Asset select the transfer rows the live cost replaces.
	Network  string
	Asset    string
	GasLimit uint64
	// NativePrice is the quote price of the chain's native coin. PriceFeed,
	// when set, is a Chainlink style aggregator queried instead.
	NativePrice decimal.Decimal
	PriceFeed   string
	Timeout     time.Duration
}

// GasOracle turns the suggested gas price into a flat quote transfer cost.
type GasOracle struct {
	opts   Options
	logger zerolog.Logger

	clientMux sync.Mutex
	client    ChainReader
}

// NewGasOracle builds an oracle that dials RPCURL lazily.
func NewGasOracle(opts Options, logger zerolog.Logger) *GasOracle {
	if opts.Network == "" {
		opts.Network = "ERC20"
	}
	if opts.Asset == "" {
		opts.Asset = "USDT"
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = 65000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	opts.Network = strings.ToUpper(opts.Network)
	opts.Asset = strings.ToUpper(opts.Asset)
	return &GasOracle{opts: opts, logger: logger.With().Str("component", "gas_oracle").Logger()}
}

// NewGasOracleWithReader wires an existing chain reader.
func NewGasOracleWithReader(reader ChainReader, opts Options, logger zerolog.Logger) *GasOracle {
	g := NewGasOracle(opts, logger)
	g.client = reader
	return g
}

// TransferCost returns the quote cost of one token transfer at the current
// gas price.
func (g *GasOracle) TransferCost(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("suggest gas price: %w", err)
	}
	price, err := g.nativePrice(ctx, client)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, errors.New("native coin price not configured")
	}
	wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(g.opts.GasLimit))
	native := decimal.NewFromBigInt(wei, -18)
	return native.Mul(price), nil
}

// Adjust replaces the configured network's flat cost for the asset with the
// live cost. On failure the base model is returned unchanged.
func (g *GasOracle) Adjust(ctx context.Context, base spread.CostModel) spread.CostModel {
	cost, err := g.TransferCost(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Str("network", g.opts.Network).Msg("live transfer cost unavailable, using configured table")
		return base
	}

	adjusted := base
	adjusted.Transfers = make([]spread.NetworkFee, 0, len(base.Transfers)+1)
	replaced := false
	for _, fee := range base.Transfers {
		if strings.EqualFold(fee.Network, g.opts.Network) && strings.EqualFold(fee.Asset, g.opts.Asset) {
			fee.Flat = decimal.Zero
			fee.FlatQuote = cost
			replaced = true
		}
		adjusted.Transfers = append(adjusted.Transfers, fee)
	}
	if !replaced {
		adjusted.Transfers = append(adjusted.Transfers, spread.NetworkFee{
			Venue:     spread.Wildcard,
			Asset:     g.opts.Asset,
			Network:   g.opts.Network,
			FlatQuote: cost,
		})
	}
	g.logger.Debug().Str("network", g.opts.Network).Str("cost", cost.StringFixed(4)).Msg("transfer cost refreshed")
	return adjusted
}

func (g *GasOracle) nativePrice(ctx context.Context, client ChainReader) (decimal.Decimal, error) {
	if g.opts.PriceFeed == "" {
		return g.opts.NativePrice, nil
	}
	feed := common.HexToAddress(g.opts.PriceFeed)

	decOut, err := g.call(ctx, client, feed, "decimals")
	if err != nil {
		return decimal.Decimal{}, err
	}
	places, ok := decOut[0].(uint8)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode decimals output")
	}

	roundOut, err := g.call(ctx, client, feed, "latestRoundData")
	if err != nil {
		return decimal.Decimal{}, err
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Decimal{}, errors.New("invalid latestRoundData answer")
	}
	return decimal.NewFromBigInt(answer, -int32(places)), nil
}

func (g *GasOracle) call(ctx context.Context, client ChainReader, to common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty %s response", method)
	}
	return out, nil
}

func (g *GasOracle) getClient(ctx context.Context) (ChainReader, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	if g.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	client, err := ethclient.DialContext(ctx, g.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

var _ scanner.CostAdjuster = (*GasOracle)(nil)
