package venue

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
)

// Bybit reads v5 spot order books and instruments.
type Bybit struct {
	restClient
}

// NewBybit constructs a Bybit spot client.
func NewBybit(opts Options, logger zerolog.Logger) *Bybit {
	return &Bybit{restClient: newRESTClient("bybit", "https://api.bybit.com", 10, opts, logger)}
}

func (b *Bybit) check(code int, msg string) error {
	switch code {
	case 0:
		return nil
	case 10001:
		return newError(b.name, KindNotListed, fmt.Errorf("bybit %d: %s", code, msg))
	case 10006, 10018:
		return newError(b.name, KindRateLimited, fmt.Errorf("bybit %d: %s", code, msg))
	case 10003, 10004, 10005:
		return newError(b.name, KindAuth, fmt.Errorf("bybit %d: %s", code, msg))
	default:
		return newError(b.name, KindUnknown, fmt.Errorf("bybit %d: %s", code, msg))
	}
}

func (b *Bybit) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	sym, err := parseSymbol(b.name, symbol)
	if err != nil {
		return market.OrderBook{}, err
	}
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", sym.Base+sym.Quote)
	query.Set("limit", strconv.Itoa(min(max(depth, 1), 200)))

	var payload struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			Bids [][]string `json:"b"`
			Asks [][]string `json:"a"`
			Ts   int64      `json:"ts"`
		} `json:"result"`
		Time int64 `json:"time"`
	}
	if err := b.getJSON(ctx, "/v5/market/orderbook", query, &payload); err != nil {
		return market.OrderBook{}, err
	}
	if err := b.check(payload.RetCode, payload.RetMsg); err != nil {
		return market.OrderBook{}, err
	}
	ms := payload.Result.Ts
	if ms == 0 {
		ms = payload.Time
	}
	var ts time.Time
	if ms > 0 {
		ts = time.UnixMilli(ms)
	}
	return b.snapshot(sym.String(), payload.Result.Bids, payload.Result.Asks, ts, depth)
}

func (b *Bybit) ListSymbols(ctx context.Context) (market.Listing, error) {
	query := url.Values{}
	query.Set("category", "spot")
	var payload struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				BaseCoin      string `json:"baseCoin"`
				QuoteCoin     string `json:"quoteCoin"`
				Status        string `json:"status"`
				LotSizeFilter struct {
					BasePrecision string `json:"basePrecision"`
					MinOrderQty   string `json:"minOrderQty"`
					MinOrderAmt   string `json:"minOrderAmt"`
				} `json:"lotSizeFilter"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := b.getJSON(ctx, "/v5/market/instruments-info", query, &payload); err != nil {
		return nil, err
	}
	if err := b.check(payload.RetCode, payload.RetMsg); err != nil {
		return nil, err
	}
	listing := make(market.Listing, len(payload.Result.List))
	for _, inst := range payload.Result.List {
		if inst.Status != "Trading" {
			continue
		}
		listing.Add(market.Instrument{
			Symbol:      market.Symbol{Base: inst.BaseCoin, Quote: inst.QuoteCoin},
			LotStep:     decimalOrZero(inst.LotSizeFilter.BasePrecision),
			MinQty:      decimalOrZero(inst.LotSizeFilter.MinOrderQty),
			MinNotional: decimalOrZero(inst.LotSizeFilter.MinOrderAmt),
		})
	}

	var tickers struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol      string `json:"symbol"`
				Turnover24h string `json:"turnover24h"`
			} `json:"list"`
		} `json:"result"`
	}
	err := b.getJSON(ctx, "/v5/market/tickers", query, &tickers)
	if err == nil {
		err = b.check(tickers.RetCode, tickers.RetMsg)
	}
	if err != nil {
		b.logger.Warn().Err(err).Msg("24h tickers unavailable; quote volumes unset")
		return listing, nil
	}
	volumes := make(map[string]decimal.Decimal, len(tickers.Result.List))
	for _, t := range tickers.Result.List {
		volumes[t.Symbol] = decimalOrZero(t.Turnover24h)
	}
	applyVolumes(listing, volumes, concatID)
	return listing, nil
}

var _ Client = (*Bybit)(nil)
