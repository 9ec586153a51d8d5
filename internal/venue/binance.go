package venue

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
)

// binanceDepthLimits are the depth values the endpoint accepts.
var binanceDepthLimits = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

// Binance reads spot order books and exchange info.
type Binance struct {
	restClient
}

// NewBinance constructs a Binance spot client.
func NewBinance(opts Options, logger zerolog.Logger) *Binance {
	c := newRESTClient("binance", "https://api.binance.com", 10, opts, logger)
	c.notListed = func(status int, payload []byte) bool {
		var apiErr struct {
			Code int `json:"code"`
		}
		// -1121 invalid symbol
		return status == 400 && json.Unmarshal(payload, &apiErr) == nil && apiErr.Code == -1121
	}
	return &Binance{restClient: c}
}

func (b *Binance) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	sym, err := parseSymbol(b.name, symbol)
	if err != nil {
		return market.OrderBook{}, err
	}
	limit := binanceDepthLimits[len(binanceDepthLimits)-1]
	for _, l := range binanceDepthLimits {
		if l >= depth {
			limit = l
			break
		}
	}
	query := url.Values{}
	query.Set("symbol", sym.Base+sym.Quote)
	query.Set("limit", strconv.Itoa(limit))

	var payload struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	if err := b.getJSON(ctx, "/api/v3/depth", query, &payload); err != nil {
		return market.OrderBook{}, err
	}
	return b.snapshot(sym.String(), payload.Bids, payload.Asks, time.Now(), depth)
}

func (b *Binance) ListSymbols(ctx context.Context) (market.Listing, error) {
	var payload struct {
		Symbols []struct {
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := b.getJSON(ctx, "/api/v3/exchangeInfo", nil, &payload); err != nil {
		return nil, err
	}
	listing := make(market.Listing, len(payload.Symbols))
	for _, s := range payload.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		inst := market.Instrument{Symbol: market.Symbol{Base: s.BaseAsset, Quote: s.QuoteAsset}}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				inst.LotStep = decimalOrZero(f.StepSize)
				inst.MinQty = decimalOrZero(f.MinQty)
			case "NOTIONAL", "MIN_NOTIONAL":
				inst.MinNotional = decimalOrZero(f.MinNotional)
			}
		}
		listing.Add(inst)
	}

	var tickers []struct {
		Symbol      string `json:"symbol"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := b.getJSON(ctx, "/api/v3/ticker/24hr", nil, &tickers); err != nil {
		b.logger.Warn().Err(err).Msg("24h tickers unavailable; quote volumes unset")
		return listing, nil
	}
	volumes := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		volumes[t.Symbol] = decimalOrZero(t.QuoteVolume)
	}
	applyVolumes(listing, volumes, concatID)
	return listing, nil
}

var _ Client = (*Binance)(nil)
