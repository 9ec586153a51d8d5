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

// Gate reads Gate.io spot order books and currency pairs.
type Gate struct {
	restClient
}

// NewGate constructs a Gate.io spot client.
func NewGate(opts Options, logger zerolog.Logger) *Gate {
	c := newRESTClient("gate", "https://api.gateio.ws/api/v4", 10, opts, logger)
	c.notListed = func(status int, payload []byte) bool {
		var apiErr struct {
			Label string `json:"label"`
		}
		return status == 400 && json.Unmarshal(payload, &apiErr) == nil && apiErr.Label == "INVALID_CURRENCY_PAIR"
	}
	return &Gate{restClient: c}
}

func (g *Gate) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	sym, err := parseSymbol(g.name, symbol)
	if err != nil {
		return market.OrderBook{}, err
	}
	query := url.Values{}
	query.Set("currency_pair", sym.Base+"_"+sym.Quote)
	query.Set("limit", strconv.Itoa(min(max(depth, 1), 100)))
	query.Set("with_id", "true")

	var payload struct {
		Current int64      `json:"current"`
		Update  int64      `json:"update"`
		Bids    [][]string `json:"bids"`
		Asks    [][]string `json:"asks"`
	}
	if err := g.getJSON(ctx, "/spot/order_book", query, &payload); err != nil {
		return market.OrderBook{}, err
	}
	var ts time.Time
	switch {
	case payload.Update > 0:
		ts = time.UnixMilli(payload.Update)
	case payload.Current > 0:
		ts = time.UnixMilli(payload.Current)
	}
	return g.snapshot(sym.String(), payload.Bids, payload.Asks, ts, depth)
}

func (g *Gate) ListSymbols(ctx context.Context) (market.Listing, error) {
	var pairs []struct {
		Base            string `json:"base"`
		Quote           string `json:"quote"`
		MinBaseAmount   string `json:"min_base_amount"`
		MinQuoteAmount  string `json:"min_quote_amount"`
		AmountPrecision int32  `json:"amount_precision"`
		TradeStatus     string `json:"trade_status"`
	}
	if err := g.getJSON(ctx, "/spot/currency_pairs", nil, &pairs); err != nil {
		return nil, err
	}
	listing := make(market.Listing, len(pairs))
	for _, p := range pairs {
		if p.TradeStatus != "tradable" {
			continue
		}
		listing.Add(market.Instrument{
			Symbol:      market.Symbol{Base: p.Base, Quote: p.Quote},
			LotStep:     decimal.New(1, -p.AmountPrecision),
			MinQty:      decimalOrZero(p.MinBaseAmount),
			MinNotional: decimalOrZero(p.MinQuoteAmount),
		})
	}

	var tickers []struct {
		CurrencyPair string `json:"currency_pair"`
		QuoteVolume  string `json:"quote_volume"`
	}
	if err := g.getJSON(ctx, "/spot/tickers", nil, &tickers); err != nil {
		g.logger.Warn().Err(err).Msg("24h tickers unavailable; quote volumes unset")
		return listing, nil
	}
	volumes := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		volumes[t.CurrencyPair] = decimalOrZero(t.QuoteVolume)
	}
	applyVolumes(listing, volumes, func(s market.Symbol) string { return s.Base + "_" + s.Quote })
	return listing, nil
}

var _ Client = (*Gate)(nil)
