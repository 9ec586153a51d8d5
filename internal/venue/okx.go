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

// okxInstrumentMissing is returned when the instrument id does not exist.
const okxInstrumentMissing = "51001"

// OKX reads spot order books and instruments.
type OKX struct {
	restClient
}

// NewOKX constructs an OKX spot client.
func NewOKX(opts Options, logger zerolog.Logger) *OKX {
	return &OKX{restClient: newRESTClient("okx", "https://www.okx.com", 10, opts, logger)}
}

type okxEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func (o *OKX) check(code, msg string) error {
	switch code {
	case "", "0":
		return nil
	case okxInstrumentMissing:
		return newError(o.name, KindNotListed, fmt.Errorf("okx %s: %s", code, msg))
	case "50011":
		return newError(o.name, KindRateLimited, fmt.Errorf("okx %s: %s", code, msg))
	default:
		return newError(o.name, KindUnknown, fmt.Errorf("okx %s: %s", code, msg))
	}
}

func (o *OKX) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	sym, err := parseSymbol(o.name, symbol)
	if err != nil {
		return market.OrderBook{}, err
	}
	query := url.Values{}
	query.Set("instId", sym.Base+"-"+sym.Quote)
	query.Set("sz", strconv.Itoa(min(max(depth, 1), 400)))

	var payload okxEnvelope[struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		Ts   string     `json:"ts"`
	}]
	if err := o.getJSON(ctx, "/api/v5/market/books", query, &payload); err != nil {
		return market.OrderBook{}, err
	}
	if err := o.check(payload.Code, payload.Msg); err != nil {
		return market.OrderBook{}, err
	}
	if len(payload.Data) == 0 {
		return market.OrderBook{}, newError(o.name, KindNotListed, fmt.Errorf("no book for %s", symbol))
	}
	data := payload.Data[0]
	ts := time.Now()
	if ms, err := strconv.ParseInt(data.Ts, 10, 64); err == nil {
		ts = time.UnixMilli(ms)
	}
	return o.snapshot(sym.String(), data.Bids, data.Asks, ts, depth)
}

func (o *OKX) ListSymbols(ctx context.Context) (market.Listing, error) {
	query := url.Values{}
	query.Set("instType", "SPOT")
	var payload okxEnvelope[struct {
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		LotSz    string `json:"lotSz"`
		MinSz    string `json:"minSz"`
		State    string `json:"state"`
	}]
	if err := o.getJSON(ctx, "/api/v5/public/instruments", query, &payload); err != nil {
		return nil, err
	}
	if err := o.check(payload.Code, payload.Msg); err != nil {
		return nil, err
	}
	listing := make(market.Listing, len(payload.Data))
	for _, inst := range payload.Data {
		if inst.State != "live" {
			continue
		}
		listing.Add(market.Instrument{
			Symbol:  market.Symbol{Base: inst.BaseCcy, Quote: inst.QuoteCcy},
			LotStep: decimalOrZero(inst.LotSz),
			MinQty:  decimalOrZero(inst.MinSz),
		})
	}

	var tickers okxEnvelope[struct {
		InstID    string `json:"instId"`
		VolCcy24h string `json:"volCcy24h"`
	}]
	err := o.getJSON(ctx, "/api/v5/market/tickers", query, &tickers)
	if err == nil {
		err = o.check(tickers.Code, tickers.Msg)
	}
	if err != nil {
		o.logger.Warn().Err(err).Msg("24h tickers unavailable; quote volumes unset")
		return listing, nil
	}
	volumes := make(map[string]decimal.Decimal, len(tickers.Data))
	for _, t := range tickers.Data {
		// spot volCcy24h is denominated in the quote currency
		volumes[t.InstID] = decimalOrZero(t.VolCcy24h)
	}
	applyVolumes(listing, volumes, func(s market.Symbol) string { return s.Base + "-" + s.Quote })
	return listing, nil
}

var _ Client = (*OKX)(nil)
