package venue

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
)

const p2pSearchPath = "/bapi/c2c/v2/friendly/c2c/adv/search"

// P2POptions select the fiat markets a P2P client exposes.
type P2POptions struct {
	Options
	Assets   []string
	Fiats    []string
	PayTypes []string
	Rows     int
}

// P2P turns Binance P2P adverts into an order book for ASSET/FIAT. Sell
// adverts form the asks and buy adverts form the bids.
type P2P struct {
	restClient
	assets   []string
	fiats    []string
	payTypes []string
	rows     int
}

// NewP2P constructs a Binance P2P client.
func NewP2P(opts P2POptions, logger zerolog.Logger) *P2P {
	rows := opts.Rows
	if rows <= 0 || rows > 20 {
		rows = 20
	}
	assets := opts.Assets
	if len(assets) == 0 {
		assets = []string{"USDT"}
	}
	payTypes := opts.PayTypes
	if payTypes == nil {
		payTypes = []string{}
	}
	return &P2P{
		restClient: newRESTClient("p2p", "https://p2p.binance.com", 2, opts.Options, logger),
		assets:     upper(assets),
		fiats:      upper(opts.Fiats),
		payTypes:   payTypes,
		rows:       rows,
	}
}

type p2pRequest struct {
	Page      int      `json:"page"`
	Rows      int      `json:"rows"`
	PayTypes  []string `json:"payTypes"`
	Asset     string   `json:"asset"`
	Fiat      string   `json:"fiat"`
	TradeType string   `json:"tradeType"`
}

type p2pResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Success bool   `json:"success"`
	Data    []struct {
		Adv struct {
			Price                string `json:"price"`
			TradableQuantity     string `json:"tradableQuantity"`
			MinSingleTransAmount string `json:"minSingleTransAmount"`
		} `json:"adv"`
		Advertiser struct {
			NickName string `json:"nickName"`
		} `json:"advertiser"`
	} `json:"data"`
}

func (p *P2P) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	sym, err := parseSymbol(p.name, symbol)
	if err != nil {
		return market.OrderBook{}, err
	}
	if !slices.Contains(p.assets, sym.Base) || !slices.Contains(p.fiats, sym.Quote) {
		return market.OrderBook{}, newError(p.name, KindNotListed, fmt.Errorf("%s is not a configured fiat market", symbol))
	}
	asks, err := p.adverts(ctx, sym, "BUY")
	if err != nil {
		return market.OrderBook{}, err
	}
	bids, err := p.adverts(ctx, sym, "SELL")
	if err != nil {
		return market.OrderBook{}, err
	}
	asks = mergeLevels(asks, false)
	bids = mergeLevels(bids, true)
	if depth > 0 {
		asks = asks[:min(depth, len(asks))]
		bids = bids[:min(depth, len(bids))]
	}
	book, err := market.NewOrderBook(p.name, sym.String(), bids, asks, time.Now(), p.fees)
	if err != nil {
		return market.OrderBook{}, newError(p.name, KindUnknown, err)
	}
	return book, nil
}

// adverts fetches one side. tradeType is from the taker's point of view:
// BUY lists adverts selling the asset.
func (p *P2P) adverts(ctx context.Context, sym market.Symbol, tradeType string) ([]market.Level, error) {
	req := p2pRequest{
		Page:      1,
		Rows:      p.rows,
		PayTypes:  p.payTypes,
		Asset:     sym.Base,
		Fiat:      sym.Quote,
		TradeType: tradeType,
	}
	var resp p2pResponse
	if err := p.postJSON(ctx, p2pSearchPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "" && resp.Code != "000000" {
		return nil, newError(p.name, KindUnknown, fmt.Errorf("p2p %s: %s", resp.Code, resp.Message))
	}
	levels := make([]market.Level, 0, len(resp.Data))
	for _, item := range resp.Data {
		price := decimalOrZero(item.Adv.Price)
		size := decimalOrZero(item.Adv.TradableQuantity)
		if !price.IsPositive() || !size.IsPositive() {
			continue
		}
		levels = append(levels, market.Level{Price: price, Size: size})
	}
	return levels, nil
}

func (p *P2P) ListSymbols(context.Context) (market.Listing, error) {
	listing := make(market.Listing, len(p.assets)*len(p.fiats))
	for _, asset := range p.assets {
		for _, fiat := range p.fiats {
			listing.Add(market.Instrument{Symbol: market.Symbol{Base: asset, Quote: fiat}})
		}
	}
	return listing, nil
}

// mergeLevels aggregates adverts at equal prices and orders the side.
func mergeLevels(levels []market.Level, descending bool) []market.Level {
	sizes := make(map[string]decimal.Decimal, len(levels))
	prices := make(map[string]decimal.Decimal, len(levels))
	for _, lvl := range levels {
		key := lvl.Price.String()
		sizes[key] = sizes[key].Add(lvl.Size)
		prices[key] = lvl.Price
	}
	merged := make([]market.Level, 0, len(sizes))
	for key, size := range sizes {
		merged = append(merged, market.Level{Price: prices[key], Size: size})
	}
	sort.Slice(merged, func(i, j int) bool {
		if descending {
			return merged[i].Price.GreaterThan(merged[j].Price)
		}
		return merged[i].Price.LessThan(merged[j].Price)
	})
	return merged
}

func upper(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var _ Client = (*P2P)(nil)
