package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/scanner"
	"spread-scanner/internal/spread"
)

// CycleRecord is a persisted scan cycle summary.
type CycleRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Venues     []string
	Skipped    []string
	Symbols    int
	Attempted  int
	Succeeded  int
	Failed     int
	Evaluated  int
	Failures   map[string]int
	Outcomes   map[string]int
	// Best is the top ranked net spread, zero when nothing ranked.
	Best          decimal.Decimal
	Opportunities int
	CreatedAt     time.Time
}

// OpportunityRecord is one ranked opportunity of a persisted cycle.
type OpportunityRecord struct {
	CycleID        string
	Rank           int
	Symbol         string
	BuyVenue       string
	SellVenue      string
	BuyPrice       decimal.Decimal
	SellPrice      decimal.Decimal
	Size           decimal.Decimal
	Notional       decimal.Decimal
	GrossSpreadPct decimal.Decimal
	NetSpreadPct   decimal.Decimal
	TradingFees    decimal.Decimal
	TransferCost   decimal.Decimal
	Network        string
	ObservedAt     time.Time
}

// Result converts the record back into a ranked spread result.
func (o OpportunityRecord) Result() spread.Result {
	return spread.Result{
		Symbol:         o.Symbol,
		BuyVenue:       o.BuyVenue,
		SellVenue:      o.SellVenue,
		BuyPrice:       o.BuyPrice,
		SellPrice:      o.SellPrice,
		Size:           o.Size,
		Notional:       o.Notional,
		GrossSpreadPct: o.GrossSpreadPct,
		NetSpreadPct:   o.NetSpreadPct,
		TradingFees:    o.TradingFees,
		TransferCost:   o.TransferCost,
		Network:        o.Network,
		Status:         spread.StatusProfitable,
		Timestamp:      o.ObservedAt,
	}
}

// AlertRecord captures an emitted alert for cooldown and auditing.
type AlertRecord struct {
	ID           int64
	CycleID      string
	Symbol       string
	BuyVenue     string
	SellVenue    string
	NetSpreadPct decimal.Decimal
	ThresholdPct decimal.Decimal
	Channels     []string
	CreatedAt    time.Time
}

// NewCycleRecord flattens a cycle result.
func NewCycleRecord(res scanner.CycleResult) CycleRecord {
	rec := CycleRecord{
		ID:            res.ID,
		StartedAt:     res.StartedAt.UTC(),
		FinishedAt:    res.FinishedAt.UTC(),
		Venues:        nonNil(res.Venues),
		Skipped:       nonNil(res.SkippedVenues),
		Symbols:       res.Stats.Symbols,
		Attempted:     res.Stats.Attempted,
		Succeeded:     res.Stats.Succeeded,
		Failed:        res.Stats.Failed,
		Evaluated:     res.Stats.Evaluated,
		Failures:      make(map[string]int, len(res.Stats.Failures)),
		Outcomes:      make(map[string]int, len(res.Stats.Outcomes)),
		Opportunities: len(res.Opportunities),
	}
	for kind, n := range res.Stats.Failures {
		rec.Failures[string(kind)] = n
	}
	for k, n := range res.Stats.Outcomes {
		rec.Outcomes[k] = n
	}
	if len(res.Opportunities) > 0 {
		rec.Best = res.Opportunities[0].NetSpreadPct
	}
	return rec
}

// NewOpportunityRecords numbers the ranked results from 1.
func NewOpportunityRecords(res scanner.CycleResult) []OpportunityRecord {
	out := make([]OpportunityRecord, 0, len(res.Opportunities))
	for i, r := range res.Opportunities {
		out = append(out, OpportunityRecord{
			CycleID:        res.ID,
			Rank:           i + 1,
			Symbol:         r.Symbol,
			BuyVenue:       r.BuyVenue,
			SellVenue:      r.SellVenue,
			BuyPrice:       r.BuyPrice,
			SellPrice:      r.SellPrice,
			Size:           r.Size,
			Notional:       r.Notional,
			GrossSpreadPct: r.GrossSpreadPct,
			NetSpreadPct:   r.NetSpreadPct,
			TradingFees:    r.TradingFees,
			TransferCost:   r.TransferCost,
			Network:        r.Network,
			ObservedAt:     r.Timestamp.UTC(),
		})
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
