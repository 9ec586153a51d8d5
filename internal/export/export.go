// Package export serialises ranked scan cycles to CSV, JSON and PNG and
// ships them to file or object storage sinks.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/scanner"
	"spread-scanner/internal/spread"
)

// Format selects the tabular encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts csv or json, case-insensitively. An empty value is csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// FormatFromPath picks the format from a file extension, falling back to def.
func FormatFromPath(path string, def Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".csv":
		return FormatCSV
	}
	return def
}

// Header is the tabular field order.
var Header = []string{
	"symbol",
	"buy_venue",
	"sell_venue",
	"buy_price",
	"sell_price",
	"size",
	"gross_spread_pct",
	"net_spread_pct",
	"timestamp",
}

// Record is the exported view of one ranked opportunity.
type Record struct {
	Symbol         string          `json:"symbol"`
	BuyVenue       string          `json:"buy_venue"`
	SellVenue      string          `json:"sell_venue"`
	BuyPrice       decimal.Decimal `json:"buy_price"`
	SellPrice      decimal.Decimal `json:"sell_price"`
	Size           decimal.Decimal `json:"size"`
	GrossSpreadPct decimal.Decimal `json:"gross_spread_pct"`
	NetSpreadPct   decimal.Decimal `json:"net_spread_pct"`
	Timestamp      time.Time       `json:"timestamp"`
	Notional       decimal.Decimal `json:"notional"`
	Network        string          `json:"network,omitempty"`
	TransferCost   decimal.Decimal `json:"transfer_cost"`
	TradingFees    decimal.Decimal `json:"trading_fees"`
}

// NewRecord converts a spread result.
func NewRecord(r spread.Result) Record {
	return Record{
		Symbol:         r.Symbol,
		BuyVenue:       r.BuyVenue,
		SellVenue:      r.SellVenue,
		BuyPrice:       r.BuyPrice,
		SellPrice:      r.SellPrice,
		Size:           r.Size,
		GrossSpreadPct: r.GrossSpreadPct,
		NetSpreadPct:   r.NetSpreadPct,
		Timestamp:      r.Timestamp.UTC(),
		Notional:       r.Notional,
		Network:        r.Network,
		TransferCost:   r.TransferCost,
		TradingFees:    r.TradingFees,
	}
}

// Row renders the record in Header order.
func (r Record) Row() []string {
	return []string{
		r.Symbol,
		r.BuyVenue,
		r.SellVenue,
		r.BuyPrice.String(),
		r.SellPrice.String(),
		r.Size.String(),
		r.GrossSpreadPct.String(),
		r.NetSpreadPct.String(),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Cycle is the JSON document of one scan cycle.
type Cycle struct {
	ID            string         `json:"id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Venues        []string       `json:"venues"`
	SkippedVenues []string       `json:"skipped_venues,omitempty"`
	Attempted     int            `json:"attempted"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	Skipped       int            `json:"skipped"`
	Failures      map[string]int `json:"failures,omitempty"`
	Outcomes      map[string]int `json:"outcomes,omitempty"`
	Opportunities []Record       `json:"opportunities"`
}

// NewCycle converts a cycle result. Opportunities keep their ranked order.
func NewCycle(res scanner.CycleResult) Cycle {
	doc := Cycle{
		ID:            res.ID,
		StartedAt:     res.StartedAt.UTC(),
		FinishedAt:    res.FinishedAt.UTC(),
		Venues:        res.Venues,
		SkippedVenues: res.SkippedVenues,
		Attempted:     res.Stats.Attempted,
		Succeeded:     res.Stats.Succeeded,
		Failed:        res.Stats.Failed,
		Skipped:       res.Stats.Skipped,
		Outcomes:      res.Stats.Outcomes,
		Opportunities: make([]Record, 0, len(res.Opportunities)),
	}
	if len(res.Stats.Failures) > 0 {
		doc.Failures = make(map[string]int, len(res.Stats.Failures))
		for kind, n := range res.Stats.Failures {
			doc.Failures[string(kind)] = n
		}
	}
	for _, r := range res.Opportunities {
		doc.Opportunities = append(doc.Opportunities, NewRecord(r))
	}
	return doc
}

// WriteCSV writes the ranked opportunities with a header row.
func WriteCSV(w io.Writer, results []spread.Result) error {
	records := make([]Record, 0, len(results))
	for _, r := range results {
		records = append(records, NewRecord(r))
	}
	return WriteRecordsCSV(w, records)
}

// WriteRecordsCSV writes already converted records, e.g. a cached cycle.
func WriteRecordsCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write(r.Row()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSON writes the whole cycle document.
func WriteJSON(w io.Writer, res scanner.CycleResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewCycle(res))
}

// Write encodes res in the given format.
func Write(w io.Writer, format Format, res scanner.CycleResult) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatCSV, "":
		return WriteCSV(w, res.Opportunities)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// Exporter ships a cycle to a durable sink.
type Exporter interface {
	Export(ctx context.Context, res scanner.CycleResult) error
}

// FileSink rewrites one file per cycle. The file is replaced atomically so
// readers never see a partial snapshot.
type FileSink struct {
	Path   string
	Format Format
}

// NewFileSink infers the format from the extension when format is empty.
func NewFileSink(path string, format Format) *FileSink {
	if format == "" {
		format = FormatFromPath(path, FormatCSV)
	}
	return &FileSink{Path: path, Format: format}
}

// Export writes res to the sink path.
func (f *FileSink) Export(_ context.Context, res scanner.CycleResult) error {
	if err := ensureDir(f.Path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".spreadscan-*")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, f.Format, res); err != nil {
		tmp.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}

// Multi fans a cycle out to several sinks and joins their errors.
type Multi []Exporter

// Export runs every sink even when one fails.
func (m Multi) Export(ctx context.Context, res scanner.CycleResult) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Export(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var (
	_ Exporter = (*FileSink)(nil)
	_ Exporter = Multi(nil)
)
