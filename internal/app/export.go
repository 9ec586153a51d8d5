package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/export"
	"spread-scanner/internal/storage"
)

// Export renders persisted cycle history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scan.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	cycles, err := store.ListCyclesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		a.Logger.Info().Msg("no cycles found for export window")
		return nil
	}

	downsampled := export.Downsample(cycles, opts.MaxPoints)
	a.Logger.Info().Int("total", len(cycles)).Int("exported", len(downsampled)).Msg("exporting cycles")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error {
			return writeCyclesCSV(w, downsampled)
		}); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		points := make([]export.HistoryPoint, 0, len(downsampled))
		for _, c := range downsampled {
			points = append(points, export.HistoryPoint{
				At:            c.FinishedAt,
				BestNetPct:    c.Best,
				Opportunities: c.Opportunities,
			})
		}
		if err := writeFile(opts.PNGPath, func(w io.Writer) error {
			return export.WriteHistoryPNG(w, points)
		}); err != nil {
			return err
		}
	}

	return nil
}

func writeCyclesCSV(w io.Writer, cycles []storage.CycleRecord) error {
	writer := csv.NewWriter(w)
	header := []string{"cycle_id", "started_at", "finished_at", "symbols", "attempted", "succeeded", "failed", "evaluated", "opportunities", "best_net_spread_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, c := range cycles {
		record := []string{
			c.ID,
			c.StartedAt.UTC().Format(time.RFC3339),
			c.FinishedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(c.Symbols),
			strconv.Itoa(c.Attempted),
			strconv.Itoa(c.Succeeded),
			strconv.Itoa(c.Failed),
			strconv.Itoa(c.Evaluated),
			strconv.Itoa(c.Opportunities),
			c.Best.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
