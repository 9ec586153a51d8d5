package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/export"
	"spread-scanner/internal/scanner"
	"spread-scanner/internal/universe"
)

// Scan runs a single cycle and prints the ranked table to out.
func (a *App) Scan(ctx context.Context, opts ScanOptions, out io.Writer) error {
	if err := a.applyScanOverrides(opts); err != nil {
		return err
	}

	set, err := a.buildEngine(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	if err := set.listings.Refresh(ctx); err != nil {
		return fmt.Errorf("load listings: %w", err)
	}

	cfg, err := a.Config.ScannerConfig(lowerAll(opts.Venues))
	if err != nil {
		return err
	}
	if set.oracle != nil {
		cfg.Cost = set.oracle.Adjust(ctx, cfg.Cost)
	}

	res, err := set.engine.RunOneCycle(ctx, cfg)
	if err != nil {
		return err
	}

	printCycle(out, res)

	if opts.Export != "" {
		format, err := export.ParseFormat(opts.Format)
		if err != nil {
			return err
		}
		if opts.Format == "" {
			format = export.FormatFromPath(opts.Export, format)
		}
		if err := export.NewFileSink(opts.Export, format).Export(ctx, res); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.Export).Str("format", string(format)).Msg("cycle exported")
	}
	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error {
			return export.WriteRankedPNG(w, res.Opportunities)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Symbols prints the resolved universe: each symbol with the venues that
// list it.
func (a *App) Symbols(ctx context.Context, opts ScanOptions, out io.Writer) error {
	if err := a.applyScanOverrides(opts); err != nil {
		return err
	}

	set, err := a.buildEngine(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	if err := set.listings.Refresh(ctx); err != nil {
		return fmt.Errorf("load listings: %w", err)
	}
	cfg, err := a.Config.ScannerConfig(lowerAll(opts.Venues))
	if err != nil {
		return err
	}

	snap := set.listings.Snapshot()
	plan, err := universe.Resolve(cfg.Universe, snap.Ranked, snap.Listings)
	if err != nil {
		return err
	}

	venuesBySymbol := make(map[string][]string, len(plan.Symbols))
	for _, item := range plan.Items {
		venuesBySymbol[item.Symbol] = append(venuesBySymbol[item.Symbol], item.Venue)
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tSymbol\tVenues")
	for i, sym := range plan.Symbols {
		fmt.Fprintf(writer, "%d\t%s\t%s\n", i+1, sym, strings.Join(venuesBySymbol[sym], ","))
	}
	writer.Flush()
	fmt.Fprintf(out, "%d symbols, %d work items across %d venues\n", len(plan.Symbols), len(plan.Items), len(plan.Venues))
	return nil
}

func (a *App) applyScanOverrides(opts ScanOptions) error {
	u := &a.Config.Universe
	if len(opts.Exclude) > 0 {
		u.Exclude = opts.Exclude
	}
	if len(opts.Quotes) > 0 {
		u.Quotes = opts.Quotes
	}
	if len(opts.Bases) > 0 {
		u.Bases = opts.Bases
	}
	if opts.Preset != "" {
		u.Preset = opts.Preset
	}
	if opts.Size != "" {
		size, err := decimal.NewFromString(opts.Size)
		if err != nil || !size.IsPositive() {
			return fmt.Errorf("invalid --size %q", opts.Size)
		}
		a.Config.Scan.Size = size
	}
	if opts.Threshold != "" {
		th, err := decimal.NewFromString(opts.Threshold)
		if err != nil {
			return fmt.Errorf("invalid --threshold %q", opts.Threshold)
		}
		a.Config.Scan.MinNetSpreadPct = th
	}
	if opts.MinVolume != "" {
		vol, err := decimal.NewFromString(opts.MinVolume)
		if err != nil || vol.IsNegative() {
			return fmt.Errorf("invalid --min-volume %q", opts.MinVolume)
		}
		a.Config.Scan.MinVolume = vol
	}
	if opts.TopN > 0 {
		a.Config.Scan.TopN = opts.TopN
	}
	return nil
}

func printCycle(out io.Writer, res scanner.CycleResult) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tSymbol\tBuy\tSell\tBuy Px\tSell Px\tSize\tGross%\tNet%\tNetwork")
	for i, r := range res.Opportunities {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			r.Symbol,
			r.BuyVenue,
			r.SellVenue,
			r.BuyPrice.String(),
			r.SellPrice.String(),
			r.Size.String(),
			formatDecimal(r.GrossSpreadPct, 3),
			formatDecimal(r.NetSpreadPct, 3),
			r.Network,
		)
	}
	writer.Flush()

	fmt.Fprintf(out, "cycle %s: %d symbols, %d/%d fetched, %d failed, %d skipped, %d opportunities in %s\n",
		res.ID,
		res.Stats.Symbols,
		res.Stats.Succeeded,
		res.Stats.Attempted,
		res.Stats.Failed,
		res.Stats.Skipped,
		len(res.Opportunities),
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
	)
	if len(res.Stats.Failures) > 0 {
		parts := make([]string, 0, len(res.Stats.Failures))
		for kind, n := range res.Stats.Failures {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
		}
		sort.Strings(parts)
		fmt.Fprintf(out, "failures: %s\n", strings.Join(parts, " "))
	}
	if len(res.SkippedVenues) > 0 {
		fmt.Fprintf(out, "breaker open: %s\n", strings.Join(res.SkippedVenues, ","))
	}
}

func writeFile(path string, render func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
