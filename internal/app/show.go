package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent persisted cycles, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show cycles")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cycles, err := store.ListRecentCycles(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(out, "no cycles found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Finished (UTC)\tCycle\tSymbols\tFetched\tFailed\tOpps\tBest%\tFailures")
	for _, c := range cycles {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d/%d\t%d\t%d\t%s\t%s\n",
			c.FinishedAt.UTC().Format(time.RFC3339),
			shortID(c.ID),
			c.Symbols,
			c.Succeeded,
			c.Attempted,
			c.Failed,
			c.Opportunities,
			formatDecimal(c.Best, 3),
			formatCounts(c.Failures),
		)
	}
	writer.Flush()

	if !opts.Opportunities {
		return nil
	}
	latest := cycles[0]
	opps, err := store.ListOpportunities(ctx, latest.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nranked opportunities of %s\n", latest.ID)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tSymbol\tBuy\tSell\tSize\tGross%\tNet%\tNetwork")
	for _, o := range opps {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Rank,
			o.Symbol,
			o.BuyVenue,
			o.SellVenue,
			o.Size.String(),
			formatDecimal(o.GrossSpreadPct, 3),
			formatDecimal(o.NetSpreadPct, 3),
			o.Network,
		)
	}
	writer.Flush()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(counts))
	for k, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
