package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spread-scanner/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportSince     time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export persisted cycle history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		from, err := parseTimestamp("--from", exportFrom)
		if err != nil {
			return err
		}
		to, err := parseTimestamp("--to", exportTo)
		if err != nil {
			return err
		}
		if exportSince > 0 {
			if from != nil {
				return fmt.Errorf("--since and --from are mutually exclusive")
			}
			start := time.Now().UTC().Add(-exportSince)
			from = &start
		}
		opts.From, opts.To = from, to

		return getApp().Export(cmd.Context(), opts)
	},
}

func parseTimestamp(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	return &ts, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().DurationVar(&exportSince, "since", 0, "Export the trailing window, e.g. 24h")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the history chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write per-cycle CSV rows")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum cycles to export (defaults to export.max_points)")
}
