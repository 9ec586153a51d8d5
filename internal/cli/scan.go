package cli

import (
	"github.com/spf13/cobra"

	"spread-scanner/internal/app"
)

var scanOpts app.ScanOptions

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle and print the ranked opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context(), scanOpts, cmd.OutOrStdout())
	},
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Print the resolved symbol universe and the venues listing each symbol",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Symbols(cmd.Context(), scanOpts, cmd.OutOrStdout())
	},
}

func init() {
	for _, c := range []*cobra.Command{scanCmd, symbolsCmd} {
		flags := c.Flags()
		flags.StringSliceVar(&scanOpts.Venues, "venues", nil, "Venues to scan (defaults to every configured venue)")
		flags.StringSliceVar(&scanOpts.Exclude, "exclude", nil, "Venues to exclude")
		flags.StringSliceVar(&scanOpts.Quotes, "quotes", nil, "Quote currencies, or ANY")
		flags.StringSliceVar(&scanOpts.Bases, "bases", nil, "Explicit base assets, in priority order")
		flags.StringVar(&scanOpts.Preset, "preset", "", "Ranked base preset such as TOP100, CMC_TOP50 or NONE")
		flags.StringVar(&scanOpts.MinVolume, "min-volume", "", "Minimum 24h quote volume on each venue")
	}

	flags := scanCmd.Flags()
	flags.StringVar(&scanOpts.Size, "size", "", "Requested size (in scan.size_unit)")
	flags.StringVar(&scanOpts.Threshold, "threshold", "", "Minimum net spread in percent")
	flags.IntVar(&scanOpts.TopN, "top", 0, "Number of opportunities to keep")
	flags.StringVar(&scanOpts.Export, "export", "", "Write the ranked cycle to this path")
	flags.StringVar(&scanOpts.Format, "format", "", "Export format: csv or json (defaults to the file extension)")
	flags.StringVar(&scanOpts.PNGPath, "png", "", "Write a bar chart of net spreads to this path")
}
