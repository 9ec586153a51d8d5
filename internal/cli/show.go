package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spread-scanner/internal/app"
)

var (
	showLimit int
	showOpps  bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent persisted scan cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:         showLimit,
			Opportunities: showOpps,
		}

		return getApp().Show(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of cycles to display")
	showCmd.Flags().BoolVar(&showOpps, "opportunities", false, "Also list the ranked opportunities of the newest cycle")
}
