package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"spread-scanner/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次跨场馆价差并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.BuyPrice == "" || simulateOpts.SellPrice == "" {
			return errors.New("--buy-price 与 --sell-price 必须提供")
		}

		opts := simulateOpts
		opts.BuyVenue = strings.ToLower(opts.BuyVenue)
		opts.SellVenue = strings.ToLower(opts.SellVenue)
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.Symbol, "symbol", "BTC/USDT", "交易对")
	simulateCmd.Flags().StringVar(&simulateOpts.BuyVenue, "buy-venue", "okx", "买入场馆")
	simulateCmd.Flags().StringVar(&simulateOpts.SellVenue, "sell-venue", "gate", "卖出场馆")
	simulateCmd.Flags().StringVar(&simulateOpts.BuyPrice, "buy-price", "", "买入价格 (卖一)")
	simulateCmd.Flags().StringVar(&simulateOpts.SellPrice, "sell-price", "", "卖出价格 (买一)")
	simulateCmd.Flags().StringVar(&simulateOpts.Size, "size", "1", "基础资产数量")
}
