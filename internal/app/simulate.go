package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/alerting"
	"spread-scanner/internal/market"
	"spread-scanner/internal/spread"
)

// SimulateAlert 用给定的两个场馆价格构造一次机会并走完告警流程。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	cost, err := a.Config.CostModel()
	if err != nil {
		return err
	}
	result, err := simulatedResult(opts, cost)
	if err != nil {
		return err
	}

	threshold := a.Config.AlertThreshold()
	if result.NetSpreadPct.LessThan(threshold) {
		a.Logger.Warn().
			Str("net_pct", result.NetSpreadPct.StringFixed(3)).
			Str("threshold_pct", threshold.StringFixed(3)).
			Msg("simulated spread below alert threshold, sending anyway")
	}

	return notifier.Notify(ctx, alerting.Notification{
		CycleID:       "simulated",
		At:            time.Now().UTC(),
		ThresholdPct:  threshold,
		Opportunities: []spread.Result{result},
		Channels:      []string{"telegram"},
		AdditionalMsg: "(simulated)",
	})
}

// simulatedResult prices a single-level book on each venue through the
// regular calculator and the configured cost model.
func simulatedResult(opts SimulateOptions, cost spread.CostModel) (spread.Result, error) {
	sym, err := market.ParseSymbol(opts.Symbol)
	if err != nil {
		return spread.Result{}, err
	}
	buy, err := decimal.NewFromString(opts.BuyPrice)
	if err != nil || !buy.IsPositive() {
		return spread.Result{}, fmt.Errorf("--buy-price 必须大于 0")
	}
	sell, err := decimal.NewFromString(opts.SellPrice)
	if err != nil || !sell.IsPositive() {
		return spread.Result{}, fmt.Errorf("--sell-price 必须大于 0")
	}
	size := decimal.NewFromInt(1)
	if opts.Size != "" {
		if size, err = decimal.NewFromString(opts.Size); err != nil || !size.IsPositive() {
			return spread.Result{}, fmt.Errorf("--size 必须大于 0")
		}
	}

	now := time.Now().UTC()
	buyBook, err := market.NewOrderBook(opts.BuyVenue, sym.String(), nil, []market.Level{{Price: buy, Size: size}}, now, nil)
	if err != nil {
		return spread.Result{}, err
	}
	sellBook, err := market.NewOrderBook(opts.SellVenue, sym.String(), []market.Level{{Price: sell, Size: size}}, nil, now, nil)
	if err != nil {
		return spread.Result{}, err
	}

	calc := spread.NewCalculator(spread.Options{})
	res := calc.Calculate(buyBook, sellBook, spread.Request{Size: size, Unit: spread.SizeBase}, cost)
	if res.Status == spread.StatusNotComputable {
		return spread.Result{}, fmt.Errorf("模拟机会无法计算: %s", res.Reason)
	}
	return res, nil
}
