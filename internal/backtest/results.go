package backtest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/internal/portfolio"
	"github.com/heheshang/ea-okx/pkg/types"
)

// unbounded is the sentinel for ratios with a zero denominator on the
// favourable side, e.g. profit factor with no losing trades.
var unbounded = decimal.NewFromInt(math.MaxInt64)

var annualization = decimal.NewFromFloat(math.Sqrt(252))

// Result is the full backtest report.
type Result struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`

	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`

	GrossProfit  decimal.Decimal `json:"gross_profit"`
	GrossLoss    decimal.Decimal `json:"gross_loss"`
	ProfitFactor decimal.Decimal `json:"profit_factor"`
	AverageWin   decimal.Decimal `json:"average_win"`
	AverageLoss  decimal.Decimal `json:"average_loss"`
	LargestWin   decimal.Decimal `json:"largest_win"`
	LargestLoss  decimal.Decimal `json:"largest_loss"`

	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	SharpeRatio    decimal.Decimal `json:"sharpe_ratio"`
	SortinoRatio   decimal.Decimal `json:"sortino_ratio"`
	CalmarRatio    decimal.Decimal `json:"calmar_ratio"`

	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalSlippage   decimal.Decimal `json:"total_slippage"`
	TotalCosts      decimal.Decimal `json:"total_costs"`

	AvgTradeDurationHours decimal.Decimal `json:"avg_trade_duration_hours"`
	MaxTradeDurationHours decimal.Decimal `json:"max_trade_duration_hours"`
	MinTradeDurationHours decimal.Decimal `json:"min_trade_duration_hours"`

	EquityCurve   []portfolio.EquityPoint `json:"equity_curve"`
	DrawdownCurve []portfolio.EquityPoint `json:"drawdown_curve"`

	Trades []types.Trade `json:"trades"`
}

// buildResult derives all metrics from the final portfolio and the closed
// trade log. Trade statistics only count closing legs, which carry
// realized P&L.
func buildResult(p *portfolio.Portfolio, trades []types.Trade, start, end time.Time) Result {
	finalEquity := p.TotalEquity()
	totalPnL := finalEquity.Sub(p.InitialCapital)

	totalReturnPct := decimal.Zero
	if p.InitialCapital.Sign() > 0 {
		totalReturnPct = totalPnL.Div(p.InitialCapital)
	}

	closing := make([]types.Trade, 0, len(trades))
	for _, trade := range trades {
		if trade.Side == types.Sell {
			closing = append(closing, trade)
		}
	}

	var winning, losing int
	grossProfit, grossLoss := decimal.Zero, decimal.Zero
	largestWin, largestLoss := decimal.Zero, decimal.Zero
	for _, trade := range closing {
		pnl := trade.RealizedPnL
		switch {
		case pnl.Sign() > 0:
			winning++
			grossProfit = grossProfit.Add(pnl)
			if pnl.GreaterThan(largestWin) {
				largestWin = pnl
			}
		case pnl.Sign() < 0:
			losing++
			grossLoss = grossLoss.Add(pnl.Abs())
			if pnl.LessThan(largestLoss) {
				largestLoss = pnl
			}
		}
	}

	winRate := decimal.Zero
	if len(closing) > 0 {
		winRate = decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(len(closing))))
	}

	profitFactor := decimal.Zero
	switch {
	case grossLoss.Sign() > 0:
		profitFactor = grossProfit.Div(grossLoss)
	case grossProfit.Sign() > 0:
		profitFactor = unbounded
	}

	averageWin := decimal.Zero
	if winning > 0 {
		averageWin = grossProfit.Div(decimal.NewFromInt(int64(winning)))
	}
	averageLoss := decimal.Zero
	if losing > 0 {
		averageLoss = grossLoss.Div(decimal.NewFromInt(int64(losing)))
	}

	maxDD, maxDDPct, ddCurve := drawdown(p.EquityCurve)

	calmar := decimal.Zero
	if maxDDPct.Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		calmar = totalReturnPct.Div(maxDDPct.Abs())
	}

	var durations []decimal.Decimal
	for _, trade := range closing {
		if d := trade.Duration(); d > 0 {
			durations = append(durations, decimal.NewFromFloat(d.Hours()))
		}
	}
	avgDuration, maxDuration, minDuration := decimal.Zero, decimal.Zero, decimal.Zero
	if len(durations) > 0 {
		sum := decimal.Zero
		maxDuration, minDuration = durations[0], durations[0]
		for _, d := range durations {
			sum = sum.Add(d)
			if d.GreaterThan(maxDuration) {
				maxDuration = d
			}
			if d.LessThan(minDuration) {
				minDuration = d
			}
		}
		avgDuration = sum.Div(decimal.NewFromInt(int64(len(durations))))
	}

	return Result{
		StartTime:             start,
		EndTime:               end,
		InitialCapital:        p.InitialCapital,
		FinalEquity:           finalEquity,
		TotalPnL:              totalPnL,
		TotalReturnPct:        totalReturnPct,
		TotalTrades:           len(closing),
		WinningTrades:         winning,
		LosingTrades:          losing,
		WinRate:               winRate,
		GrossProfit:           grossProfit,
		GrossLoss:             grossLoss,
		ProfitFactor:          profitFactor,
		AverageWin:            averageWin,
		AverageLoss:           averageLoss,
		LargestWin:            largestWin,
		LargestLoss:           largestLoss,
		MaxDrawdown:           maxDD,
		MaxDrawdownPct:        maxDDPct,
		SharpeRatio:           sharpeRatio(p.EquityCurve),
		SortinoRatio:          sortinoRatio(p.EquityCurve),
		CalmarRatio:           calmar,
		TotalCommission:       p.TotalCommission,
		TotalSlippage:         p.TotalSlippage,
		TotalCosts:            p.TotalCommission.Add(p.TotalSlippage),
		AvgTradeDurationHours: avgDuration,
		MaxTradeDurationHours: maxDuration,
		MinTradeDurationHours: minDuration,
		EquityCurve:           p.EquityCurve,
		DrawdownCurve:         ddCurve,
		Trades:                trades,
	}
}

// drawdown walks the equity curve tracking the running peak. Returns the
// worst absolute and percentage drawdown plus the full drawdown-pct curve.
func drawdown(curve []portfolio.EquityPoint) (maxDD, maxDDPct decimal.Decimal, ddCurve []portfolio.EquityPoint) {
	peak := decimal.Zero
	for _, point := range curve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		dd := peak.Sub(point.Equity)
		ddPct := decimal.Zero
		if peak.Sign() > 0 {
			ddPct = dd.Div(peak)
		}
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
		if ddPct.GreaterThan(maxDDPct) {
			maxDDPct = ddPct
		}
		ddCurve = append(ddCurve, portfolio.EquityPoint{Timestamp: point.Timestamp, Equity: ddPct})
	}
	return maxDD, maxDDPct, ddCurve
}

// periodReturns converts the equity curve into simple per-period returns.
func periodReturns(curve []portfolio.EquityPoint) []decimal.Decimal {
	var returns []decimal.Decimal
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.Sign() > 0 {
			returns = append(returns, curve[i].Equity.Sub(prev).Div(prev))
		}
	}
	return returns
}

// sharpeRatio is the annualized mean-over-stddev of equity-curve returns.
// Degenerate inputs (short curve, zero variance) yield 0, never NaN.
func sharpeRatio(curve []portfolio.EquityPoint) decimal.Decimal {
	returns := periodReturns(curve)
	if len(returns) == 0 {
		return decimal.Zero
	}

	mean, stdDev := meanStdDev(returns)
	if stdDev.Sign() <= 0 {
		return decimal.Zero
	}

	annualizedReturn := mean.Mul(decimal.NewFromInt(252))
	annualizedStd := stdDev.Mul(annualization)
	return annualizedReturn.Div(annualizedStd)
}

// sortinoRatio annualizes mean return over downside deviation. A run with
// no negative returns reports the unbounded sentinel.
func sortinoRatio(curve []portfolio.EquityPoint) decimal.Decimal {
	returns := periodReturns(curve)
	if len(returns) == 0 {
		return decimal.Zero
	}

	mean := decimal.Zero
	for _, r := range returns {
		mean = mean.Add(r)
	}
	mean = mean.Div(decimal.NewFromInt(int64(len(returns))))

	var downside []decimal.Decimal
	for _, r := range returns {
		if r.Sign() < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return unbounded
	}

	varianceSum := decimal.Zero
	for _, r := range downside {
		varianceSum = varianceSum.Add(r.Mul(r))
	}
	variance := varianceSum.Div(decimal.NewFromInt(int64(len(downside))))
	if variance.Sign() <= 0 {
		return decimal.Zero
	}
	vf, _ := variance.Float64()
	downsideDev := decimal.NewFromFloat(math.Sqrt(vf))
	if downsideDev.Sign() <= 0 {
		return decimal.Zero
	}

	annualizedReturn := mean.Mul(decimal.NewFromInt(252))
	annualizedDev := downsideDev.Mul(annualization)
	return annualizedReturn.Div(annualizedDev)
}

// meanStdDev computes population mean and standard deviation. The square
// root runs through float64; everything else stays decimal.
func meanStdDev(returns []decimal.Decimal) (mean, stdDev decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(returns)))

	sum := decimal.Zero
	for _, r := range returns {
		sum = sum.Add(r)
	}
	mean = sum.Div(n)

	varianceSum := decimal.Zero
	for _, r := range returns {
		diff := r.Sub(mean)
		varianceSum = varianceSum.Add(diff.Mul(diff))
	}
	variance := varianceSum.Div(n)
	if variance.Sign() > 0 {
		vf, _ := variance.Float64()
		stdDev = decimal.NewFromFloat(math.Sqrt(vf))
	}
	return mean, stdDev
}

// Summary renders the human-readable report.
func (r Result) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== Backtest Results ===\n\n")
	fmt.Fprintf(&b, "Period: %s to %s\n", r.StartTime.Format("2006-01-02"), r.EndTime.Format("2006-01-02"))
	fmt.Fprintf(&b, "Duration: %d days\n\n", int(r.EndTime.Sub(r.StartTime).Hours()/24))

	fmt.Fprintf(&b, "Capital:\n")
	fmt.Fprintf(&b, "  Initial: $%s\n", r.InitialCapital.StringFixed(2))
	fmt.Fprintf(&b, "  Final: $%s\n", r.FinalEquity.StringFixed(2))
	fmt.Fprintf(&b, "  Total P&L: $%s\n", r.TotalPnL.StringFixed(2))
	fmt.Fprintf(&b, "  Return: %s%%\n\n", r.TotalReturnPct.Mul(decimal.NewFromInt(100)).StringFixed(2))

	fmt.Fprintf(&b, "Trades:\n")
	fmt.Fprintf(&b, "  Total: %d\n", r.TotalTrades)
	fmt.Fprintf(&b, "  Winners: %d\n", r.WinningTrades)
	fmt.Fprintf(&b, "  Losers: %d\n", r.LosingTrades)
	fmt.Fprintf(&b, "  Win Rate: %s%%\n\n", r.WinRate.Mul(decimal.NewFromInt(100)).StringFixed(2))

	fmt.Fprintf(&b, "P&L Analysis:\n")
	fmt.Fprintf(&b, "  Gross Profit: $%s\n", r.GrossProfit.StringFixed(2))
	fmt.Fprintf(&b, "  Gross Loss: $%s\n", r.GrossLoss.StringFixed(2))
	fmt.Fprintf(&b, "  Profit Factor: %s\n", r.ProfitFactor.StringFixed(2))
	fmt.Fprintf(&b, "  Average Win: $%s\n", r.AverageWin.StringFixed(2))
	fmt.Fprintf(&b, "  Average Loss: $%s\n", r.AverageLoss.StringFixed(2))
	fmt.Fprintf(&b, "  Largest Win: $%s\n", r.LargestWin.StringFixed(2))
	fmt.Fprintf(&b, "  Largest Loss: $%s\n\n", r.LargestLoss.StringFixed(2))

	fmt.Fprintf(&b, "Risk Metrics:\n")
	fmt.Fprintf(&b, "  Max Drawdown: $%s (%s%%)\n", r.MaxDrawdown.StringFixed(2),
		r.MaxDrawdownPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Fprintf(&b, "  Sharpe Ratio: %s\n", r.SharpeRatio.StringFixed(2))
	fmt.Fprintf(&b, "  Sortino Ratio: %s\n", r.SortinoRatio.StringFixed(2))
	fmt.Fprintf(&b, "  Calmar Ratio: %s\n\n", r.CalmarRatio.StringFixed(2))

	fmt.Fprintf(&b, "Costs:\n")
	fmt.Fprintf(&b, "  Commission: $%s\n", r.TotalCommission.StringFixed(2))
	fmt.Fprintf(&b, "  Slippage: $%s\n", r.TotalSlippage.StringFixed(2))
	fmt.Fprintf(&b, "  Total Costs: $%s\n\n", r.TotalCosts.StringFixed(2))

	fmt.Fprintf(&b, "Trade Duration:\n")
	fmt.Fprintf(&b, "  Average: %s hours\n", r.AvgTradeDurationHours.StringFixed(2))
	fmt.Fprintf(&b, "  Max: %s hours\n", r.MaxTradeDurationHours.StringFixed(2))
	fmt.Fprintf(&b, "  Min: %s hours\n", r.MinTradeDurationHours.StringFixed(2))

	return b.String()
}
