// Package algo implements execution algorithms that work a parent order
// into child orders through the order manager.
//
// TWAP slices uniformly over time with a seeded multiplicative jitter;
// VWAP weights slices by a historical per-hour volume profile. Both stop
// generating slices as soon as the context is cancelled; a slice already
// submitted completes and reports normally.
package algo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

var bps = decimal.NewFromInt(10000)

// OrderSubmitter is the slice of the order manager the executors need.
type OrderSubmitter interface {
	Submit(ctx context.Context, order *types.Order) (uuid.UUID, error)
}

// SliceExecution records one child-order attempt.
type SliceExecution struct {
	SliceNumber      int             `json:"slice_number"`
	TargetQuantity   decimal.Decimal `json:"target_quantity"`
	ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
	Price            decimal.Decimal `json:"price"`
	Timestamp        time.Time       `json:"timestamp"`
	Success          bool            `json:"success"`
}

// TwapConfig tunes a TWAP execution.
type TwapConfig struct {
	TotalQuantity types.Quantity
	Duration      time.Duration
	SliceInterval time.Duration

	// RandomizationPct jitters each slice size uniformly in
	// [1 - pct/100, 1 + pct/100].
	RandomizationPct decimal.Decimal

	OrderType      types.OrderType
	PriceOffsetBps int

	// AggressiveOnFinal switches the last slice to a market order.
	AggressiveOnFinal bool
}

// DefaultTwapConfig is a 30-minute run with 2-minute slices and 10% jitter.
func DefaultTwapConfig() TwapConfig {
	return TwapConfig{
		Duration:          30 * time.Minute,
		SliceInterval:     2 * time.Minute,
		RandomizationPct:  decimal.NewFromInt(10),
		OrderType:         types.Limit,
		AggressiveOnFinal: true,
	}
}

// TwapResult summarizes a TWAP execution.
type TwapResult struct {
	TotalExecuted  decimal.Decimal  `json:"total_executed"`
	AveragePrice   decimal.Decimal  `json:"average_price"`
	SlicesExecuted int              `json:"slices_executed"`
	SlicesFailed   int              `json:"slices_failed"`
	TotalDuration  time.Duration    `json:"total_duration"`
	Slices         []SliceExecution `json:"slices"`
}

// TwapExecutor works a parent order in uniform time slices.
type TwapExecutor struct {
	cfg        TwapConfig
	symbol     types.Symbol
	side       types.Side
	strategyID uuid.UUID
	submitter  OrderSubmitter
	jitter     Jitter
	logger     *slog.Logger
}

// NewTwapExecutor creates an executor. jitter may be nil, in which case a
// default seeded source is used.
func NewTwapExecutor(cfg TwapConfig, symbol types.Symbol, side types.Side, strategyID uuid.UUID,
	submitter OrderSubmitter, jitter Jitter, logger *slog.Logger) *TwapExecutor {
	if jitter == nil {
		jitter = NewSeededJitter(0)
	}
	return &TwapExecutor{
		cfg:        cfg,
		symbol:     symbol,
		side:       side,
		strategyID: strategyID,
		submitter:  submitter,
		jitter:     jitter,
		logger:     logger.With("component", "twap"),
	}
}

// Execute runs the schedule against a reference price. Completes when the
// requested total is placed or the window ends; cancellation stops new
// slices immediately.
func (e *TwapExecutor) Execute(ctx context.Context, refPrice types.Price) (TwapResult, error) {
	if e.cfg.SliceInterval <= 0 || e.cfg.Duration < e.cfg.SliceInterval {
		return TwapResult{}, fmt.Errorf("twap: duration %s shorter than slice interval %s",
			e.cfg.Duration, e.cfg.SliceInterval)
	}

	start := time.Now()
	sliceCount := int(e.cfg.Duration / e.cfg.SliceInterval)
	if sliceCount < 1 {
		sliceCount = 1
	}
	baseSize := e.cfg.TotalQuantity.Decimal().Div(decimal.NewFromInt(int64(sliceCount)))

	e.logger.Info("starting twap",
		"symbol", e.symbol.String(),
		"side", e.side,
		"total", e.cfg.TotalQuantity,
		"slices", sliceCount,
	)

	var result TwapResult
	remaining := e.cfg.TotalQuantity.Decimal()
	totalCost := decimal.Zero

	for sliceNum := 0; sliceNum < sliceCount && remaining.Sign() > 0; sliceNum++ {
		// Uniform jitter in [1-r, 1+r], clamped to what remains.
		sliceSize := baseSize
		if e.cfg.RandomizationPct.Sign() > 0 {
			spread := e.cfg.RandomizationPct.Div(decimal.NewFromInt(100))
			factor := decimal.NewFromInt(1).Add(
				decimal.NewFromFloat((e.jitter.Float64() - 0.5) * 2).Mul(spread))
			sliceSize = baseSize.Mul(factor)
		}
		if sliceSize.GreaterThan(remaining) {
			sliceSize = remaining
		}

		isFinal := sliceNum == sliceCount-1 || sliceSize.GreaterThanOrEqual(remaining)
		orderType := e.cfg.OrderType
		if isFinal && e.cfg.AggressiveOnFinal {
			orderType = types.Market
		}
		slicePrice := offsetPrice(refPrice, e.side, e.cfg.PriceOffsetBps)

		executed, err := e.submitSlice(ctx, sliceSize, slicePrice, orderType)
		record := SliceExecution{
			SliceNumber:    sliceNum,
			TargetQuantity: sliceSize,
			Price:          slicePrice.Decimal(),
			Timestamp:      time.Now().UTC(),
		}
		if err != nil {
			e.logger.Warn("twap slice failed",
				"slice", sliceNum+1, "of", sliceCount, "error", err)
			result.SlicesFailed++
		} else {
			record.ExecutedQuantity = executed
			record.Success = true
			result.SlicesExecuted++
			result.TotalExecuted = result.TotalExecuted.Add(executed)
			totalCost = totalCost.Add(executed.Mul(slicePrice.Decimal()))
			remaining = remaining.Sub(executed)
		}
		result.Slices = append(result.Slices, record)

		if !isFinal {
			select {
			case <-ctx.Done():
				result.TotalDuration = time.Since(start)
				return result, ctx.Err()
			case <-time.After(e.cfg.SliceInterval):
			}
		}
	}

	result.TotalDuration = time.Since(start)
	result.AveragePrice = refPrice.Decimal()
	if result.TotalExecuted.Sign() > 0 {
		result.AveragePrice = totalCost.Div(result.TotalExecuted)
	}

	e.logger.Info("twap completed",
		"executed", result.TotalExecuted,
		"avg_price", result.AveragePrice,
		"slices", result.SlicesExecuted,
		"failed", result.SlicesFailed,
	)
	return result, nil
}

// submitSlice places one child order through the order manager.
func (e *TwapExecutor) submitSlice(ctx context.Context, size decimal.Decimal, price types.Price, orderType types.OrderType) (decimal.Decimal, error) {
	qty, err := types.NewQuantity(size)
	if err != nil {
		return decimal.Zero, err
	}

	limitPrice := price
	if orderType == types.Market {
		limitPrice = types.Price{}
	}
	child := types.NewOrder(e.strategyID, e.symbol, e.side, orderType, qty, limitPrice)

	if _, err := e.submitter.Submit(ctx, child); err != nil {
		return decimal.Zero, err
	}
	return size, nil
}

// offsetPrice shifts the reference by the configured offset: buys up,
// sells down.
func offsetPrice(ref types.Price, side types.Side, offsetBps int) types.Price {
	if offsetBps == 0 {
		return ref
	}
	offset := ref.Decimal().Mul(decimal.NewFromInt(int64(offsetBps))).Div(bps)

	var adjusted decimal.Decimal
	if side == types.Buy {
		adjusted = ref.Decimal().Add(offset)
	} else {
		adjusted = ref.Decimal().Sub(offset)
	}

	price, err := types.NewPrice(adjusted)
	if err != nil {
		return ref
	}
	return price
}
