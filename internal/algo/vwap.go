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

// VwapConfig tunes a VWAP execution.
type VwapConfig struct {
	TotalQuantity types.Quantity
	StartTime     time.Time
	EndTime       time.Time

	// VolumeProfile maps hour-of-day (0-23, UTC) to its relative volume
	// weight. Hours absent from the profile use defaultHourWeight.
	VolumeProfile map[int]decimal.Decimal

	MinSliceSize   types.Quantity
	PriceOffsetBps int

	// SliceInterval is the wait between hourly slices. Defaults to one
	// hour; shorter values exist for tests.
	SliceInterval time.Duration
}

var defaultHourWeight = decimal.NewFromInt(4)

// DefaultVolumeProfile reflects typical crypto intraday volume, peaking in
// the US/EU overlap hours.
func DefaultVolumeProfile() map[int]decimal.Decimal {
	weights := []float64{
		2.0, 1.5, 1.0, 1.0, 1.5, 2.0, 3.0, 4.0,
		5.0, 6.0, 7.0, 6.0, 7.0, 8.0, 9.0, 8.0,
		7.0, 6.0, 5.0, 4.0, 3.5, 3.0, 2.5, 2.0,
	}
	profile := make(map[int]decimal.Decimal, len(weights))
	for hour, w := range weights {
		profile[hour] = decimal.NewFromFloat(w)
	}
	return profile
}

// DefaultVwapConfig runs over four hours with the default profile.
func DefaultVwapConfig(now time.Time) VwapConfig {
	return VwapConfig{
		StartTime:     now,
		EndTime:       now.Add(4 * time.Hour),
		VolumeProfile: DefaultVolumeProfile(),
		MinSliceSize:  types.MustQuantity("0.001"),
		SliceInterval: time.Hour,
	}
}

// VwapResult summarizes a VWAP execution.
type VwapResult struct {
	TotalExecuted  decimal.Decimal  `json:"total_executed"`
	AveragePrice   decimal.Decimal  `json:"average_price"`
	SlicesExecuted int              `json:"slices_executed"`
	TotalDuration  time.Duration    `json:"total_duration"`
	Slices         []SliceExecution `json:"slices"`

	// VwapDeviationBps is (avgExecuted - ref) / ref * 10000.
	VwapDeviationBps decimal.Decimal `json:"vwap_deviation_bps"`
}

// VwapExecutor works a parent order proportionally to historical hourly
// volume.
type VwapExecutor struct {
	cfg        VwapConfig
	symbol     types.Symbol
	side       types.Side
	strategyID uuid.UUID
	submitter  OrderSubmitter
	logger     *slog.Logger
}

// NewVwapExecutor creates an executor.
func NewVwapExecutor(cfg VwapConfig, symbol types.Symbol, side types.Side, strategyID uuid.UUID,
	submitter OrderSubmitter, logger *slog.Logger) *VwapExecutor {
	if cfg.SliceInterval <= 0 {
		cfg.SliceInterval = time.Hour
	}
	return &VwapExecutor{
		cfg:        cfg,
		symbol:     symbol,
		side:       side,
		strategyID: strategyID,
		submitter:  submitter,
		logger:     logger.With("component", "vwap"),
	}
}

// Execute submits one limit slice per hour in the window, sized by the
// hour's volume weight, clamped to the minimum slice size and to the
// remaining quantity.
func (e *VwapExecutor) Execute(ctx context.Context, refPrice types.Price) (VwapResult, error) {
	hours := int(e.cfg.EndTime.Sub(e.cfg.StartTime).Hours())
	if hours <= 0 {
		return VwapResult{}, fmt.Errorf("vwap: window %s to %s spans no full hour",
			e.cfg.StartTime.Format(time.RFC3339), e.cfg.EndTime.Format(time.RFC3339))
	}

	totalWeight := decimal.Zero
	for _, w := range e.cfg.VolumeProfile {
		totalWeight = totalWeight.Add(w)
	}
	if totalWeight.Sign() <= 0 {
		return VwapResult{}, fmt.Errorf("vwap: volume profile has no weight")
	}

	e.logger.Info("starting vwap",
		"symbol", e.symbol.String(),
		"side", e.side,
		"total", e.cfg.TotalQuantity,
		"hours", hours,
	)

	start := time.Now()
	var result VwapResult
	remaining := e.cfg.TotalQuantity.Decimal()
	totalCost := decimal.Zero
	slicePrice := offsetPrice(refPrice, e.side, e.cfg.PriceOffsetBps)

	for hour := 0; hour < hours && remaining.Sign() > 0; hour++ {
		hourOfDay := e.cfg.StartTime.Add(time.Duration(hour) * time.Hour).UTC().Hour()
		weight, ok := e.cfg.VolumeProfile[hourOfDay]
		if !ok {
			weight = defaultHourWeight
		}

		sliceSize := e.cfg.TotalQuantity.Decimal().Mul(weight).Div(totalWeight)
		if sliceSize.LessThan(e.cfg.MinSliceSize.Decimal()) {
			sliceSize = e.cfg.MinSliceSize.Decimal()
		}
		if sliceSize.GreaterThan(remaining) {
			sliceSize = remaining
		}

		record := SliceExecution{
			SliceNumber:    hour,
			TargetQuantity: sliceSize,
			Price:          slicePrice.Decimal(),
			Timestamp:      time.Now().UTC(),
		}
		if executed, err := e.submitSlice(ctx, sliceSize, slicePrice); err != nil {
			e.logger.Warn("vwap slice failed", "hour", hour, "error", err)
		} else {
			record.ExecutedQuantity = executed
			record.Success = true
			result.SlicesExecuted++
			result.TotalExecuted = result.TotalExecuted.Add(executed)
			totalCost = totalCost.Add(executed.Mul(slicePrice.Decimal()))
			remaining = remaining.Sub(executed)
		}
		result.Slices = append(result.Slices, record)

		if hour < hours-1 && remaining.Sign() > 0 {
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
	result.VwapDeviationBps = result.AveragePrice.Sub(refPrice.Decimal()).
		Div(refPrice.Decimal()).Mul(bps)

	e.logger.Info("vwap completed",
		"executed", result.TotalExecuted,
		"avg_price", result.AveragePrice,
		"deviation_bps", result.VwapDeviationBps,
	)
	return result, nil
}

func (e *VwapExecutor) submitSlice(ctx context.Context, size decimal.Decimal, price types.Price) (decimal.Decimal, error) {
	qty, err := types.NewQuantity(size)
	if err != nil {
		return decimal.Zero, err
	}
	child := types.NewOrder(e.strategyID, e.symbol, e.side, types.Limit, qty, price)

	if _, err := e.submitter.Submit(ctx, child); err != nil {
		return decimal.Zero, err
	}
	return size, nil
}
