// Package risk implements pre-trade order validation and portfolio risk
// analytics (VaR / expected shortfall).
//
// The validator runs all checks on every order rather than stopping at the
// first failure, so callers see the complete violation list. An order is
// accepted iff no Critical violation is present; Warning and Info entries
// are reported but do not block.
package risk

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/internal/portfolio"
	"github.com/heheshang/ea-okx/pkg/types"
)

// Severity classifies a risk violation.
type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
	Info     Severity = "info"
)

// Violation is one failed risk rule.
type Violation struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
}

// ValidationResult aggregates all violations for one order.
type ValidationResult struct {
	Violations []Violation `json:"violations"`
}

// IsValid reports whether the order may proceed (no Critical violations).
func (r *ValidationResult) IsValid() bool { return !r.HasCritical() }

// HasCritical reports whether any violation is Critical.
func (r *ValidationResult) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == Critical {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any violation is Warning.
func (r *ValidationResult) HasWarnings() bool {
	for _, v := range r.Violations {
		if v.Severity == Warning {
			return true
		}
	}
	return false
}

func (r *ValidationResult) add(severity Severity, rule, message string) {
	r.Violations = append(r.Violations, Violation{Severity: severity, Rule: rule, Message: message})
}

// Limits configures the pre-trade checks.
type Limits struct {
	// MaxPositionSize caps the signed per-symbol position after the
	// hypothetical fill. Symbols without an entry are uncapped.
	MaxPositionSize map[string]decimal.Decimal

	MaxPortfolioValue   decimal.Decimal
	MaxLeverage         decimal.Decimal
	DailyLossLimit      decimal.Decimal
	MaxConcentrationPct decimal.Decimal
	MaxOpenPositions    int
	MinMarginRatio      decimal.Decimal
}

// DefaultLimits mirrors a conservative account setup.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:     make(map[string]decimal.Decimal),
		MaxPortfolioValue:   decimal.NewFromInt(1000000),
		MaxLeverage:         decimal.NewFromInt(3),
		DailyLossLimit:      decimal.NewFromInt(10000),
		MaxConcentrationPct: decimal.NewFromInt(25),
		MaxOpenPositions:    10,
		MinMarginRatio:      decimal.NewFromFloat(0.15),
	}
}

// Validator runs pre-trade checks against a portfolio snapshot.
type Validator struct {
	limits Limits
	logger *slog.Logger
}

// NewValidator creates a validator with the given limits.
func NewValidator(limits Limits, logger *slog.Logger) *Validator {
	return &Validator{limits: limits, logger: logger.With("component", "risk")}
}

// Validate runs all checks in order. None short-circuits; the result
// carries every violation found.
func (v *Validator) Validate(order *types.Order, snap portfolio.Snapshot) ValidationResult {
	var result ValidationResult

	// Value the order once: limit orders at their quoted price, market
	// orders at the snapshot's current mark. With no mark the order values
	// at zero, under-estimating the budget checks, so an Info entry flags it.
	price := order.Price.Decimal()
	if order.Price.IsZero() {
		if mark, ok := snap.MarkPrices[order.Symbol.String()]; ok && mark.Sign() > 0 {
			price = mark
		} else {
			result.add(Info, "Order Valuation",
				fmt.Sprintf("no mark price for %s; market order valued at zero", order.Symbol))
		}
	}
	orderValue := price.Mul(order.Quantity.Decimal())

	v.checkPositionSize(order, snap, &result)
	v.checkLeverage(orderValue, snap, &result)
	v.checkDailyLoss(snap, &result)
	v.checkConcentration(orderValue, snap, &result)
	v.checkMargin(orderValue, snap, &result)
	v.checkMaxPositions(order, snap, &result)

	if result.HasCritical() {
		v.logger.Warn("order rejected by risk checks",
			"order_id", order.ID,
			"symbol", order.Symbol.String(),
			"violations", len(result.Violations),
		)
	}
	return result
}

func (v *Validator) checkPositionSize(order *types.Order, snap portfolio.Snapshot, result *ValidationResult) {
	maxQty, ok := v.limits.MaxPositionSize[order.Symbol.String()]
	if !ok {
		return
	}

	current := decimal.Zero
	for _, pos := range snap.Positions {
		if pos.Symbol == order.Symbol {
			current = pos.Quantity.Decimal()
			break
		}
	}

	var newPosition decimal.Decimal
	if order.Side == types.Buy {
		newPosition = current.Add(order.Quantity.Decimal())
	} else {
		newPosition = current.Sub(order.Quantity.Decimal()).Abs()
	}

	if newPosition.GreaterThan(maxQty) {
		result.add(Critical, "Position Size Limit", fmt.Sprintf(
			"new position %s exceeds limit %s for %s", newPosition, maxQty, order.Symbol))
	}
}

func (v *Validator) checkLeverage(orderValue decimal.Decimal, snap portfolio.Snapshot, result *ValidationResult) {
	totalExposure := orderValue
	for _, pos := range snap.Positions {
		totalExposure = totalExposure.Add(pos.Value().Abs())
	}

	leverage := decimal.Zero
	if snap.TotalEquity.Sign() > 0 {
		leverage = totalExposure.Div(snap.TotalEquity)
	}

	if leverage.GreaterThan(v.limits.MaxLeverage) {
		result.add(Critical, "Leverage Limit", fmt.Sprintf(
			"leverage %sx exceeds limit %sx", leverage.Round(2), v.limits.MaxLeverage))
	}
}

func (v *Validator) checkDailyLoss(snap portfolio.Snapshot, result *ValidationResult) {
	if snap.DailyPnL.LessThan(v.limits.DailyLossLimit.Neg()) {
		result.add(Critical, "Daily Loss Limit", fmt.Sprintf(
			"daily loss %s exceeds limit %s", snap.DailyPnL.Abs(), v.limits.DailyLossLimit))
	}
}

func (v *Validator) checkConcentration(orderValue decimal.Decimal, snap portfolio.Snapshot, result *ValidationResult) {
	concentrationPct := decimal.NewFromInt(100)
	if snap.TotalEquity.Sign() > 0 {
		concentrationPct = orderValue.Div(snap.TotalEquity).Mul(decimal.NewFromInt(100))
	}

	if concentrationPct.GreaterThan(v.limits.MaxConcentrationPct) {
		result.add(Warning, "Concentration Limit", fmt.Sprintf(
			"order concentration %s%% exceeds limit %s%%",
			concentrationPct.Round(2), v.limits.MaxConcentrationPct))
	}
}

func (v *Validator) checkMargin(orderValue decimal.Decimal, snap portfolio.Snapshot, result *ValidationResult) {
	required := orderValue.Mul(v.limits.MinMarginRatio)

	if snap.AvailableMargin.LessThan(required) {
		result.add(Critical, "Margin Requirement", fmt.Sprintf(
			"required margin %s, available %s", required.Round(2), snap.AvailableMargin.Round(2)))
	}
}

func (v *Validator) checkMaxPositions(order *types.Order, snap portfolio.Snapshot, result *ValidationResult) {
	for _, pos := range snap.Positions {
		if pos.Symbol == order.Symbol {
			return // adding to an existing position never opens a new slot
		}
	}
	if len(snap.Positions) >= v.limits.MaxOpenPositions {
		result.add(Warning, "Maximum Positions", fmt.Sprintf(
			"maximum positions %d reached", v.limits.MaxOpenPositions))
	}
}
