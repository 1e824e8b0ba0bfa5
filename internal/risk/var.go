package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

// VarMethod selects the VaR calculation.
type VarMethod string

const (
	Historical VarMethod = "historical"
	Parametric VarMethod = "parametric"
	MonteCarlo VarMethod = "monte_carlo"
)

// VarConfig configures the calculator.
type VarConfig struct {
	// ConfidenceLevel, e.g. 0.95 or 0.99.
	ConfidenceLevel float64

	TimeHorizonDays int
	LookbackDays    int
	Method          VarMethod

	// Simulations is the resample count for Monte Carlo.
	Simulations int

	// Seed makes Monte Carlo resampling reproducible.
	Seed uint64
}

// DefaultVarConfig is 1-day 95% historical VaR over a 1-year lookback.
func DefaultVarConfig() VarConfig {
	return VarConfig{
		ConfidenceLevel: 0.95,
		TimeHorizonDays: 1,
		LookbackDays:    252,
		Method:          Historical,
		Simulations:     10000,
		Seed:            0x123456789abcdef,
	}
}

// VarResult is one VaR calculation outcome.
type VarResult struct {
	VarAmount       decimal.Decimal            `json:"var_amount"`
	VarPercentage   decimal.Decimal            `json:"var_percentage"`
	ConfidenceLevel float64                    `json:"confidence_level"`
	Method          VarMethod                  `json:"method"`
	ComponentVars   map[string]decimal.Decimal `json:"component_vars"`
}

// VarCalculator computes portfolio VaR from per-position return series.
type VarCalculator struct {
	cfg VarConfig
}

// NewVarCalculator creates a calculator.
func NewVarCalculator(cfg VarConfig) *VarCalculator {
	return &VarCalculator{cfg: cfg}
}

// Calculate runs the configured method. returns holds one equal-length
// series per position, aligned with positions by index.
func (c *VarCalculator) Calculate(positions []*types.Position, returns [][]decimal.Decimal, portfolioValue decimal.Decimal) (VarResult, error) {
	switch c.cfg.Method {
	case Parametric:
		return c.parametric(positions, returns, portfolioValue)
	case MonteCarlo:
		return c.monteCarlo(positions, returns, portfolioValue)
	default:
		return c.historical(positions, returns, portfolioValue)
	}
}

// historical sorts the portfolio-return distribution and takes the
// (1-confidence) quantile.
func (c *VarCalculator) historical(positions []*types.Position, returns [][]decimal.Decimal, portfolioValue decimal.Decimal) (VarResult, error) {
	if len(returns) == 0 {
		return VarResult{}, fmt.Errorf("%w: no historical returns", types.ErrInsufficientData)
	}

	portfolioReturns := c.portfolioReturns(positions, returns)
	varReturn := quantileReturn(portfolioReturns, c.cfg.ConfidenceLevel)

	return VarResult{
		VarAmount:       varReturn.Abs().Mul(portfolioValue),
		VarPercentage:   varReturn.Abs().Mul(decimal.NewFromInt(100)),
		ConfidenceLevel: c.cfg.ConfidenceLevel,
		Method:          Historical,
		ComponentVars:   c.componentVars(positions, returns),
	}, nil
}

// parametric uses the variance-covariance approximation with a fixed
// z-score table: 2.33 at 99%, 1.65 at 95%, 1.28 at 90%.
func (c *VarCalculator) parametric(positions []*types.Position, returns [][]decimal.Decimal, portfolioValue decimal.Decimal) (VarResult, error) {
	if len(returns) == 0 {
		return VarResult{}, fmt.Errorf("%w: no historical returns", types.ErrInsufficientData)
	}

	portfolioReturns := c.portfolioReturns(positions, returns)
	if len(portfolioReturns) == 0 {
		return VarResult{}, fmt.Errorf("%w: empty return series", types.ErrInsufficientData)
	}

	_, stdDev := meanStdDev(portfolioReturns)

	var z decimal.Decimal
	switch {
	case c.cfg.ConfidenceLevel >= 0.99:
		z = decimal.NewFromFloat(2.33)
	case c.cfg.ConfidenceLevel >= 0.95:
		z = decimal.NewFromFloat(1.65)
	case c.cfg.ConfidenceLevel >= 0.90:
		z = decimal.NewFromFloat(1.28)
	default:
		z = decimal.NewFromFloat(1.65)
	}

	varReturn := stdDev.Mul(z)
	return VarResult{
		VarAmount:       varReturn.Mul(portfolioValue),
		VarPercentage:   varReturn.Mul(decimal.NewFromInt(100)),
		ConfidenceLevel: c.cfg.ConfidenceLevel,
		Method:          Parametric,
		ComponentVars:   c.componentVars(positions, returns),
	}, nil
}

// monteCarlo resamples the historical portfolio-return distribution with a
// seeded generator, then reads the quantile off the resampled set. The
// seed path is fully deterministic given the config.
func (c *VarCalculator) monteCarlo(positions []*types.Position, returns [][]decimal.Decimal, portfolioValue decimal.Decimal) (VarResult, error) {
	if len(returns) == 0 {
		return VarResult{}, fmt.Errorf("%w: no historical returns", types.ErrInsufficientData)
	}

	portfolioReturns := c.portfolioReturns(positions, returns)
	if len(portfolioReturns) == 0 {
		return VarResult{}, fmt.Errorf("%w: empty return series", types.ErrInsufficientData)
	}

	sims := c.cfg.Simulations
	if sims <= 0 {
		sims = 10000
	}
	rng := newLCG(c.cfg.Seed)
	sampled := make([]decimal.Decimal, sims)
	for i := 0; i < sims; i++ {
		sampled[i] = portfolioReturns[rng.Intn(len(portfolioReturns))]
	}

	varReturn := quantileReturn(sampled, c.cfg.ConfidenceLevel)
	return VarResult{
		VarAmount:       varReturn.Abs().Mul(portfolioValue),
		VarPercentage:   varReturn.Abs().Mul(decimal.NewFromInt(100)),
		ConfidenceLevel: c.cfg.ConfidenceLevel,
		Method:          MonteCarlo,
		ComponentVars:   c.componentVars(positions, returns),
	}, nil
}

// ExpectedShortfall is the mean of the return tail below VaR, times value.
func (c *VarCalculator) ExpectedShortfall(positions []*types.Position, returns [][]decimal.Decimal, portfolioValue decimal.Decimal) (decimal.Decimal, error) {
	if len(returns) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no historical returns", types.ErrInsufficientData)
	}

	portfolioReturns := c.portfolioReturns(positions, returns)
	sorted := sortedCopy(portfolioReturns)

	tail := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(c.cfg.ConfidenceLevel))
	varIndex := int(tail.Mul(decimal.NewFromInt(int64(len(sorted)))).IntPart())
	if varIndex == 0 {
		return decimal.Zero, nil
	}

	tailSum := decimal.Zero
	for _, r := range sorted[:varIndex] {
		tailSum = tailSum.Add(r)
	}
	avgTail := tailSum.Div(decimal.NewFromInt(int64(varIndex)))
	return avgTail.Abs().Mul(portfolioValue), nil
}

// portfolioReturns collapses per-position series into a value-weighted
// portfolio-return series, truncated to the shortest series.
func (c *VarCalculator) portfolioReturns(positions []*types.Position, returns [][]decimal.Decimal) []decimal.Decimal {
	if len(positions) == 0 {
		return []decimal.Decimal{decimal.Zero}
	}

	periods := -1
	for _, series := range returns {
		if periods < 0 || len(series) < periods {
			periods = len(series)
		}
	}
	if periods <= 0 {
		return nil
	}

	totalValue := decimal.Zero
	for _, pos := range positions {
		totalValue = totalValue.Add(pos.Value())
	}

	out := make([]decimal.Decimal, 0, periods)
	for period := 0; period < periods; period++ {
		periodReturn := decimal.Zero
		for i, pos := range positions {
			if i >= len(returns) {
				break
			}
			weight := decimal.Zero
			if totalValue.Sign() > 0 {
				weight = pos.Value().Div(totalValue)
			}
			periodReturn = periodReturn.Add(returns[i][period].Mul(weight))
		}
		out = append(out, periodReturn)
	}
	return out
}

// componentVars applies the historical quantile to each position's series
// independently, weighted by that position's value.
func (c *VarCalculator) componentVars(positions []*types.Position, returns [][]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(positions))
	for i, pos := range positions {
		if i >= len(returns) {
			break
		}
		varReturn := quantileReturn(returns[i], c.cfg.ConfidenceLevel)
		out[pos.Symbol.String()] = varReturn.Abs().Mul(pos.Value())
	}
	return out
}

// quantileReturn sorts ascending and picks the floor((1-c)*N) element.
func quantileReturn(returns []decimal.Decimal, confidence float64) decimal.Decimal {
	if len(returns) == 0 {
		return decimal.Zero
	}
	sorted := sortedCopy(returns)
	tail := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(confidence))
	index := int(tail.Mul(decimal.NewFromInt(int64(len(sorted)))).IntPart())
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func sortedCopy(returns []decimal.Decimal) []decimal.Decimal {
	sorted := make([]decimal.Decimal, len(returns))
	copy(sorted, returns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	return sorted
}

// meanStdDev computes the population mean and standard deviation of a
// return series. The square root runs through float64; everything else
// stays decimal.
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

// lcg is a small deterministic linear congruential generator used for
// reproducible Monte Carlo resampling.
type lcg struct {
	state uint64
}

func newLCG(seed uint64) *lcg {
	if seed == 0 {
		seed = 0x123456789abcdef
	}
	return &lcg{state: seed}
}

func (g *lcg) next() uint64 {
	g.state = g.state*6364136223846793005 + 1
	return g.state
}

// Intn returns a value in [0, n).
func (g *lcg) Intn(n int) int {
	return int((g.next() >> 32) % uint64(n))
}
