// Package data implements the market-data collector and the historical
// candle store.
//
// The collector sits between the exchange push feed and the engine,
// rejecting stale and duplicate messages and flagging price anomalies
// before events reach a strategy. The store keeps confirmed candles in
// SQLite for the backtest engine's historical queries.
package data

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

// QualityConfig tunes the validation checks.
type QualityConfig struct {
	// MaxStaleness rejects events older than this.
	MaxStaleness time.Duration `mapstructure:"max_staleness"`

	// MaxFutureDrift rejects events timestamped further ahead than this.
	MaxFutureDrift time.Duration `mapstructure:"max_future_drift"`

	// AnomalyWindowSize is the per-symbol price history length.
	AnomalyWindowSize int `mapstructure:"anomaly_window_size"`

	// AnomalyZScore flags prices whose z-score against the window
	// exceeds this. Anomalies are logged, not rejected.
	AnomalyZScore float64 `mapstructure:"anomaly_zscore"`

	// DedupWindowSize bounds the recently-seen message ID set.
	DedupWindowSize int `mapstructure:"dedup_window_size"`
}

// DefaultQualityConfig mirrors the collector defaults.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MaxStaleness:      30 * time.Second,
		MaxFutureDrift:    5 * time.Second,
		AnomalyWindowSize: 100,
		AnomalyZScore:     3.0,
		DedupWindowSize:   10000,
	}
}

// QualityStats counts validation outcomes.
type QualityStats struct {
	Processed           uint64
	StalenessRejections uint64
	DuplicateRejections uint64
	AnomaliesFlagged    uint64
}

// QualityControl validates market data before it reaches the engine.
type QualityControl struct {
	cfg QualityConfig

	mu       sync.Mutex
	history  map[string][]float64
	seen     map[string]bool
	seenFIFO []string
	stats    QualityStats
}

// NewQualityControl creates a validator.
func NewQualityControl(cfg QualityConfig) *QualityControl {
	return &QualityControl{
		cfg:     cfg,
		history: make(map[string][]float64),
		seen:    make(map[string]bool),
	}
}

// ValidateTimestamp rejects stale or future-dated events.
func (q *QualityControl) ValidateTimestamp(ts time.Time) error {
	now := time.Now().UTC()
	if now.Sub(ts) > q.cfg.MaxStaleness {
		q.mu.Lock()
		q.stats.StalenessRejections++
		q.mu.Unlock()
		return fmt.Errorf("stale event: %s old", now.Sub(ts).Round(time.Millisecond))
	}
	if ts.Sub(now) > q.cfg.MaxFutureDrift {
		q.mu.Lock()
		q.stats.StalenessRejections++
		q.mu.Unlock()
		return fmt.Errorf("future-dated event: %s ahead", ts.Sub(now).Round(time.Millisecond))
	}
	return nil
}

// CheckDuplicate rejects a message ID seen within the dedup window.
func (q *QualityControl) CheckDuplicate(messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.seen[messageID] {
		q.stats.DuplicateRejections++
		return fmt.Errorf("duplicate message %s", messageID)
	}
	q.seen[messageID] = true
	q.seenFIFO = append(q.seenFIFO, messageID)
	if len(q.seenFIFO) > q.cfg.DedupWindowSize {
		oldest := q.seenFIFO[0]
		q.seenFIFO = q.seenFIFO[1:]
		delete(q.seen, oldest)
	}
	return nil
}

// ObservePrice records a price and reports whether it is anomalous against
// the symbol's rolling window (z-score above the threshold). Anomalies are
// advisory; callers log them and keep the event.
func (q *QualityControl) ObservePrice(symbol types.Symbol, price decimal.Decimal) bool {
	value, _ := price.Float64()

	q.mu.Lock()
	defer q.mu.Unlock()

	key := symbol.String()
	history := q.history[key]

	anomalous := false
	if len(history) >= 10 {
		mean, stdDev := meanStdDevF(history)
		if stdDev > 0 {
			z := math.Abs(value-mean) / stdDev
			if z > q.cfg.AnomalyZScore {
				anomalous = true
				q.stats.AnomaliesFlagged++
			}
		}
	}

	history = append(history, value)
	if len(history) > q.cfg.AnomalyWindowSize {
		history = history[len(history)-q.cfg.AnomalyWindowSize:]
	}
	q.history[key] = history
	return anomalous
}

// MarkProcessed counts one accepted event.
func (q *QualityControl) MarkProcessed() {
	q.mu.Lock()
	q.stats.Processed++
	q.mu.Unlock()
}

// Stats returns a copy of the counters.
func (q *QualityControl) Stats() QualityStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func meanStdDevF(values []float64) (mean, stdDev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
