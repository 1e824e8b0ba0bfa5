// Package strategy defines the strategy capability set and a reference
// implementation.
//
// Strategies are owned by value by whichever engine runs them (live or
// backtest) and invoked synchronously inside the event loop; they never
// hold references back to the engine. The capability set is closed at this
// boundary; there is no runtime plugin loading.
package strategy

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/pkg/types"
)

// Status is the strategy lifecycle state.
type Status string

const (
	StatusCreated      Status = "created"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// SignalType classifies a trading signal.
type SignalType string

const (
	SignalBuy        SignalType = "buy"
	SignalSell       SignalType = "sell"
	SignalHold       SignalType = "hold"
	SignalCloseLong  SignalType = "close_long"
	SignalCloseShort SignalType = "close_short"
)

// Signal is a strategy's trading intention with optional price targets.
type Signal struct {
	Type              SignalType      `json:"type"`
	Confidence        float64         `json:"confidence"`
	TargetPrice       types.Price     `json:"target_price,omitempty"`
	StopLoss          types.Price     `json:"stop_loss,omitempty"`
	TakeProfit        types.Price     `json:"take_profit,omitempty"`
	SuggestedQuantity types.Quantity  `json:"suggested_quantity,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
}

// Hold is the neutral signal.
func Hold() Signal { return Signal{Type: SignalHold, Confidence: 1.0} }

// BuySignal creates a buy with the given confidence.
func BuySignal(confidence float64) Signal { return Signal{Type: SignalBuy, Confidence: confidence} }

// SellSignal creates a sell with the given confidence.
func SellSignal(confidence float64) Signal { return Signal{Type: SignalSell, Confidence: confidence} }

// Config parameterizes one strategy instance.
type Config struct {
	StrategyID uuid.UUID                  `json:"strategy_id"`
	Name       string                     `json:"name"`
	Version    string                     `json:"version"`
	Symbols    []types.Symbol             `json:"symbols"`
	Parameters map[string]json.RawMessage `json:"parameters,omitempty"`
}

// Metrics is the per-strategy performance summary.
type Metrics struct {
	SignalsGenerated int             `json:"signals_generated"`
	OrdersFilled     int             `json:"orders_filled"`
	OrdersRejected   int             `json:"orders_rejected"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	WinningTrades    int             `json:"winning_trades"`
	LosingTrades     int             `json:"losing_trades"`
}

// Strategy is the capability set every trading strategy implements.
// Variants are closed at this boundary; the engines dispatch on it alone.
type Strategy interface {
	// Initialize prepares the strategy before any event is delivered.
	Initialize(ctx context.Context, cfg Config) error

	// OnMarketData consumes one market event.
	OnMarketData(ctx context.Context, event types.MarketEvent) error

	// GenerateSignal returns the strategy's current intention. Called
	// after each market event.
	GenerateSignal(ctx context.Context) (Signal, error)

	// OnOrderFill notifies the strategy of an execution on its order.
	OnOrderFill(ctx context.Context, order *types.Order) error

	// OnOrderReject notifies the strategy of a rejected order.
	OnOrderReject(ctx context.Context, order *types.Order, reason string) error

	// GetMetrics reports performance counters.
	GetMetrics() Metrics

	// SerializeState snapshots internal state for hot-reload.
	SerializeState() (json.RawMessage, error)

	// DeserializeState restores a snapshot.
	DeserializeState(state json.RawMessage) error

	// Shutdown releases resources.
	Shutdown(ctx context.Context) error
}
