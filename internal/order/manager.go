// Package order implements the order manager, the mediator between
// strategies and the exchange.
//
// The manager owns every order record and its state machine. All mutation
// funnels through one mutex, so per-order transitions are serialized and
// the event stream stays FIFO per order. The mutex is never held across a
// network call: exchange submits, cancels, and queries happen with the
// lock released, and their outcomes re-enter through guarded apply methods.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/heheshang/ea-okx/internal/lifecycle"
	"github.com/heheshang/ea-okx/pkg/types"
)

// Exchange is the slice of the exchange client the manager needs.
type Exchange interface {
	SubmitOrder(ctx context.Context, order *types.Order) (exchangeID string, err error)
	CancelOrder(ctx context.Context, exchangeID string) error
	QueryOrder(ctx context.Context, exchangeID string) (*ExchangeStatus, error)
}

// ExchangeStatus is the exchange's view of one order, used for
// reconciliation convergence.
type ExchangeStatus struct {
	State     types.OrderState
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
}

// Config tunes submission retry and reconciliation.
type Config struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	OrderTimeout      time.Duration `mapstructure:"order_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	EventBuffer       int           `mapstructure:"event_buffer"`
}

// DefaultConfig mirrors the platform defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 10 * time.Second,
		OrderTimeout:      30 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      time.Second,
		EventBuffer:       256,
	}
}

// managedOrder pairs an order with its state machine and retry counter.
type managedOrder struct {
	order   *types.Order
	sm      *lifecycle.StateMachine
	retries int
}

// Manager tracks orders through their lifecycle against the exchange.
type Manager struct {
	cfg      Config
	exchange Exchange
	logger   *slog.Logger

	mu          sync.Mutex
	orders      map[uuid.UUID]*managedOrder
	exchangeIDs map[string]uuid.UUID

	events chan types.OrderEvent

	wg sync.WaitGroup
}

// NewManager creates an order manager.
func NewManager(cfg Config, exchange Exchange, logger *slog.Logger) *Manager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &Manager{
		cfg:         cfg,
		exchange:    exchange,
		logger:      logger.With("component", "order_manager"),
		orders:      make(map[uuid.UUID]*managedOrder),
		exchangeIDs: make(map[string]uuid.UUID),
		events:      make(chan types.OrderEvent, cfg.EventBuffer),
	}
}

// Events returns the lifecycle event stream. Single consumer.
func (m *Manager) Events() <-chan types.OrderEvent { return m.events }

// Submit registers an order that already passed pre-trade validation,
// transitions it Created -> Validated, and hands it to an asynchronous
// exchange submission with retry. Returns the internal order ID.
func (m *Manager) Submit(ctx context.Context, order *types.Order) (uuid.UUID, error) {
	m.mu.Lock()
	if _, exists := m.orders[order.ID]; exists {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("order %s already submitted", order.ID)
	}

	sm := lifecycle.New(order.ID)
	if err := sm.Transition(types.StateValidated, "pre-trade checks passed"); err != nil {
		m.mu.Unlock()
		return uuid.Nil, err
	}
	order.State = types.StateValidated
	m.orders[order.ID] = &managedOrder{order: order, sm: sm}
	m.mu.Unlock()

	m.emit(types.OrderEvent{Kind: types.OrderCreated, OrderID: order.ID, Timestamp: time.Now().UTC()})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.submitToExchange(ctx, order.ID)
	}()

	return order.ID, nil
}

// submitToExchange drives Validated -> Submitted -> Acknowledged with
// linear-backoff retry on transient failures. Exhaustion fails the order;
// a business rejection rejects it immediately.
func (m *Manager) submitToExchange(ctx context.Context, orderID uuid.UUID) {
	orderCopy, ok := m.transitionAndCopy(orderID, types.StateSubmitted, "sending to exchange")
	if !ok {
		return
	}
	m.emit(types.OrderEvent{Kind: types.OrderSubmitted, OrderID: orderID, Timestamp: time.Now().UTC()})

	var exchangeID string
	var err error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		exchangeID, err = m.exchange.SubmitOrder(ctx, &orderCopy)
		if err == nil {
			break
		}
		if errors.Is(err, types.ErrExchangeRejected) {
			m.applyRejection(orderID, err.Error())
			return
		}
		m.logger.Warn("order submission failed",
			"order_id", orderID, "attempt", attempt, "error", err)

		if attempt == m.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			m.applyFailure(orderID, "submission cancelled")
			return
		case <-time.After(m.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		m.applyFailure(orderID, fmt.Sprintf("submission retries exhausted: %v", err))
		return
	}

	m.applyAcknowledgement(orderID, exchangeID)
}

// Cancel requests cancellation. Allowed only while CanCancel holds; the
// state moves to Cancelled once the exchange confirms.
func (m *Manager) Cancel(ctx context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	managed, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	if !managed.sm.CanCancel() {
		state := managed.sm.Current
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel order %s in state %s",
			types.ErrInvalidStateTransition, orderID, state)
	}
	exchangeID := managed.order.ExchangeID
	m.mu.Unlock()

	if exchangeID != "" {
		if err := m.exchange.CancelOrder(ctx, exchangeID); err != nil {
			return fmt.Errorf("cancel order %s: %w", orderID, err)
		}
	}

	return m.applyTransition(orderID, types.StateCancelled, "user requested",
		types.OrderEvent{Kind: types.OrderCancelled, OrderID: orderID})
}

// HandleFill applies an execution pushed by the exchange (or simulator):
// accumulates the fill on the order and moves it to PartiallyFilled or
// Filled. Idempotent against duplicate terminal updates.
func (m *Manager) HandleFill(orderID uuid.UUID, qty types.Quantity, price types.Price, now time.Time) error {
	m.mu.Lock()
	managed, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}

	if err := managed.order.ApplyFill(qty, price, now); err != nil {
		m.mu.Unlock()
		return err
	}

	full := managed.order.Remaining().IsZero()
	target := types.StatePartiallyFilled
	kind := types.OrderPartiallyFilled
	if full {
		target = types.StateFilled
		kind = types.OrderFilled
	}
	if err := managed.sm.Transition(target, fmt.Sprintf("filled %s/%s",
		managed.order.FilledQuantity, managed.order.Quantity)); err != nil {
		m.mu.Unlock()
		return err
	}
	managed.order.State = target
	event := types.OrderEvent{
		Kind:       kind,
		OrderID:    orderID,
		ExchangeID: managed.order.ExchangeID,
		FilledQty:  managed.order.FilledQuantity.Decimal(),
		AvgPrice:   managed.order.AvgFillPrice.Decimal(),
		Timestamp:  now,
	}
	m.mu.Unlock()

	m.emit(event)
	return nil
}

// HandleRejection applies an exchange-side business rejection.
func (m *Manager) HandleRejection(orderID uuid.UUID, reason string) error {
	m.applyRejection(orderID, reason)
	return nil
}

// Get returns a snapshot copy of one order.
func (m *Manager) Get(orderID uuid.UUID) (types.Order, types.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	managed, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, "", fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	return *managed.order, managed.sm.Current, nil
}

// ByExchangeID resolves an exchange order ID to the internal ID.
func (m *Manager) ByExchangeID(exchangeID string) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.exchangeIDs[exchangeID]
	return id, ok
}

// ActiveOrders returns snapshot copies of all non-terminal orders.
func (m *Manager) ActiveOrders() []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Order, 0, len(m.orders))
	for _, managed := range m.orders {
		if managed.sm.IsActive() {
			out = append(out, *managed.order)
		}
	}
	return out
}

// Stats summarizes order counts by outcome.
type Stats struct {
	Total     int
	Active    int
	Filled    int
	Cancelled int
	Rejected  int
	Failed    int
	Expired   int
}

// GetStats counts orders by state.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{Total: len(m.orders)}
	for _, managed := range m.orders {
		switch managed.sm.Current {
		case types.StateFilled:
			stats.Filled++
		case types.StateCancelled:
			stats.Cancelled++
		case types.StateRejected:
			stats.Rejected++
		case types.StateFailed:
			stats.Failed++
		case types.StateExpired:
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats
}

// RunReconciler runs the periodic reconciliation loop until ctx ends.
func (m *Manager) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

// reconcile expires orders stuck past the timeout and converges active
// orders with the exchange's authoritative state. Idempotent; terminal
// orders are never touched.
func (m *Manager) reconcile(ctx context.Context) {
	type candidate struct {
		id         uuid.UUID
		exchangeID string
		timedOut   bool
	}

	m.mu.Lock()
	candidates := make([]candidate, 0, len(m.orders))
	for id, managed := range m.orders {
		if !managed.sm.IsActive() {
			continue
		}
		candidates = append(candidates, candidate{
			id:         id,
			exchangeID: managed.order.ExchangeID,
			timedOut:   managed.sm.TimeInState() > m.cfg.OrderTimeout,
		})
	}
	m.mu.Unlock()

	for _, cand := range candidates {
		if cand.timedOut {
			// Best-effort cancel at the exchange; the order expires locally
			// regardless of the outcome.
			if cand.exchangeID != "" {
				if err := m.exchange.CancelOrder(ctx, cand.exchangeID); err != nil {
					m.logger.Warn("best-effort cancel failed",
						"order_id", cand.id, "error", err)
				}
			}
			m.logger.Warn("order timed out", "order_id", cand.id)
			_ = m.applyTransition(cand.id, types.StateExpired, "reconciler timeout",
				types.OrderEvent{Kind: types.OrderExpired, OrderID: cand.id})
			continue
		}

		if cand.exchangeID == "" {
			continue
		}
		status, err := m.exchange.QueryOrder(ctx, cand.exchangeID)
		if err != nil {
			m.logger.Warn("reconcile query failed", "order_id", cand.id, "error", err)
			continue
		}
		m.converge(cand.id, status)
	}
}

// converge applies the exchange's view of an order when it is ahead of the
// local state, typically after a missed push event.
func (m *Manager) converge(orderID uuid.UUID, status *ExchangeStatus) {
	m.mu.Lock()
	managed, ok := m.orders[orderID]
	if !ok || status == nil || !managed.sm.IsActive() || managed.sm.Current == status.State {
		m.mu.Unlock()
		return
	}
	localFilled := managed.order.FilledQuantity.Decimal()
	m.mu.Unlock()

	switch status.State {
	case types.StatePartiallyFilled, types.StateFilled:
		missing := status.FilledQty.Sub(localFilled)
		if missing.Sign() > 0 {
			qty, err := types.NewQuantity(missing)
			if err != nil {
				return
			}
			price, err := types.NewPrice(status.AvgPrice)
			if err != nil {
				return
			}
			if err := m.HandleFill(orderID, qty, price, time.Now().UTC()); err != nil {
				m.logger.Warn("reconcile fill failed", "order_id", orderID, "error", err)
			}
		}
	case types.StateCancelled:
		_ = m.applyTransition(orderID, types.StateCancelled, "reconciler: exchange cancelled",
			types.OrderEvent{Kind: types.OrderCancelled, OrderID: orderID})
	case types.StateRejected:
		m.applyRejection(orderID, "reconciler: exchange rejected")
	}
}

// transitionAndCopy performs a guarded transition and returns a snapshot
// of the order for use outside the lock.
func (m *Manager) transitionAndCopy(orderID uuid.UUID, to types.OrderState, reason string) (types.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	managed, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, false
	}
	if err := managed.sm.Transition(to, reason); err != nil {
		m.logger.Error("state transition failed",
			"order_id", orderID, "to", to, "error", err)
		return types.Order{}, false
	}
	managed.order.State = to
	return *managed.order, true
}

// applyTransition performs a guarded transition and emits the event.
func (m *Manager) applyTransition(orderID uuid.UUID, to types.OrderState, reason string, event types.OrderEvent) error {
	m.mu.Lock()
	managed, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, orderID)
	}
	if err := managed.sm.Transition(to, reason); err != nil {
		m.mu.Unlock()
		return err
	}
	managed.order.State = to
	m.mu.Unlock()

	event.Timestamp = time.Now().UTC()
	event.Reason = reason
	m.emit(event)
	return nil
}

func (m *Manager) applyAcknowledgement(orderID uuid.UUID, exchangeID string) {
	now := time.Now().UTC()

	m.mu.Lock()
	managed, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if err := managed.sm.Transition(types.StateAcknowledged, "exchange confirmed"); err != nil {
		m.mu.Unlock()
		m.logger.Error("acknowledge transition failed", "order_id", orderID, "error", err)
		return
	}
	managed.order.State = types.StateAcknowledged
	managed.order.MarkSubmitted(exchangeID, now)
	m.exchangeIDs[exchangeID] = orderID
	m.mu.Unlock()

	m.emit(types.OrderEvent{
		Kind:       types.OrderAcknowledged,
		OrderID:    orderID,
		ExchangeID: exchangeID,
		Timestamp:  now,
	})
}

func (m *Manager) applyRejection(orderID uuid.UUID, reason string) {
	m.mu.Lock()
	if managed, ok := m.orders[orderID]; ok {
		managed.order.RejectReason = reason
	}
	m.mu.Unlock()

	if err := m.applyTransition(orderID, types.StateRejected, reason,
		types.OrderEvent{Kind: types.OrderRejected, OrderID: orderID}); err != nil {
		m.logger.Error("rejection transition failed", "order_id", orderID, "error", err)
	}
}

func (m *Manager) applyFailure(orderID uuid.UUID, reason string) {
	if err := m.applyTransition(orderID, types.StateFailed, reason,
		types.OrderEvent{Kind: types.OrderFailed, OrderID: orderID}); err != nil {
		m.logger.Error("failure transition failed", "order_id", orderID, "error", err)
	}
}

// emit sends an event without blocking. The stream is buffered; a full
// buffer means the consumer has stalled and the event is dropped with a
// warning rather than wedging the trading path.
func (m *Manager) emit(event types.OrderEvent) {
	select {
	case m.events <- event:
	default:
		m.logger.Warn("order event buffer full, dropping event",
			"kind", event.Kind, "order_id", event.OrderID)
	}
}
