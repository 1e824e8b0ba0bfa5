// Package lifecycle implements the order lifecycle state machine.
//
// Every order owns one StateMachine. All state changes go through
// Transition, which enforces the legal-transition set, freezes terminal
// states, and records an append-only audit trail. Self-transitions are
// accepted so repeated exchange updates stay idempotent.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heheshang/ea-okx/pkg/types"
)

// Transition is one accepted state change, recorded for audit.
type Transition struct {
	From      types.OrderState `json:"from"`
	To        types.OrderState `json:"to"`
	Timestamp time.Time        `json:"timestamp"`
	Reason    string           `json:"reason"`
}

// legal maps each non-terminal state to the states it may move to.
// Terminal states are absent: nothing leaves them.
var legal = map[types.OrderState][]types.OrderState{
	types.StateCreated:         {types.StateValidated, types.StateRejected, types.StateFailed},
	types.StateValidated:       {types.StateSubmitted, types.StateRejected, types.StateCancelled},
	types.StateSubmitted:       {types.StateAcknowledged, types.StateRejected, types.StateFailed, types.StateCancelled, types.StateExpired},
	types.StateAcknowledged:    {types.StatePartiallyFilled, types.StateFilled, types.StateCancelled, types.StateRejected},
	types.StatePartiallyFilled: {types.StateFilled, types.StateCancelled},
}

// StateMachine tracks the lifecycle of a single order.
type StateMachine struct {
	OrderID     uuid.UUID        `json:"order_id"`
	Current     types.OrderState `json:"current"`
	Transitions []Transition     `json:"transitions"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// New creates a state machine in the Created state.
func New(orderID uuid.UUID) *StateMachine {
	now := time.Now().UTC()
	return &StateMachine{
		OrderID:   orderID,
		Current:   types.StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves to a new state, recording the change. Returns
// types.ErrInvalidStateTransition for illegal moves, including any move
// out of a terminal state.
func (sm *StateMachine) Transition(to types.OrderState, reason string) error {
	if !sm.valid(to) {
		return fmt.Errorf("%w: %s -> %s for order %s",
			types.ErrInvalidStateTransition, sm.Current, to, sm.OrderID)
	}

	now := time.Now().UTC()
	sm.Transitions = append(sm.Transitions, Transition{
		From:      sm.Current,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	sm.Current = to
	sm.UpdatedAt = now
	return nil
}

func (sm *StateMachine) valid(to types.OrderState) bool {
	if sm.Current.IsTerminal() {
		return false
	}
	// Same state is always valid, for idempotent updates.
	if sm.Current == to {
		return true
	}
	for _, next := range legal[sm.Current] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the order is in a non-terminal state.
func (sm *StateMachine) IsActive() bool { return !sm.Current.IsTerminal() }

// CanCancel reports whether a cancel is still allowed.
func (sm *StateMachine) CanCancel() bool { return sm.Current.CanCancel() }

// TimeInState returns how long the machine has been in the current state.
func (sm *StateMachine) TimeInState() time.Duration {
	return time.Since(sm.UpdatedAt)
}

// Lifetime returns the total age of the order.
func (sm *StateMachine) Lifetime() time.Duration {
	return time.Since(sm.CreatedAt)
}
