package lifecycle

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/heheshang/ea-okx/pkg/types"
)

func TestNewStateMachine(t *testing.T) {
	t.Parallel()

	sm := New(uuid.New())
	if sm.Current != types.StateCreated {
		t.Errorf("Current = %v, want created", sm.Current)
	}
	if len(sm.Transitions) != 0 {
		t.Errorf("Transitions = %d, want 0", len(sm.Transitions))
	}
	if !sm.IsActive() {
		t.Error("new machine not active")
	}
}

func TestHappyPathLifecycle(t *testing.T) {
	t.Parallel()

	sm := New(uuid.New())
	steps := []struct {
		to     types.OrderState
		reason string
	}{
		{types.StateValidated, "pre-trade checks passed"},
		{types.StateSubmitted, "sending to exchange"},
		{types.StateAcknowledged, "exchange confirmed"},
		{types.StatePartiallyFilled, "filled 0.005/0.01"},
		{types.StateFilled, "filled 0.01/0.01"},
	}

	for _, step := range steps {
		if err := sm.Transition(step.to, step.reason); err != nil {
			t.Fatalf("Transition(%v): %v", step.to, err)
		}
	}

	if sm.Current != types.StateFilled {
		t.Errorf("Current = %v, want filled", sm.Current)
	}
	if len(sm.Transitions) != len(steps) {
		t.Errorf("audit trail length = %d, want %d", len(sm.Transitions), len(steps))
	}
	if sm.IsActive() {
		t.Error("filled order still active")
	}

	// Post-Filled, any transition must fail.
	err := sm.Transition(types.StateCancelled, "too late")
	if !errors.Is(err, types.ErrInvalidStateTransition) {
		t.Errorf("terminal transition error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestIllegalTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path []types.OrderState
		to   types.OrderState
	}{
		{"created to filled", nil, types.StateFilled},
		{"created to acknowledged", nil, types.StateAcknowledged},
		{"validated to acknowledged", []types.OrderState{types.StateValidated}, types.StateAcknowledged},
		{"partial to rejected", []types.OrderState{types.StateValidated, types.StateSubmitted, types.StateAcknowledged, types.StatePartiallyFilled}, types.StateRejected},
		{"cancelled to filled", []types.OrderState{types.StateValidated, types.StateCancelled}, types.StateFilled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sm := New(uuid.New())
			for _, s := range tt.path {
				if err := sm.Transition(s, "setup"); err != nil {
					t.Fatalf("setup transition to %v: %v", s, err)
				}
			}
			if err := sm.Transition(tt.to, "illegal"); !errors.Is(err, types.ErrInvalidStateTransition) {
				t.Errorf("Transition(%v) error = %v, want ErrInvalidStateTransition", tt.to, err)
			}
		})
	}
}

func TestSelfTransitionIdempotent(t *testing.T) {
	t.Parallel()

	sm := New(uuid.New())
	if err := sm.Transition(types.StateValidated, "ok"); err != nil {
		t.Fatal(err)
	}
	if err := sm.Transition(types.StateSubmitted, "ok"); err != nil {
		t.Fatal(err)
	}
	if err := sm.Transition(types.StateAcknowledged, "ok"); err != nil {
		t.Fatal(err)
	}
	// Duplicate exchange update lands as a self-transition.
	if err := sm.Transition(types.StateAcknowledged, "duplicate ack"); err != nil {
		t.Errorf("self-transition rejected: %v", err)
	}
	if sm.Current != types.StateAcknowledged {
		t.Errorf("Current = %v, want acknowledged", sm.Current)
	}
}

func TestCanCancel(t *testing.T) {
	t.Parallel()

	sm := New(uuid.New())
	if !sm.CanCancel() {
		t.Error("created order not cancellable")
	}

	sm.Transition(types.StateValidated, "ok")
	sm.Transition(types.StateSubmitted, "ok")
	sm.Transition(types.StateAcknowledged, "ok")
	sm.Transition(types.StateFilled, "done")
	if sm.CanCancel() {
		t.Error("filled order cancellable")
	}
}

func TestAuditTrailOrder(t *testing.T) {
	t.Parallel()

	sm := New(uuid.New())
	sm.Transition(types.StateValidated, "v")
	sm.Transition(types.StateRejected, "r")

	if got := len(sm.Transitions); got != 2 {
		t.Fatalf("transitions = %d, want 2", got)
	}
	first, second := sm.Transitions[0], sm.Transitions[1]
	if first.From != types.StateCreated || first.To != types.StateValidated {
		t.Errorf("first transition = %v -> %v", first.From, first.To)
	}
	if second.From != types.StateValidated || second.To != types.StateRejected {
		t.Errorf("second transition = %v -> %v", second.From, second.To)
	}
	if second.Timestamp.Before(first.Timestamp) {
		t.Error("audit trail timestamps not monotonic")
	}
}
