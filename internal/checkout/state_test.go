package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// ============================================
// State machine
// ============================================

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  State
		to    State
		valid bool
	}{
		{StateValidating, StateReservingStock, true},
		{StateValidating, StateActivatingMembership, true},
		{StateValidating, StateRecordingOrder, true},
		{StateValidating, StateAborted, true},
		{StateValidating, StateCommitted, false},
		{StateReservingStock, StateActivatingMembership, true},
		{StateReservingStock, StateRecordingOrder, true},
		{StateReservingStock, StateValidating, false},
		{StateActivatingMembership, StateRecordingOrder, true},
		{StateActivatingMembership, StateReservingStock, false},
		{StateRecordingOrder, StateCommitted, true},
		{StateRecordingOrder, StateAborted, true},
		{StateCommitted, StateAborted, false},
		{StateAborted, StateValidating, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.True(t, StateCommitted.IsTerminal())
	assert.True(t, StateAborted.IsTerminal())
	assert.False(t, StateRecordingOrder.IsTerminal())
}

// ============================================
// Failure
// ============================================

func TestFailure_IsAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	f := newFailure(ErrPersistence, cause)

	assert.ErrorIs(t, f, ErrPersistence)
	assert.ErrorIs(t, f, cause)
	assert.NotErrorIs(t, f, ErrInsufficientStock)
	assert.Equal(t, "persistence_failure", f.Code())
	assert.Equal(t, "checkout aborted: persistence failure: disk full", f.Error())
}

func TestFailure_ErrorListsShortages(t *testing.T) {
	one := 1
	f := &Failure{Reason: ErrInsufficientStock, Shortages: []Shortage{
		{ProductID: 2, Requested: 2, Available: &one},
		{ProductID: 3, Requested: 1},
	}}

	assert.Equal(t, "checkout aborted: insufficient stock for products [2, 3]", f.Error())
}

// ============================================
// Gate
// ============================================

func TestGate_SerializesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)
	g := newGate()
	ctx := context.Background()

	release, err := g.acquire(ctx, "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := g.acquire(ctx, "a")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must wait")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded")
	}
}

func TestGate_OtherKeysIndependent(t *testing.T) {
	g := newGate()
	ctx := context.Background()

	ra, err := g.acquire(ctx, "a")
	require.NoError(t, err)
	rb, err := g.acquire(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, g.size())

	ra()
	rb()
	assert.Equal(t, 0, g.size())
}

func TestGate_WaitRespectsContext(t *testing.T) {
	g := newGate()
	release, err := g.acquire(context.Background(), "a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.acquire(ctx, "a")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, g.size())
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := newGate()
	release, err := g.acquire(context.Background(), "a")
	require.NoError(t, err)

	release()
	release()

	again, err := g.acquire(context.Background(), "a")
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, g.size())
}
