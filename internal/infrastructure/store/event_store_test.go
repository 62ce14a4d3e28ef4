package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

// ============================================
// In-memory EventStore Tests
// ============================================

func TestEventStore_Append_AssignsSequentialVersions(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		e, err := es.Append(ctx, "cart-a", "Cart", "ItemAddedToCart", i-1, map[string]int{"n": i})
		require.NoError(t, err)
		assert.Equal(t, i, e.Version)
		assert.NotEmpty(t, e.ID)
	}

	events, err := es.GetEvents(ctx, "cart-a")
	require.NoError(t, err)
	assert.Len(t, events, 3)

	var data map[string]int
	require.NoError(t, json.Unmarshal(events[2].Data, &data))
	assert.Equal(t, 3, data["n"])
}

func TestEventStore_GetEvents_ReturnsCopy(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()
	_, err := es.Append(ctx, "cart-a", "Cart", "CartCleared", 0, struct{}{})
	require.NoError(t, err)

	events, err := es.GetEvents(ctx, "cart-a")
	require.NoError(t, err)
	events[0].EventType = "mutated"

	again, err := es.GetEvents(ctx, "cart-a")
	require.NoError(t, err)
	assert.Equal(t, "CartCleared", again[0].EventType)
}

func TestEventStore_GetEventsFromVersion(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := es.Append(ctx, "order-1", "Order", "OrderRecorded", i, i)
		require.NoError(t, err)
	}

	events, err := es.GetEventsFromVersion(ctx, "order-1", 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 4, events[0].Version)
	assert.Equal(t, 5, events[1].Version)
}

func TestEventStore_GetEventsByType(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()
	_, _ = es.Append(ctx, "order-1", "Order", "OrderRecorded", 0, 1)
	_, _ = es.Append(ctx, "cart-a", "Cart", "CartCleared", 0, 1)
	_, _ = es.Append(ctx, "order-2", "Order", "OrderRecorded", 0, 2)

	events, err := es.GetEventsByType(ctx, "Order")
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "Order", e.AggregateType)
	}
	assert.False(t, events[1].Timestamp.Before(events[0].Timestamp))
}

func TestEventStore_Snapshots(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()

	s, err := es.GetSnapshot(ctx, "cart-a")
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, es.SaveSnapshot(ctx, &Snapshot{
		AggregateID:   "cart-a",
		AggregateType: "Cart",
		Version:       10,
		State:         json.RawMessage(`{"id":"cart-a"}`),
		CreatedAt:     time.Now(),
	}))

	s, err = es.GetSnapshot(ctx, "cart-a")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 10, s.Version)
	assert.JSONEq(t, `{"id":"cart-a"}`, string(s.State))
}

func TestEventStore_Append_PublishesByAggregateID(t *testing.T) {
	pub := &fakePublisher{}
	es := NewEventStore(pub, zap.NewNop())

	_, err := es.Append(context.Background(), "membership-a@example.com", "Membership", "PlanActivated", 0, 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"membership-a@example.com"}, pub.keys)
}

func TestEventStore_Append_PublishFailureKeepsEvent(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	es := NewEventStore(pub, zap.NewNop())
	ctx := context.Background()

	e, err := es.Append(ctx, "order-1", "Order", "OrderRecorded", 0, 1)

	require.NoError(t, err)
	assert.Equal(t, 1, e.Version)
	events, err := es.GetEvents(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventStore_Append_RejectsStaleVersion(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()
	_, err := es.Append(ctx, "cart-a", "Cart", "ItemAddedToCart", 0, 1)
	require.NoError(t, err)

	tests := []struct {
		name     string
		expected int
	}{
		{"behind", 0},
		{"ahead", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := es.Append(ctx, "cart-a", "Cart", "ItemRemovedFromCart", tt.expected, 1)
			assert.ErrorIs(t, err, ErrConcurrentAppend)
		})
	}

	events, err := es.GetEvents(ctx, "cart-a")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventStore_ConcurrentAppend_OneWriterWinsEachVersion(t *testing.T) {
	es := NewEventStore(nil, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := es.Append(ctx, "cart-a", "Cart", "ItemAddedToCart", 0, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrConcurrentAppend) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 49, conflicts)
	events, err := es.GetEvents(ctx, "cart-a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Version)
}
