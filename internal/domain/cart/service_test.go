package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/gym-checkout/internal/domain/catalog"
	"github.com/example/gym-checkout/internal/infrastructure/store"
	"github.com/example/gym-checkout/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCache struct {
	mu     sync.Mutex
	carts  map[string]*Cart
	getErr error
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{carts: make(map[string]*Cart)}
}

func (f *fakeCache) Get(_ context.Context, userID string) (*Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.carts[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return c.clone(), nil
}

func (f *fakeCache) Set(_ context.Context, c *Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if cur, ok := f.carts[c.UserID]; ok && cur.Version > c.Version {
		return nil
	}
	f.carts[c.UserID] = c.clone()
	return nil
}

func (f *fakeCache) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, userID)
	return nil
}

func newTestCartService() (*Service, *mocks.MockEventStore) {
	eventStore := mocks.NewMockEventStore()
	return NewService(eventStore, nil, zap.NewNop()), eventStore
}

// ============================================
// AddItem Tests
// ============================================

func TestService_AddItem_Success(t *testing.T) {
	service, eventStore := newTestCartService()
	ctx := context.Background()

	c, err := service.AddItem(ctx, "a@example.com", 2, 2, 6990, catalog.KindMerchandise)

	require.NoError(t, err)
	assert.Equal(t, 2, c.QuantityFor(2))
	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventItemAdded, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, AggregateType, eventStore.AppendCalls[0].AggregateType)
	assert.Equal(t, "cart-a@example.com", eventStore.AppendCalls[0].AggregateID)

	data := eventStore.AppendCalls[0].Data.(ItemAddedToCart)
	assert.Equal(t, int64(2), data.ProductID)
	assert.Equal(t, 2, data.Quantity)
	assert.Equal(t, int64(6990), data.UnitPrice)
	assert.Equal(t, catalog.KindMerchandise, data.Kind)
}

func TestService_AddItem_InvalidQuantityAppendsNothing(t *testing.T) {
	service, eventStore := newTestCartService()

	_, err := service.AddItem(context.Background(), "a@example.com", 2, 0, 6990, catalog.KindMerchandise)

	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Empty(t, eventStore.AppendCalls)
}

func TestService_AddItem_TwiceReplaysToOneLine(t *testing.T) {
	service, _ := newTestCartService()
	ctx := context.Background()

	_, err := service.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
	require.NoError(t, err)
	_, err = service.AddItem(ctx, "a@example.com", 2, 4, 6990, catalog.KindMerchandise)
	require.NoError(t, err)

	c, err := service.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 5, c.Lines[0].Quantity)
}

func TestService_AddItem_AppendError(t *testing.T) {
	service, eventStore := newTestCartService()
	eventStore.AppendErr = errors.New("db down")

	_, err := service.AddItem(context.Background(), "a@example.com", 2, 1, 6990, catalog.KindMerchandise)

	assert.ErrorContains(t, err, "db down")
}

// ============================================
// Edit Tests
// ============================================

func TestService_SetQuantity(t *testing.T) {
	service, eventStore := newTestCartService()
	ctx := context.Background()
	_, err := service.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
	require.NoError(t, err)

	c, err := service.SetQuantity(ctx, "a@example.com", 2, 7)

	require.NoError(t, err)
	assert.Equal(t, 7, c.QuantityFor(2))
	assert.Equal(t, EventItemQuantityChanged, eventStore.AppendCalls[1].EventType)

	_, err = service.SetQuantity(ctx, "a@example.com", 3, 1)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestService_RemoveItem(t *testing.T) {
	service, eventStore := newTestCartService()
	ctx := context.Background()
	_, err := service.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
	require.NoError(t, err)

	c, err := service.RemoveItem(ctx, "a@example.com", 2)
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.Len(t, eventStore.AppendCalls, 2)

	// absent product is a no-op
	_, err = service.RemoveItem(ctx, "a@example.com", 2)
	require.NoError(t, err)
	assert.Len(t, eventStore.AppendCalls, 2)
}

func TestService_RemoveItem_InvalidProduct(t *testing.T) {
	service, eventStore := newTestCartService()

	_, err := service.RemoveItem(context.Background(), "a@example.com", 0)

	assert.ErrorIs(t, err, ErrInvalidProduct)
	assert.Empty(t, eventStore.AppendCalls)
}

func TestService_Clear(t *testing.T) {
	service, eventStore := newTestCartService()
	ctx := context.Background()

	require.NoError(t, service.Clear(ctx, "a@example.com"))
	assert.Empty(t, eventStore.AppendCalls)

	_, err := service.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
	require.NoError(t, err)
	require.NoError(t, service.Clear(ctx, "a@example.com"))

	require.Len(t, eventStore.AppendCalls, 2)
	assert.Equal(t, EventCartCleared, eventStore.AppendCalls[1].EventType)
	snap, err := service.Snapshot(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
}

func TestService_RemovePurchased(t *testing.T) {
	service, eventStore := newTestCartService()
	ctx := context.Background()
	_, err := service.AddItem(ctx, "a@example.com", 1, 1, 19990, catalog.KindPlan)
	require.NoError(t, err)
	_, err = service.AddItem(ctx, "a@example.com", 2, 2, 6990, catalog.KindMerchandise)
	require.NoError(t, err)
	bought, err := service.Snapshot(ctx, "a@example.com")
	require.NoError(t, err)

	// added after the snapshot was taken
	_, err = service.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
	require.NoError(t, err)
	_, err = service.AddItem(ctx, "a@example.com", 3, 1, 1500, catalog.KindMerchandise)
	require.NoError(t, err)

	require.NoError(t, service.RemovePurchased(ctx, "a@example.com", "order-1", bought))

	calls := eventStore.Calls()
	require.Len(t, calls, 5)
	assert.Equal(t, EventItemsPurchased, calls[4].EventType)
	data := calls[4].Data.(ItemsPurchased)
	assert.Equal(t, "order-1", data.OrderID)
	assert.Len(t, data.Lines, 2)

	c, err := service.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, c.QuantityFor(1))
	assert.Equal(t, 1, c.QuantityFor(2))
	assert.Equal(t, 1, c.QuantityFor(3))
	require.Len(t, c.Lines, 2)
	assert.Equal(t, int64(2), c.Lines[0].ProductID)
}

func TestService_RemovePurchased_NothingLeftToRemove(t *testing.T) {
	service, eventStore := newTestCartService()
	ctx := context.Background()
	bought := NewSnapshot([]Line{{ProductID: 2, Quantity: 1, UnitPrice: 6990, Kind: catalog.KindMerchandise}})

	require.NoError(t, service.RemovePurchased(ctx, "a@example.com", "order-1", bought))

	assert.Empty(t, eventStore.AppendCalls)
}

// ============================================
// Concurrent Edit Tests
// ============================================

// barrierStore holds the first n stream reads until all of them have read, so
// the edits behind them start from the same version.
type barrierStore struct {
	store.EventStoreInterface
	n       int
	mu      sync.Mutex
	reads   int
	release chan struct{}
}

func newBarrierStore(es store.EventStoreInterface, n int) *barrierStore {
	return &barrierStore{EventStoreInterface: es, n: n, release: make(chan struct{})}
}

func (b *barrierStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	events, err := b.EventStoreInterface.GetEvents(ctx, aggregateID)
	b.mu.Lock()
	b.reads++
	if b.reads == b.n {
		close(b.release)
	}
	b.mu.Unlock()
	<-b.release
	return events, err
}

func TestService_OverlappingEdits_StayReplayable(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	es := store.NewEventStore(nil, logger)
	seed := NewService(es, nil, logger)
	_, err := seed.AddItem(ctx, "a@example.com", 1, 1, 19990, catalog.KindPlan)
	require.NoError(t, err)
	_, err = seed.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
	require.NoError(t, err)

	service := NewService(newBarrierStore(es, 2), nil, logger)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = service.RemoveItem(ctx, "a@example.com", 2)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = service.SetQuantity(ctx, "a@example.com", 2, 5)
	}()
	wg.Wait()

	// Whichever edit lost the append was redone on the newer cart
	require.NoError(t, errs[0])
	if errs[1] != nil {
		assert.ErrorIs(t, errs[1], ErrLineNotFound)
	}

	c, err := seed.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, c.QuantityFor(2))
	assert.Equal(t, 1, c.QuantityFor(1))

	_, err = seed.AddItem(ctx, "a@example.com", 2, 3, 6990, catalog.KindMerchandise)
	require.NoError(t, err)

	events, err := es.GetEvents(ctx, "cart-a@example.com")
	require.NoError(t, err)
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
	}
}

func TestService_Edit_GivesUpAfterRepeatedConflicts(t *testing.T) {
	service, eventStore := newTestCartService()
	eventStore.AppendCallback = func(context.Context, string, string, string, int, any) (*store.Event, error) {
		return nil, store.ErrConcurrentAppend
	}

	_, err := service.AddItem(context.Background(), "a@example.com", 2, 1, 6990, catalog.KindMerchandise)

	assert.ErrorIs(t, err, store.ErrConcurrentAppend)
	assert.Len(t, eventStore.AppendCalls, maxEditAttempts)
}

func TestService_Edit_AppendsAtLoadedVersion(t *testing.T) {
	service, eventStore := newTestCartService()
	ctx := context.Background()

	_, err := service.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
	require.NoError(t, err)
	_, err = service.SetQuantity(ctx, "a@example.com", 2, 4)
	require.NoError(t, err)

	calls := eventStore.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 0, calls[0].ExpectedVersion)
	assert.Equal(t, 1, calls[1].ExpectedVersion)
}

func TestService_Get_QuantityChangeAfterRemovalReplays(t *testing.T) {
	service, eventStore := newTestCartService()
	id := GetCartID("a@example.com")
	require.NoError(t, eventStore.AddEvent(id, AggregateType, EventItemAdded, ItemAddedToCart{
		CartID: id, UserID: "a@example.com", ProductID: 2, Quantity: 1, UnitPrice: 6990, Kind: catalog.KindMerchandise,
	}))
	require.NoError(t, eventStore.AddEvent(id, AggregateType, EventItemRemoved, ItemRemovedFromCart{CartID: id, ProductID: 2}))
	require.NoError(t, eventStore.AddEvent(id, AggregateType, EventItemQuantityChanged, ItemQuantityChanged{CartID: id, ProductID: 2, Quantity: 5}))

	c, err := service.Get(context.Background(), "a@example.com")

	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.Equal(t, 3, c.Version)
}

// ============================================
// Snapshot and Cache Tests
// ============================================

func TestService_CreatesSnapshotAtThreshold(t *testing.T) {
	service, eventStore := newTestCartService()
	ctx := context.Background()

	for i := 0; i < store.DefaultSnapshotInterval; i++ {
		_, err := service.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
		require.NoError(t, err)
	}

	require.Len(t, eventStore.SaveSnapshotCalls, 1)
	c, err := service.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultSnapshotInterval, c.QuantityFor(2))
}

func TestService_Get_ServesFromCache(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	cache := newFakeCache()
	service := NewService(eventStore, cache, zap.NewNop())
	ctx := context.Background()

	_, err := service.AddItem(ctx, "a@example.com", 2, 3, 6990, catalog.KindMerchandise)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	reads := eventStore.GetEventsCalls
	c, err := service.Get(ctx, "a@example.com")

	require.NoError(t, err)
	assert.Equal(t, 3, c.QuantityFor(2))
	assert.Equal(t, reads, eventStore.GetEventsCalls)
}

func TestService_Get_CacheErrorFallsBackToLog(t *testing.T) {
	eventStore := mocks.NewMockEventStore()
	cache := newFakeCache()
	service := NewService(eventStore, cache, zap.NewNop())
	ctx := context.Background()
	_, err := service.AddItem(ctx, "a@example.com", 2, 3, 6990, catalog.KindMerchandise)
	require.NoError(t, err)

	cache.getErr = errors.New("redis down")
	c, err := service.Get(ctx, "a@example.com")

	require.NoError(t, err)
	assert.Equal(t, 3, c.QuantityFor(2))
}

func TestService_Get_ConcurrentCallersGetIndependentCopies(t *testing.T) {
	service, _ := newTestCartService()
	ctx := context.Background()
	_, err := service.AddItem(ctx, "a@example.com", 2, 1, 6990, catalog.KindMerchandise)
	require.NoError(t, err)

	var wg sync.WaitGroup
	carts := make([]*Cart, 8)
	for i := range carts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := service.Get(ctx, "a@example.com")
			if err == nil {
				carts[i] = c
			}
		}(i)
	}
	wg.Wait()

	require.NotNil(t, carts[0])
	carts[0].Lines[0].Quantity = 50
	for _, c := range carts[1:] {
		require.NotNil(t, c)
		assert.Equal(t, 1, c.Lines[0].Quantity)
	}
}
