package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/gym-checkout/internal/domain/aggregate"
	"github.com/example/gym-checkout/internal/domain/catalog"
	"github.com/example/gym-checkout/internal/infrastructure/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrCacheMiss is returned by a Cache that holds no entry for the user.
var ErrCacheMiss = errors.New("cart cache miss")

// maxEditAttempts bounds how often an edit is replayed against a fresher cart
// after another edit of the same cart won the append.
const maxEditAttempts = 5

// Cache is a read-through copy of cart state. The event log stays authoritative.
// Set must keep an entry that is already at a later version.
type Cache interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Set(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, userID string) error
}

type Service struct {
	eventStore store.EventStoreInterface
	snapshots  *aggregate.Snapshotter
	cache      Cache
	logger     *zap.Logger
	sfg        singleflight.Group
}

// NewService creates the cart service. cache may be nil.
func NewService(es store.EventStoreInterface, cache Cache, logger *zap.Logger) *Service {
	return &Service{
		eventStore: es,
		snapshots:  aggregate.NewSnapshotter(es, store.DefaultSnapshotInterval),
		cache:      cache,
		logger:     logger.Named("cart"),
	}
}

func (s *Service) loadCart(ctx context.Context, userID string) (*Cart, error) {
	c, _, err := aggregate.Load(ctx, s.eventStore, AggregateType, GetCartID(userID), func() *Cart {
		return New(userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	c.ID = GetCartID(userID)
	c.UserID = userID
	return c, nil
}

// Get returns the user's cart, empty if the user has none.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	if s.cache != nil {
		c, err := s.cache.Get(ctx, userID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cart cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		c, err := s.loadCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight must not share the slice
	return v.(*Cart).clone(), nil
}

// Snapshot returns an immutable copy of the user's cart lines.
func (s *Service) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func (s *Service) AddItem(ctx context.Context, userID string, productID int64, quantity int, unitPrice int64, kind catalog.Kind) (*Cart, error) {
	return s.mutate(ctx, userID, EventItemAdded, func(c *Cart) (any, error) {
		if err := c.Add(productID, quantity, unitPrice, kind); err != nil {
			return nil, err
		}
		return ItemAddedToCart{
			CartID:    c.ID,
			UserID:    userID,
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: unitPrice,
			Kind:      kind,
			AddedAt:   time.Now().UTC(),
		}, nil
	})
}

func (s *Service) SetQuantity(ctx context.Context, userID string, productID int64, quantity int) (*Cart, error) {
	return s.mutate(ctx, userID, EventItemQuantityChanged, func(c *Cart) (any, error) {
		if err := c.SetQuantity(productID, quantity); err != nil {
			return nil, err
		}
		return ItemQuantityChanged{
			CartID:    c.ID,
			UserID:    userID,
			ProductID: productID,
			Quantity:  quantity,
			ChangedAt: time.Now().UTC(),
		}, nil
	})
}

// RemoveItem removes a line. Removing an absent product appends nothing.
func (s *Service) RemoveItem(ctx context.Context, userID string, productID int64) (*Cart, error) {
	if productID <= 0 {
		return nil, ErrInvalidProduct
	}
	return s.mutate(ctx, userID, EventItemRemoved, func(c *Cart) (any, error) {
		if !c.Remove(productID) {
			return nil, nil
		}
		return ItemRemovedFromCart{
			CartID:    c.ID,
			UserID:    userID,
			ProductID: productID,
			RemovedAt: time.Now().UTC(),
		}, nil
	})
}

// Clear empties the cart. An already empty cart appends nothing.
func (s *Service) Clear(ctx context.Context, userID string) error {
	_, err := s.mutate(ctx, userID, EventCartCleared, func(c *Cart) (any, error) {
		if len(c.Lines) == 0 {
			return nil, nil
		}
		c.Clear()
		return CartCleared{
			CartID:    c.ID,
			UserID:    userID,
			ClearedAt: time.Now().UTC(),
		}, nil
	})
	return err
}

// RemovePurchased takes the lines of bought out of the cart, leaving whatever
// was added after bought was taken. Nothing is appended when no line matches.
func (s *Service) RemovePurchased(ctx context.Context, userID, orderID string, bought Snapshot) error {
	_, err := s.mutate(ctx, userID, EventItemsPurchased, func(c *Cart) (any, error) {
		var lines []PurchasedLine
		for _, l := range bought.Lines() {
			if c.Deduct(l.ProductID, l.Quantity) {
				lines = append(lines, PurchasedLine{ProductID: l.ProductID, Quantity: l.Quantity})
			}
		}
		if len(lines) == 0 {
			return nil, nil
		}
		return ItemsPurchased{
			CartID:      c.ID,
			UserID:      userID,
			OrderID:     orderID,
			Lines:       lines,
			PurchasedAt: time.Now().UTC(),
		}, nil
	})
	return err
}

// mutate loads the cart from the log, lets change validate and edit it, and
// appends the returned event at the loaded version. A nil event means nothing
// changed. When another edit got there first the whole edit is redone on the
// newer cart, so validation always sees the state the event extends.
func (s *Service) mutate(ctx context.Context, userID, eventType string, change func(c *Cart) (any, error)) (*Cart, error) {
	var c *Cart
	for attempt := 1; ; attempt++ {
		var err error
		c, err = s.loadCart(ctx, userID)
		if err != nil {
			return nil, err
		}

		event, err := change(c)
		if err != nil {
			return nil, err
		}
		if event == nil {
			return c, nil
		}

		stored, err := s.eventStore.Append(ctx, c.ID, AggregateType, eventType, c.Version, event)
		if errors.Is(err, store.ErrConcurrentAppend) && attempt < maxEditAttempts {
			s.logger.Debug("cart changed during edit, retrying",
				zap.String("cart_id", c.ID),
				zap.String("event_type", eventType),
				zap.Int("attempt", attempt),
			)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			s.cacheDelete(ctx, userID)
			return nil, fmt.Errorf("failed to append %s: %w", eventType, err)
		}
		if stored != nil {
			c.Version = stored.Version
		}
		break
	}

	if _, err := s.snapshots.Capture(ctx, c, AggregateType); err != nil {
		s.logger.Warn("failed to create snapshot", zap.String("cart_id", c.ID), zap.Error(err))
	}
	s.cacheSet(ctx, c)
	return c, nil
}

func (s *Service) cacheSet(ctx context.Context, c *Cart) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, c); err != nil {
		s.logger.Warn("cart cache write failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
}

func (s *Service) cacheDelete(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cart cache delete failed", zap.String("user_id", userID), zap.Error(err))
	}
}
