package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/gym-checkout/internal/domain/aggregate"
	"github.com/example/gym-checkout/internal/domain/catalog"
	"github.com/example/gym-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
)

const AggregateType = "Order"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrEmptyOrder      = errors.New("order must have at least one item")
	ErrAlreadyRecorded = errors.New("order already recorded")
	ErrInvalidOrder    = errors.New("order id and user id are required")
)

type Item struct {
	ProductID int64        `json:"product_id"`
	Name      string       `json:"name"`
	Kind      catalog.Kind `json:"kind"`
	Quantity  int          `json:"quantity"`
	UnitPrice int64        `json:"unit_price"`
}

type Order struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	CreatedAt           time.Time `json:"created_at"`
	TotalAmount         int64     `json:"total_amount"`
	ItemSummary         string    `json:"item_summary"`
	ItemCount           int       `json:"item_count"`
	Items               []Item    `json:"items"`
	MembershipActivated bool      `json:"membership_activated"`
}

// New builds an order with a fresh ID and totals computed from items.
func New(userID string, items []Item, createdAt time.Time, membershipActivated bool) (Order, error) {
	if len(items) == 0 {
		return Order{}, ErrEmptyOrder
	}
	o := Order{
		ID:                  uuid.New().String(),
		UserID:              userID,
		CreatedAt:           createdAt.UTC(),
		ItemSummary:         Summarize(items),
		Items:               append([]Item(nil), items...),
		MembershipActivated: membershipActivated,
	}
	for _, it := range items {
		o.TotalAmount += int64(it.Quantity) * it.UnitPrice
		o.ItemCount += it.Quantity
	}
	return o, nil
}

// Summarize lists item names in order, e.g. "Monthly Plan, Shaker x2".
func Summarize(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.Quantity > 1 {
			parts = append(parts, fmt.Sprintf("%s x%d", it.Name, it.Quantity))
			continue
		}
		parts = append(parts, it.Name)
	}
	return strings.Join(parts, ", ")
}

// record adapts an order stream to aggregate.Load.
type record struct {
	Order   *Order `json:"order"`
	Version int    `json:"version"`
}

func (r *record) GetID() string {
	if r.Order == nil {
		return ""
	}
	return GetOrderStreamID(r.Order.ID)
}

func (r *record) GetVersion() int  { return r.Version }
func (r *record) SetVersion(v int) { r.Version = v }

func (r *record) ApplyEvent(event store.Event) error {
	if event.EventType == EventOrderRecorded {
		var data OrderRecorded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		r.Order = &data.Order
	}
	r.Version = event.Version
	return nil
}

// GetOrderStreamID returns the event stream ID of an order
func GetOrderStreamID(orderID string) string {
	return "order-" + orderID
}

type Service struct {
	eventStore store.EventStoreInterface
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{eventStore: es}
}

// Record appends the order to the log. An order is recorded at most once.
func (s *Service) Record(ctx context.Context, o Order) error {
	if o.ID == "" || o.UserID == "" {
		return ErrInvalidOrder
	}
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	// An order stream holds exactly one event, so it must be empty here
	streamID := GetOrderStreamID(o.ID)
	if _, err := s.eventStore.Append(ctx, streamID, AggregateType, EventOrderRecorded, 0, OrderRecorded{Order: o}); err != nil {
		if errors.Is(err, store.ErrConcurrentAppend) {
			return ErrAlreadyRecorded
		}
		return fmt.Errorf("failed to append order: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	r, found, err := aggregate.Load(ctx, s.eventStore, AggregateType, GetOrderStreamID(orderID), func() *record {
		return &record{}
	})
	if err != nil {
		return nil, err
	}
	if !found || r.Order == nil {
		return nil, ErrOrderNotFound
	}
	return r.Order, nil
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	events, err := s.eventStore.GetEventsByType(ctx, AggregateType)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	orders := make([]Order, 0)
	for _, e := range events {
		if e.EventType != EventOrderRecorded {
			continue
		}
		var data OrderRecorded
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode order event %s: %w", e.ID, err)
		}
		if data.Order.UserID == userID {
			orders = append(orders, data.Order)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}
