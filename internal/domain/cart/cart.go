package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/gym-checkout/internal/domain/catalog"
	"github.com/example/gym-checkout/internal/infrastructure/store"
)

const AggregateType = "Cart"

const (
	// MaxLineQuantity bounds one line so plan durations and totals stay in range
	MaxLineQuantity = 999
	// MaxUnitPrice is the highest accepted price in minor units
	MaxUnitPrice int64 = 1_000_000_000_000
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidProduct  = errors.New("product_id must be positive")
	ErrInvalidPrice    = errors.New("unit price must not be negative")
	ErrInvalidKind     = errors.New("unknown product kind")
	ErrLineNotFound    = errors.New("product is not in the cart")
)

// Line is one product in the cart. Prices are in minor currency units.
type Line struct {
	ProductID int64        `json:"product_id"`
	Quantity  int          `json:"quantity"`
	UnitPrice int64        `json:"unit_price"`
	Kind      catalog.Kind `json:"kind"`
}

func (l Line) Subtotal() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

// Cart holds at most one line per product, in insertion order.
type Cart struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Lines   []Line `json:"lines"`
	Version int    `json:"version"`
}

func New(userID string) *Cart {
	return &Cart{ID: GetCartID(userID), UserID: userID}
}

// GetCartID returns the cart ID for a user
func GetCartID(userID string) string {
	return "cart-" + userID
}

func (c *Cart) GetID() string    { return c.ID }
func (c *Cart) GetVersion() int  { return c.Version }
func (c *Cart) SetVersion(v int) { c.Version = v }

func (c *Cart) indexOf(productID int64) int {
	for i, l := range c.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

// Add merges quantity into the product's line, refreshing its price, or
// appends a new line.
func (c *Cart) Add(productID int64, quantity int, unitPrice int64, kind catalog.Kind) error {
	switch {
	case productID <= 0:
		return ErrInvalidProduct
	case quantity <= 0 || quantity > MaxLineQuantity:
		return ErrInvalidQuantity
	case unitPrice < 0 || unitPrice > MaxUnitPrice:
		return ErrInvalidPrice
	case !kind.Valid():
		return ErrInvalidKind
	}

	if i := c.indexOf(productID); i >= 0 {
		if c.Lines[i].Quantity > MaxLineQuantity-quantity {
			return ErrInvalidQuantity
		}
		c.Lines[i].Quantity += quantity
		c.Lines[i].UnitPrice = unitPrice
		c.Lines[i].Kind = kind
		return nil
	}
	c.Lines = append(c.Lines, Line{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Kind:      kind,
	})
	return nil
}

// SetQuantity replaces the quantity of an existing line.
func (c *Cart) SetQuantity(productID int64, quantity int) error {
	if quantity <= 0 || quantity > MaxLineQuantity {
		return ErrInvalidQuantity
	}
	i := c.indexOf(productID)
	if i < 0 {
		return ErrLineNotFound
	}
	c.Lines[i].Quantity = quantity
	return nil
}

// Remove deletes the product's line. It reports whether a line was removed.
func (c *Cart) Remove(productID int64) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

// Deduct takes quantity off the product's line and drops the line once
// nothing is left. It reports whether the cart changed.
func (c *Cart) Deduct(productID int64, quantity int) bool {
	i := c.indexOf(productID)
	if i < 0 || quantity <= 0 {
		return false
	}
	if c.Lines[i].Quantity <= quantity {
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		return true
	}
	c.Lines[i].Quantity -= quantity
	return true
}

func (c *Cart) Clear() {
	c.Lines = nil
}

func (c *Cart) QuantityFor(productID int64) int {
	if i := c.indexOf(productID); i >= 0 {
		return c.Lines[i].Quantity
	}
	return 0
}

// Snapshot copies the lines so later edits do not reach the caller.
func (c *Cart) Snapshot() Snapshot {
	return Snapshot{lines: append([]Line(nil), c.Lines...)}
}

func (c *Cart) clone() *Cart {
	cp := *c
	cp.Lines = append([]Line(nil), c.Lines...)
	return &cp
}

// ApplyEvent applies a single event to the cart state
func (c *Cart) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventItemAdded:
		var data ItemAddedToCart
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.ID = data.CartID
		c.UserID = data.UserID
		if err := c.Add(data.ProductID, data.Quantity, data.UnitPrice, data.Kind); err != nil {
			return fmt.Errorf("event %s: %w", event.ID, err)
		}
	case EventItemQuantityChanged:
		var data ItemQuantityChanged
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		// A change to a line removed earlier in the stream has nothing to act on
		if err := c.SetQuantity(data.ProductID, data.Quantity); err != nil && !errors.Is(err, ErrLineNotFound) {
			return fmt.Errorf("event %s: %w", event.ID, err)
		}
	case EventItemRemoved:
		var data ItemRemovedFromCart
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.Remove(data.ProductID)
	case EventCartCleared:
		c.Clear()
	case EventItemsPurchased:
		var data ItemsPurchased
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		for _, l := range data.Lines {
			c.Deduct(l.ProductID, l.Quantity)
		}
	}
	c.Version = event.Version
	return nil
}

// Snapshot is an immutable, ordered view of cart lines.
type Snapshot struct {
	lines []Line
}

// NewSnapshot copies lines into a Snapshot.
func NewSnapshot(lines []Line) Snapshot {
	return Snapshot{lines: append([]Line(nil), lines...)}
}

// Lines returns a copy of the lines in insertion order.
func (s Snapshot) Lines() []Line {
	return append([]Line(nil), s.lines...)
}

func (s Snapshot) Len() int { return len(s.lines) }

func (s Snapshot) IsEmpty() bool { return len(s.lines) == 0 }

// Total is the sum of quantity times unit price.
func (s Snapshot) Total() int64 {
	var total int64
	for _, l := range s.lines {
		total += l.Subtotal()
	}
	return total
}

// ItemCount is the sum of quantities.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}
