package inventory

import (
	"context"
	"errors"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidProduct  = errors.New("product_id must be positive")
	ErrNotTracked      = errors.New("product is not stock-tracked")
)

// StockRecord is the stock level of one product. A nil Available means the
// product is unlimited and not tracked.
type StockRecord struct {
	ProductID int64 `json:"product_id"`
	Available *int  `json:"available"`
}

func (r StockRecord) IsTracked() bool {
	return r.Available != nil
}

// Tracked returns a pointer to n for use as a tracked stock level.
func Tracked(n int) *int {
	return &n
}

// Ledger owns stock levels. TryDecrement is the only operation checkout uses
// to take stock and is atomic per product: the sum of successful decrements
// never exceeds the level the product started with.
type Ledger interface {
	// AvailableQuantity returns nil for untracked or unknown products.
	AvailableQuantity(ctx context.Context, productID int64) (*int, error)
	// TryDecrement subtracts quantity if at least that much is available.
	// It returns false, with no change, when stock is short or untracked.
	TryDecrement(ctx context.Context, productID int64, quantity int) (bool, error)
	// Release gives back quantity taken by an earlier successful TryDecrement.
	Release(ctx context.Context, productID int64, quantity int) error
	// Restock adds quantity, creating a tracked record if none exists.
	Restock(ctx context.Context, productID int64, quantity int) error
	// SetStock overwrites the level. nil marks the product untracked.
	SetStock(ctx context.Context, productID int64, available *int) error
}

func checkArgs(productID int64, quantity int) error {
	if productID <= 0 {
		return ErrInvalidProduct
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}
