package cart

import (
	"time"

	"github.com/example/gym-checkout/internal/domain/catalog"
)

const (
	EventItemAdded           = "ItemAddedToCart"
	EventItemQuantityChanged = "ItemQuantityChanged"
	EventItemRemoved         = "ItemRemovedFromCart"
	EventCartCleared         = "CartCleared"
	EventItemsPurchased      = "ItemsPurchased"
)

type ItemAddedToCart struct {
	CartID    string       `json:"cart_id"`
	UserID    string       `json:"user_id"`
	ProductID int64        `json:"product_id"`
	Quantity  int          `json:"quantity"`
	UnitPrice int64        `json:"unit_price"`
	Kind      catalog.Kind `json:"kind"`
	AddedAt   time.Time    `json:"added_at"`
}

type ItemQuantityChanged struct {
	CartID    string    `json:"cart_id"`
	UserID    string    `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	ChangedAt time.Time `json:"changed_at"`
}

type ItemRemovedFromCart struct {
	CartID    string    `json:"cart_id"`
	UserID    string    `json:"user_id"`
	ProductID int64     `json:"product_id"`
	RemovedAt time.Time `json:"removed_at"`
}

type CartCleared struct {
	CartID    string    `json:"cart_id"`
	UserID    string    `json:"user_id"`
	ClearedAt time.Time `json:"cleared_at"`
}

type PurchasedLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// ItemsPurchased takes the quantities bought by an order out of the cart.
type ItemsPurchased struct {
	CartID      string          `json:"cart_id"`
	UserID      string          `json:"user_id"`
	OrderID     string          `json:"order_id"`
	Lines       []PurchasedLine `json:"lines"`
	PurchasedAt time.Time       `json:"purchased_at"`
}
