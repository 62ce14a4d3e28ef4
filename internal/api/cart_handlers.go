package api

import (
	"net/http"

	"github.com/example/gym-checkout/internal/domain/cart"
	"github.com/example/gym-checkout/internal/domain/catalog"
)

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type cartLineView struct {
	ProductID int64        `json:"product_id"`
	Name      string       `json:"name"`
	Kind      catalog.Kind `json:"kind"`
	Quantity  int          `json:"quantity"`
	UnitPrice int64        `json:"unit_price"`
	Subtotal  int64        `json:"subtotal"`
}

type cartView struct {
	Lines     []cartLineView `json:"lines"`
	Total     int64          `json:"total"`
	ItemCount int            `json:"item_count"`
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Carts.Snapshot(r.Context(), getUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cartView(r, snap))
}

// AddToCart takes price and kind from the catalog, never from the client.
func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Quantity <= 0 {
		respondBadRequest(w, "invalid_quantity", "quantity must be positive")
		return
	}

	product, err := h.Catalog.Product(r.Context(), req.ProductID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Carts.AddItem(r.Context(), getUserID(r), product.ID, req.Quantity, product.UnitPrice, product.Kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cartView(r, c.Snapshot()))
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req updateQuantityRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	c, err := h.Carts.SetQuantity(r.Context(), getUserID(r), productID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cartView(r, c.Snapshot()))
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	c, err := h.Carts.RemoveItem(r.Context(), getUserID(r), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cartView(r, c.Snapshot()))
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), getUserID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cartView adds display names. A product removed from the catalog keeps
// its line with an empty name; checkout reports it as unknown.
func (h *Handlers) cartView(r *http.Request, snap cart.Snapshot) cartView {
	lines := snap.Lines()
	v := cartView{
		Lines:     make([]cartLineView, len(lines)),
		Total:     snap.Total(),
		ItemCount: snap.ItemCount(),
	}
	for i, l := range lines {
		var name string
		if p, err := h.Catalog.Product(r.Context(), l.ProductID); err == nil {
			name = p.Name
		}
		v.Lines[i] = cartLineView{
			ProductID: l.ProductID,
			Name:      name,
			Kind:      l.Kind,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Subtotal:  l.Subtotal(),
		}
	}
	return v
}
