package api

import (
	"net/http"

	"github.com/example/gym-checkout/internal/checkout"
	"github.com/example/gym-checkout/internal/domain/order"
	"github.com/go-chi/chi/v5"
)

type checkoutRequest struct {
	SiteID *int64 `json:"site_id"`
}

// Checkout buys the caller's cart as it is now
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	userID := getUserID(r)
	snap, err := h.Carts.Snapshot(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Orchestrator.Checkout(r.Context(), checkout.Request{UserID: userID, Cart: snap, SiteID: req.SiteID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (h *Handlers) GetMembership(w http.ResponseWriter, r *http.Request) {
	state, err := h.Memberships.Get(r.Context(), getUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.Policy.Status(state, h.Now()))
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.ListByUser(r.Context(), getUserID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GetOrder hides other members' orders behind a 404
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if o.UserID != getUserID(r) {
		h.writeError(w, r, order.ErrOrderNotFound)
		return
	}
	respondJSON(w, http.StatusOK, o)
}
