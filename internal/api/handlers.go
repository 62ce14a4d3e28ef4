package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/example/gym-checkout/internal/api/middleware"
	"github.com/example/gym-checkout/internal/checkout"
	"github.com/example/gym-checkout/internal/domain/cart"
	"github.com/example/gym-checkout/internal/domain/catalog"
	"github.com/example/gym-checkout/internal/domain/inventory"
	"github.com/example/gym-checkout/internal/domain/membership"
	"github.com/example/gym-checkout/internal/domain/order"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MembershipReader loads a member's current state
type MembershipReader interface {
	Get(ctx context.Context, userID string) (membership.State, error)
}

type Deps struct {
	Carts        *cart.Service
	Orchestrator *checkout.Orchestrator
	Memberships  MembershipReader
	Orders       *order.Service
	Catalog      catalog.Catalog
	Ledger       inventory.Ledger
	Policy       membership.Policy
	Now          func() time.Time
}

type Handlers struct {
	Deps
	logger *zap.Logger
}

func NewHandlers(deps Deps, logger *zap.Logger) *Handlers {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handlers{Deps: deps, logger: logger.Named("api")}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Catalog Handlers

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.Products(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.Catalog.Sites(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sites)
}

func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if _, err := h.Catalog.Product(r.Context(), productID); err != nil {
		h.writeError(w, r, err)
		return
	}
	available, err := h.Ledger.AvailableQuantity(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inventory.StockRecord{ProductID: productID, Available: available})
}

// Error mapping

type errorResponse struct {
	Error     string              `json:"error"`
	Reason    string              `json:"reason,omitempty"`
	Shortages []checkout.Shortage `json:"shortages,omitempty"`
}

// writeError maps domain errors to a status and the JSON error envelope.
// Anything unrecognized is a 500 whose detail stays in the log.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var f *checkout.Failure
	if errors.As(err, &f) {
		status := checkoutStatus(f)
		if status >= http.StatusInternalServerError {
			h.logger.Error("checkout failed", zap.String("user_id", middleware.GetUserID(r.Context())), zap.Error(err))
		}
		respondJSON(w, status, errorResponse{Error: f.Reason.Error(), Reason: f.Code(), Shortages: f.Shortages})
		return
	}

	status, reason := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, inventory.ErrInvalidQuantity):
		status, reason = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, cart.ErrInvalidProduct), errors.Is(err, inventory.ErrInvalidProduct):
		status, reason = http.StatusBadRequest, "invalid_product"
	case errors.Is(err, catalog.ErrProductNotFound):
		status, reason = http.StatusNotFound, "product_not_found"
	case errors.Is(err, catalog.ErrSiteNotFound):
		status, reason = http.StatusNotFound, "site_not_found"
	case errors.Is(err, cart.ErrLineNotFound):
		status, reason = http.StatusNotFound, "line_not_found"
	case errors.Is(err, order.ErrOrderNotFound):
		status, reason = http.StatusNotFound, "order_not_found"
	case errors.Is(err, inventory.ErrNotTracked):
		status, reason = http.StatusConflict, "not_tracked"
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("user_id", middleware.GetUserID(r.Context())),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	respondJSON(w, status, errorResponse{Error: msg, Reason: reason})
}

func checkoutStatus(f *checkout.Failure) int {
	switch f.Reason {
	case checkout.ErrEmptyCart, checkout.ErrInvalidQuantity, checkout.ErrSiteRequired, checkout.ErrUnknownProduct:
		return http.StatusBadRequest
	case checkout.ErrInsufficientStock, checkout.ErrRenewalNotEligible:
		return http.StatusConflict
	case checkout.ErrCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondBadRequest(w http.ResponseWriter, reason, msg string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Reason: reason})
}

// decodeBody decodes a JSON body. An empty body leaves dst untouched when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	respondBadRequest(w, "invalid_request", "invalid JSON body")
	return false
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(w, "invalid_product_id", "product id must be a positive integer")
		return 0, false
	}
	return id, true
}

// getUserID returns the member ID set by AuthMiddleware
func getUserID(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}
