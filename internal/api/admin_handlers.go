package api

import (
	"net/http"

	"github.com/example/gym-checkout/internal/domain/inventory"
	"go.uber.org/zap"
)

type setStockRequest struct {
	Available *int `json:"available"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

// SetStock overwrites a stock level. A null level marks the product untracked.
func (h *Handlers) SetStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req setStockRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if _, err := h.Catalog.Product(r.Context(), productID); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.Ledger.SetStock(r.Context(), productID, req.Available); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("stock set",
		zap.Int64("product_id", productID),
		zap.Intp("available", req.Available),
		zap.String("by", getUserID(r)),
	)
	respondJSON(w, http.StatusOK, inventory.StockRecord{ProductID: productID, Available: req.Available})
}

func (h *Handlers) Restock(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req restockRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if _, err := h.Catalog.Product(r.Context(), productID); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.Ledger.Restock(r.Context(), productID, req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	available, err := h.Ledger.AvailableQuantity(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("stock restocked",
		zap.Int64("product_id", productID),
		zap.Int("quantity", req.Quantity),
		zap.String("by", getUserID(r)),
	)
	respondJSON(w, http.StatusOK, inventory.StockRecord{ProductID: productID, Available: available})
}
