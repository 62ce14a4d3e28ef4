package api

import (
	"net/http"

	"github.com/example/gym-checkout/internal/api/middleware"
	"github.com/example/gym-checkout/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(h *Handlers, jwtService *auth.JWTService, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))

		// Catalog
		r.Get("/products", h.ListProducts)
		r.Get("/sites", h.ListSites)
		r.Get("/stock/{productID}", h.GetStock)

		// Cart
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddToCart)
			r.Patch("/items/{productID}", h.UpdateCartItem)
			r.Delete("/items/{productID}", h.RemoveFromCart)
		})

		// Checkout and history
		r.Post("/checkout", h.Checkout)
		r.Get("/membership", h.GetMembership)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{orderID}", h.GetOrder)

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))
			r.Put("/stock/{productID}", h.SetStock)
			r.Post("/stock/{productID}/restock", h.Restock)
		})
	})

	return r
}
