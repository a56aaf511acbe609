package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/beeper-shop-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина биперов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login/user", h.LoginUser)
			r.Post("/login/operator", h.LoginOperator)
		})

		r.Route("/shop", func(r chi.Router) {
			r.Get("/models", h.GetModels)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.UserAuth)

				r.Get("/cart", h.GetCart)
				r.Post("/cart/add", h.AddToCart)
				r.Put("/cart/item/{modelID}", h.UpdateCartItem)
				r.Delete("/cart/item/{modelID}", h.RemoveFromCart)

				r.Post("/purchase", h.Purchase)
			})
		})

		r.Route("/ops", func(r chi.Router) {
			r.Use(h.authMiddleware.OperatorAuth)

			r.Get("/beepers", h.GetSoldBeepers)
			r.Post("/beepers/activate", h.ActivateBeepers)

			r.Get("/favorites", h.GetFavorites)
			r.Post("/favorites/{modelID}", h.AddFavorite)
			r.Delete("/favorites/{modelID}", h.DeleteFavorite)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
