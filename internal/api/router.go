/**
 * @description
 * This file sets up the HTTP router for the net-worth service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for CORS and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware, including OPTIONS preflight handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and returns the router for the net-worth service.
func NewRouter(h *AccountHandlers, jwksURL string) *chi.Mux {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Plaid linking flow
		r.Post("/plaid/link-token", h.CreateLinkTokenHandler)
		r.Post("/plaid/exchange", h.ExchangeTokenHandler)
		r.Post("/plaid/refresh", h.RefreshHandler)

		// Ledger
		r.Get("/networth", h.NetWorthHandler)
		r.Get("/accounts", h.ListAccountsHandler)
		r.Post("/accounts", h.AddAccountHandler)
		r.Put("/accounts/{accountID}/balance", h.UpdateBalanceHandler)
		r.Delete("/accounts/{accountID}", h.RemoveAccountHandler)
	})

	return r
}
