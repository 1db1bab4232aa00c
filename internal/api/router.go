/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware for
 * logging, CORS and authentication. The realtime endpoint is mounted outside
 * the request timeout because its connections are long-lived.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/wallet-service/internal/auth"
)

// NewRouter creates the wallet-service router. realtime may be nil, in which
// case /ws is not served.
func NewRouter(h *WalletHandlers, verifier *auth.Verifier, realtime http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	if realtime != nil {
		r.Method(http.MethodGet, "/ws", realtime)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(AuthMiddleware(verifier))

		r.Post("/transfers", h.CreateTransferHandler)
		r.Get("/transactions", h.ListTransactionsHandler)

		r.Get("/accounts", h.ListAccountsHandler)
		r.Post("/accounts", h.CreateAccountHandler)
		r.Post("/accounts/onboard", h.OnboardHandler)
		r.Put("/accounts/{accountID}/default", h.SetDefaultAccountHandler)
	})

	return r
}
