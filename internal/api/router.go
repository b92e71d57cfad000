/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the shared
 * middleware. Aggregator notifications are public and authenticated by signature or by
 * verification with the aggregator; everything else requires a JWT.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the settlement routes.
func NewRouter(h *Handlers, jwtSecret string, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Aggregator notifications.
	r.Post("/transactions/webhook", h.PaystackWebhookHandler)
	r.Get("/transactions/callback", h.PaystackCallbackHandler)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/transactions/fund", h.FundAccountHandler)
		r.Post("/transactions/transfer", h.TransferHandler)
		r.Post("/transactions/bank-transfer", h.BankTransferHandler)
		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/transactions/accounts/{account_number}", h.ListAccountTransactionsHandler)
		r.Get("/transactions/{transaction_id}", h.GetTransactionHandler)

		r.Get("/banks", h.ListBanksHandler)

		r.Get("/accounts", h.ListAccountsHandler)
		r.Post("/accounts", h.CreateAccountHandler)
		r.Post("/accounts/resolve", h.ResolveAccountHandler)
		r.Get("/accounts/number/{account_number}", h.GetAccountByNumberHandler)
		r.Get("/accounts/{account_id}", h.GetAccountHandler)
	})

	return r
}
