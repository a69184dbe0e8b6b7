package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruralpay/agentledger/internal/middleware"
	"github.com/ruralpay/agentledger/internal/services"
)

type RouterDeps struct {
	Ledger         *services.LedgerService
	Commissions    *services.CommissionService
	StatePushes    *services.StatePushService
	Withdrawals    *services.WithdrawalService
	Auth           *middleware.Authenticator
	AllowedOrigins []string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		NewLedgerHandler(d.Ledger).Routes(r)
		NewStatePushHandler(d.StatePushes).Routes(r)
		NewWithdrawalHandler(d.Withdrawals).Routes(r)
		NewAdminHandler(d.Ledger, d.Commissions).Routes(r)
	})
	return r
}
