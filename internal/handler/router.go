package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/metrics"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/middleware"
)

// RouterConfig controls the HTTP middleware stack.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Health reports readiness. A nil Health always reports healthy.
	Health func(r *http.Request) error
}

// NewRouter mounts the REST API under /api/v1 next to /health and /metrics.
func NewRouter(h *HTTPHandler, cfg RouterConfig) http.Handler {
	log := &h.log.Logger
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimw.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", metrics.Handler())

	unauthorized := func(w http.ResponseWriter, r *http.Request, msg string) {
		writeError(w, r, log, errors.New(errors.ErrCodeUnauthorized, msg))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(unauthorized))

		r.Route("/proposals", func(r chi.Router) {
			r.Post("/", h.SubmitProposal)
			r.Get("/", h.ListProposals)
			r.Get("/{id}", h.GetProposal)
			r.Post("/{id}/producer-decision", h.ProducerDecision)
			r.Post("/{id}/client-decision", h.ClientDecision)
			r.Get("/{id}/history", h.GetHistory)
			r.Get("/{id}/pending-payment", h.GetPendingPayment)
			r.Post("/{id}/messages", h.PostMessage)
			r.Get("/{id}/messages", h.ListMessages)
		})

		r.Post("/payments/completed", h.PaymentCompleted)

		r.Get("/producers/{producer_id}/balance", h.GetBalance)
		r.Get("/producers/{producer_id}/transactions", h.ListTransactions)
		r.Get("/producers/{producer_id}/reconciliation", h.Reconcile)
		r.Post("/admin/adjustments", h.Adjust)

		r.Route("/withdrawals", func(r chi.Router) {
			r.Post("/", h.RequestWithdrawal)
			r.Get("/", h.ListWithdrawals)
			r.Get("/{id}", h.GetWithdrawal)
			r.Post("/{id}/approve", h.ApproveWithdrawal)
			r.Post("/{id}/reject", h.RejectWithdrawal)
		})
	})
	return r
}
