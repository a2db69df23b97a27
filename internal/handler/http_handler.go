package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/service"
)

// Services groups the service layer the transports expose.
type Services struct {
	Proposals   *service.ProposalService
	Negotiation *service.NegotiationService
	Ledger      *service.LedgerService
	Withdrawals *service.WithdrawalService
	Payments    *service.PaymentIntake
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	svc Services
	log *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log.Component("http")}
}

func actorFrom(r *http.Request) identity.Actor {
	actor, _ := identity.FromContext(r.Context())
	return actor
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, &h.log.Logger, err)
}

// ── Proposals ────────────────────────────────────────────────────────────────

type submitProposalBody struct {
	TrackID          string                  `json:"track_id"`
	ClientID         string                  `json:"client_id"`
	SyncFee          decimal.Decimal         `json:"sync_fee"`
	PaymentTerms     repository.PaymentTerms `json:"payment_terms"`
	ExpirationDate   time.Time               `json:"expiration_date"`
	IsUrgent         bool                    `json:"is_urgent"`
	ProjectTitle     *string                 `json:"project_title"`
	ProjectType      *string                 `json:"project_type"`
	UsageDescription *string                 `json:"usage_description"`
	Duration         *string                 `json:"duration"`
	Territory        *string                 `json:"territory"`
}

// SubmitProposal handles POST /proposals
func (h *HTTPHandler) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	var body submitProposalBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if body.ClientID == "" {
		body.ClientID = actor.ID
	}

	p, err := h.svc.Proposals.Submit(r.Context(), actor, &service.SubmitProposalRequest{
		TrackID:          body.TrackID,
		ClientID:         body.ClientID,
		SyncFee:          body.SyncFee,
		PaymentTerms:     body.PaymentTerms,
		ExpirationDate:   body.ExpirationDate,
		IsUrgent:         body.IsUrgent,
		ProjectTitle:     body.ProjectTitle,
		ProjectType:      body.ProjectType,
		UsageDescription: body.UsageDescription,
		Duration:         body.Duration,
		Territory:        body.Territory,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListProposals handles GET /proposals
func (h *HTTPHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset := pagination(r)
	filter := repository.ProposalFilter{
		ClientID:   optionalQuery(r, "client_id"),
		ProducerID: optionalQuery(r, "producer_id"),
		Limit:      pageSize,
		Offset:     offset,
	}
	if raw := r.URL.Query().Get("phase"); raw != "" {
		phase, err := repository.ParsePhase(raw)
		if err != nil {
			h.fail(w, r, errors.InvalidInput("phase", err.Error()))
			return
		}
		filter.Phase = &phase
	}

	items, total, err := h.svc.Proposals.ListProposals(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*repository.Proposal]{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// GetProposal handles GET /proposals/{id}
func (h *HTTPHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Proposals.GetProposal(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type decisionBody struct {
	Decision repository.Decision `json:"decision"`
}

// ProducerDecision handles POST /proposals/{id}/producer-decision
func (h *HTTPHandler) ProducerDecision(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Proposals.ProducerDecide(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.Decision)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ClientDecision handles POST /proposals/{id}/client-decision
func (h *HTTPHandler) ClientDecision(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.svc.Proposals.ClientDecide(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.Decision)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetHistory handles GET /proposals/{id}/history
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Proposals.GetHistory(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// GetPendingPayment handles GET /proposals/{id}/pending-payment
func (h *HTTPHandler) GetPendingPayment(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.Proposals.GetPendingPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// ── Negotiation ──────────────────────────────────────────────────────────────

type postMessageBody struct {
	Message      string           `json:"message"`
	CounterOffer *decimal.Decimal `json:"counter_offer"`
	CounterTerms *string          `json:"counter_terms"`
}

// PostMessage handles POST /proposals/{id}/messages
func (h *HTTPHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var body postMessageBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	msg, err := h.svc.Negotiation.PostMessage(r.Context(), actorFrom(r), &service.PostMessageRequest{
		ProposalID:   chi.URLParam(r, "id"),
		Message:      body.Message,
		CounterOffer: body.CounterOffer,
		CounterTerms: body.CounterTerms,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListMessages handles GET /proposals/{id}/messages
func (h *HTTPHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Negotiation.ListMessages(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": msgs})
}

// ── Payments ─────────────────────────────────────────────────────────────────

// PaymentCompleted handles POST /payments/completed, the payment
// collaborator's webhook.
func (h *HTTPHandler) PaymentCompleted(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsAdmin() {
		h.fail(w, r, errors.Forbidden("only the payment collaborator may confirm payments"))
		return
	}
	var evt events.PaymentCompleted
	if err := decodeJSON(r, &evt); err != nil {
		h.fail(w, r, err)
		return
	}
	if evt.EventID == "" {
		evt.EventID = r.Header.Get("Idempotency-Key")
	}

	res, err := h.svc.Payments.Handle(r.Context(), evt, "http")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}
	writeJSON(w, http.StatusOK, res.Proposal)
}

// ── Ledger ───────────────────────────────────────────────────────────────────

// GetBalance handles GET /producers/{producer_id}/balance
func (h *HTTPHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.Ledger.GetBalance(r.Context(), actorFrom(r), chi.URLParam(r, "producer_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// ListTransactions handles GET /producers/{producer_id}/transactions
func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset := pagination(r)
	txns, total, err := h.svc.Ledger.ListTransactions(r.Context(), actorFrom(r), chi.URLParam(r, "producer_id"), pageSize, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*repository.Transaction]{Items: txns, Total: total, Page: page, PageSize: pageSize})
}

// Reconcile handles GET /producers/{producer_id}/reconciliation
func (h *HTTPHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Ledger.Reconcile(r.Context(), actorFrom(r), chi.URLParam(r, "producer_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":            rec.Balance,
		"replayed_available": rec.ReplayedAvailable,
		"replayed_pending":   rec.ReplayedPending,
		"consistent":         rec.Consistent(),
	})
}

type adjustBody struct {
	ProducerID  string          `json:"producer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Adjust handles POST /admin/adjustments
func (h *HTTPHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var body adjustBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	txn, err := h.svc.Ledger.Adjust(r.Context(), actorFrom(r), &service.AdjustRequest{
		ProducerID:  body.ProducerID,
		Amount:      body.Amount,
		Description: body.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// ── Withdrawals ──────────────────────────────────────────────────────────────

type withdrawalBody struct {
	ProducerID      string          `json:"producer_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethodID string          `json:"payment_method_id"`
}

// RequestWithdrawal handles POST /withdrawals
func (h *HTTPHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body withdrawalBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	wr, err := h.svc.Withdrawals.RequestWithdrawal(r.Context(), actorFrom(r), &service.RequestWithdrawalRequest{
		ProducerID:      body.ProducerID,
		Amount:          body.Amount,
		PaymentMethodID: body.PaymentMethodID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wr)
}

// ListWithdrawals handles GET /withdrawals
func (h *HTTPHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset := pagination(r)
	filter := repository.WithdrawalFilter{
		ProducerID: optionalQuery(r, "producer_id"),
		Limit:      pageSize,
		Offset:     offset,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := repository.WithdrawalStatus(raw)
		filter.Status = &status
	}

	items, total, err := h.svc.Withdrawals.ListWithdrawals(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*repository.WithdrawalRequest]{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// GetWithdrawal handles GET /withdrawals/{id}
func (h *HTTPHandler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	wr, err := h.svc.Withdrawals.GetWithdrawal(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

type withdrawalDecisionBody struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// ApproveWithdrawal handles POST /withdrawals/{id}/approve
func (h *HTTPHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body withdrawalDecisionBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	wr, err := h.svc.Withdrawals.Approve(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

// RejectWithdrawal handles POST /withdrawals/{id}/reject
func (h *HTTPHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body withdrawalDecisionBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	reason := body.Reason
	if reason == "" {
		reason = body.Notes
	}
	wr, err := h.svc.Withdrawals.Reject(r.Context(), actorFrom(r), chi.URLParam(r, "id"), reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}
