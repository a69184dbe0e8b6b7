package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/services"
	"github.com/shopspring/decimal"
)

type WithdrawalHandler struct {
	withdrawals *services.WithdrawalService
	validator   *services.ValidationHelper
}

func NewWithdrawalHandler(withdrawals *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		validator:   services.NewValidationHelper(),
	}
}

func (h *WithdrawalHandler) Routes(r chi.Router) {
	r.Route("/withdrawal-requests", func(r chi.Router) {
		r.Post("/", h.Request)
		r.Get("/", h.List)
		r.Post("/{id}/approve", h.Approve)
		r.Post("/{id}/reject", h.Reject)
	})
}

type withdrawalRequest struct {
	CounterpartyID string          `json:"counterpartyId" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
}

// Request asks a counterparty to pay out
// @Summary Request withdrawal
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} services.RequestResult
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /withdrawal-requests [post]
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	res, err := h.withdrawals.Request(r.Context(), actorID, services.WithdrawalInput{
		CounterpartyID: req.CounterpartyID,
		Amount:         req.Amount,
	})
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *WithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	res, err := h.withdrawals.Approve(r.Context(), actorID, chi.URLParam(r, "id"))
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

func (h *WithdrawalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 && !decodeBody(w, r, h.validator, &req) {
		return
	}

	res, err := h.withdrawals.Reject(r.Context(), actorID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	reqs, err := h.withdrawals.List(r.Context(), actorID,
		services.RequestDirection(q.Get("direction")), models.RequestStatus(q.Get("status")))
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}
