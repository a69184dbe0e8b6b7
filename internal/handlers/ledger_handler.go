package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/services"
	"github.com/shopspring/decimal"
)

type LedgerHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewLedgerHandler(ledger *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

func (h *LedgerHandler) Routes(r chi.Router) {
	r.Post("/transfers", h.Transfer)
	r.Post("/topups", h.TopUp)
	r.Post("/withdrawals", h.WithdrawToAgent)
	r.Get("/accounts/me", h.Me)
	r.Put("/accounts/{id}/auto-cashout", h.SetAutoCashout)
	r.Get("/transactions", h.ListTransactions)
	r.Get("/commissions/summary", h.CommissionSummary)
}

type currencyRequest struct {
	Code string          `json:"code" validate:"required,len=3"`
	Rate decimal.Decimal `json:"rate"`
}

type transferRequest struct {
	ReceiverID    string           `json:"receiverId" validate:"required"`
	Amount        decimal.Decimal  `json:"amount"`
	DeductionMode string           `json:"deductionMode" validate:"omitempty,oneof=on_top deducted"`
	Currency      *currencyRequest `json:"currency" validate:"omitempty"`
	Location      *models.Location `json:"location"`
	Metadata      models.Metadata  `json:"metadata"`
}

// Transfer sends money from the caller
// @Summary Transfer funds
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} models.TransactionRecord
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /transfers [post]
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	in := services.TransferInput{
		ReceiverID:    req.ReceiverID,
		Amount:        req.Amount,
		DeductionMode: models.DeductionMode(req.DeductionMode),
		Location:      req.Location,
		Metadata:      req.Metadata,
	}
	if req.Currency != nil {
		in.Currency = &models.CurrencyInfo{Code: req.Currency.Code, Rate: req.Currency.Rate}
	}
	rec, err := h.ledger.Transfer(r.Context(), actorID, in)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type topUpRequest struct {
	UserID   string           `json:"userId" validate:"required"`
	Amount   decimal.Decimal  `json:"amount"`
	Location *models.Location `json:"location"`
}

// TopUp funds a user account from an agent or admin
// @Summary Top up a user
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} models.TransactionRecord
// @Router /topups [post]
func (h *LedgerHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req topUpRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	rec, err := h.ledger.TopUp(r.Context(), actorID, services.TopUpInput{
		UserID:   req.UserID,
		Amount:   req.Amount,
		Location: req.Location,
	})
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type withdrawRequest struct {
	AgentID  string           `json:"agentId" validate:"required"`
	Amount   decimal.Decimal  `json:"amount"`
	Location *models.Location `json:"location"`
}

func (h *LedgerHandler) WithdrawToAgent(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	rec, err := h.ledger.WithdrawUserToAgent(r.Context(), actorID, services.UserWithdrawInput{
		AgentID:  req.AgentID,
		Amount:   req.Amount,
		Location: req.Location,
	})
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *LedgerHandler) Me(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	acc, err := h.ledger.GetAccount(r.Context(), actorID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type autoCashoutRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *LedgerHandler) SetAutoCashout(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req autoCashoutRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	acc, err := h.ledger.SetAutoAdminCashout(r.Context(), actorID, chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := services.TransactionQuery{
		Kind:   models.TransactionKind(q.Get("kind")),
		Status: models.TransactionStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			services.SendErrorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest, nil)
			return
		}
		query.Limit = limit
	}

	recs, err := h.ledger.ListTransactions(r.Context(), actorID, query)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *LedgerHandler) CommissionSummary(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	sum, err := h.ledger.CommissionTotals(r.Context(), actorID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
