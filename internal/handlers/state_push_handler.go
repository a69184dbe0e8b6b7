package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/services"
	"github.com/shopspring/decimal"
)

type StatePushHandler struct {
	pushes    *services.StatePushService
	validator *services.ValidationHelper
}

func NewStatePushHandler(pushes *services.StatePushService) *StatePushHandler {
	return &StatePushHandler{
		pushes:    pushes,
		validator: services.NewValidationHelper(),
	}
}

func (h *StatePushHandler) Routes(r chi.Router) {
	r.Route("/state-pushes", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.ListPending)
		r.Put("/{id}", h.Edit)
		r.Post("/{id}/receive", h.Receive)
		r.Post("/{id}/cancel", h.Cancel)
	})
}

type statePushRequest struct {
	ReceiverID        string           `json:"receiverId" validate:"required"`
	Amount            decimal.Decimal  `json:"amount"`
	DeductionMode     string           `json:"deductionMode" validate:"omitempty,oneof=on_top deducted"`
	CommissionPercent *decimal.Decimal `json:"commissionPercent"`
	Location          *models.Location `json:"location"`
}

// Create starts a pending admin-to-admin transfer
// @Summary Create state push
// @Tags StatePush
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} models.TransactionRecord
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /state-pushes [post]
func (h *StatePushHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req statePushRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	rec, err := h.pushes.Create(r.Context(), actorID, services.StatePushInput{
		ReceiverID:        req.ReceiverID,
		Amount:            req.Amount,
		DeductionMode:     models.DeductionMode(req.DeductionMode),
		CommissionPercent: req.CommissionPercent,
		Location:          req.Location,
	})
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type editStatePushRequest struct {
	Amount            decimal.Decimal  `json:"amount"`
	ReceiverID        string           `json:"receiverId"`
	DeductionMode     string           `json:"deductionMode" validate:"omitempty,oneof=on_top deducted"`
	CommissionPercent *decimal.Decimal `json:"commissionPercent"`
}

func (h *StatePushHandler) Edit(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req editStatePushRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	rec, err := h.pushes.Edit(r.Context(), actorID, chi.URLParam(r, "id"), services.EditStatePushInput{
		Amount:            req.Amount,
		ReceiverID:        req.ReceiverID,
		DeductionMode:     models.DeductionMode(req.DeductionMode),
		CommissionPercent: req.CommissionPercent,
	})
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *StatePushHandler) Receive(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	rec, err := h.pushes.Receive(r.Context(), actorID, chi.URLParam(r, "id"))
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *StatePushHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	rec, err := h.pushes.Cancel(r.Context(), actorID, chi.URLParam(r, "id"))
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *StatePushHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	dir := services.PushDirection(r.URL.Query().Get("direction"))
	recs, err := h.pushes.ListPending(r.Context(), actorID, dir)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
