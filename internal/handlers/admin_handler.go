package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/services"
	"github.com/shopspring/decimal"
)

// AdminHandler exposes account provisioning and commission configuration.
// Authorization is enforced by the services, which require the admin role.
type AdminHandler struct {
	ledger      *services.LedgerService
	commissions *services.CommissionService
	validator   *services.ValidationHelper
}

func NewAdminHandler(ledger *services.LedgerService, commissions *services.CommissionService) *AdminHandler {
	return &AdminHandler{
		ledger:      ledger,
		commissions: commissions,
		validator:   services.NewValidationHelper(),
	}
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/commissions/rule", h.GetRule)
	r.Get("/commissions/tiers/{class}", h.GetTiers)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/accounts", h.CreateAccount)
		r.Put("/commissions/rule", h.SetRule)
		r.Put("/commissions/tiers/{class}", h.SetTiers)
		r.Put("/commissions/states/{stateId}", h.SetStateCommission)
	})
}

type createAccountRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone" validate:"omitempty,e164"`
	Role    string `json:"role" validate:"required,oneof=user agent admin"`
	StateID string `json:"stateId"`
}

func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	acc, err := h.ledger.CreateAccount(r.Context(), actorID, services.NewAccountInput{
		ID:      req.ID,
		Name:    req.Name,
		Phone:   req.Phone,
		Role:    models.Role(req.Role),
		StateID: req.StateID,
	})
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

type ruleRequest struct {
	SendPercent     decimal.Decimal `json:"sendPercent"`
	WithdrawPercent decimal.Decimal `json:"withdrawPercent"`
}

func (h *AdminHandler) SetRule(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	rule := &models.CommissionRule{SendPercent: req.SendPercent, WithdrawPercent: req.WithdrawPercent}
	if err := h.ledger.SetCommissionRule(r.Context(), actorID, rule); err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *AdminHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	rule, err := h.commissions.Rule(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "could not load commission rule", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type tiersRequest struct {
	Tiers []models.Tier `json:"tiers" validate:"max=50"`
}

func (h *AdminHandler) SetTiers(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req tiersRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	t := &models.TieredCommission{
		Class: models.TransactionClass(chi.URLParam(r, "class")),
		Tiers: req.Tiers,
	}
	if err := h.ledger.SetTieredCommission(r.Context(), actorID, t); err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *AdminHandler) GetTiers(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	class := models.TransactionClass(chi.URLParam(r, "class"))
	if !class.Valid() {
		services.SendErrorResponse(w, "unknown transaction class", http.StatusBadRequest, nil)
		return
	}
	t, err := h.commissions.Tiers(r.Context(), class)
	if err != nil {
		services.SendErrorResponse(w, "could not load tiered commission", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type stateCommissionRequest struct {
	DefaultPercent decimal.Decimal    `json:"defaultPercent"`
	Tiers          []models.StateTier `json:"tiers" validate:"max=50"`
}

func (h *AdminHandler) SetStateCommission(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req stateCommissionRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	sc := &models.StateCommission{
		StateID:        chi.URLParam(r, "stateId"),
		DefaultPercent: req.DefaultPercent,
		Tiers:          req.Tiers,
	}
	if err := h.ledger.SetStateCommission(r.Context(), actorID, sc); err != nil {
		services.SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}
