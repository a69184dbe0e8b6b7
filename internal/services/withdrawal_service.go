package services

import (
	"context"
	"time"

	"github.com/ruralpay/agentledger/internal/lock"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const insufficientBalanceReason = "insufficient balance"

// WithdrawalService runs approval-gated cash-outs: an agent requests from a
// user, or an admin requests from an agent. Balances move only on approval.
type WithdrawalService struct {
	ledger *LedgerService
}

func NewWithdrawalService(ledger *LedgerService) *WithdrawalService {
	return &WithdrawalService{ledger: ledger}
}

type WithdrawalInput struct {
	CounterpartyID string
	Amount         decimal.Decimal
}

// RequestResult is either a pending request or, for auto-approved admin
// cash-outs, the completed transaction.
type RequestResult struct {
	Request      *models.WithdrawalRequest `json:"request,omitempty"`
	Transaction  *models.TransactionRecord `json:"transaction,omitempty"`
	AutoApproved bool                      `json:"autoApproved"`
}

func allowedRequestPair(requester, counterparty models.Role) bool {
	return (requester == models.RoleAgent && counterparty == models.RoleUser) ||
		(requester == models.RoleAdmin && counterparty == models.RoleAgent)
}

func cashOutKind(requester models.Role) models.TransactionKind {
	if requester == models.RoleAdmin {
		return models.KindAgentCashOutMoney
	}
	return models.KindWithdrawal
}

// Request records a pending withdrawal after a non-binding balance pre-check
// of the counterparty. Admin requests to agents that opted into automatic
// cash-out are executed immediately instead.
func (w *WithdrawalService) Request(ctx context.Context, actorID string, in WithdrawalInput) (res *RequestResult, err error) {
	defer func(start time.Time) { observe("withdrawal_request", start, err) }(time.Now())
	l := w.ledger

	amount, err := validAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if in.CounterpartyID == actorID {
		return nil, newError(KindForbiddenCounterparty, "cannot request a withdrawal from yourself")
	}

	requester, err := l.loadAccount(ctx, actorID, "account not found")
	if err != nil {
		return nil, err
	}
	if requester.Role == models.RoleUser {
		return nil, newError(KindForbidden, "users cannot request withdrawals")
	}
	counterparty, err := l.loadAccount(ctx, in.CounterpartyID, "counterparty not found")
	if err != nil {
		return nil, err
	}
	if !allowedRequestPair(requester.Role, counterparty.Role) {
		return nil, newError(KindForbiddenCounterparty, "%s cannot request a withdrawal from %s", requester.Role, counterparty.Role)
	}

	split, err := l.commissions.Resolve(ctx, amount, models.ClassWithdraw)
	if err != nil {
		return nil, operationFailed("could not resolve commission", err)
	}
	req := &models.WithdrawalRequest{
		ID:         l.newID(),
		AgentID:    requester.ID,
		UserID:     counterparty.ID,
		Amount:     amount,
		Commission: models.NewCommissionAmounts(amount, split),
		Status:     models.RequestPending,
	}

	if requester.IsAdmin() && counterparty.AutoAdminCashout {
		rec, err := w.autoCashOut(ctx, req)
		if err != nil {
			l.audit.LogFailure("withdrawal_auto_cashout", actorID, err)
			return nil, err
		}
		return &RequestResult{Transaction: rec, AutoApproved: true}, nil
	}

	if err := ensureFunds(counterparty, req.PayerDebit()); err != nil {
		return nil, err
	}
	if err := l.store.CreateWithdrawal(ctx, req); err != nil {
		return nil, operationFailed("could not create withdrawal request", err)
	}

	l.audit.LogRequest("withdrawal_request", req)
	d := l.dispatcher
	d.NotifyUser(counterparty.ID, "Withdrawal request",
		displayName(requester)+" requested "+req.Amount.StringFixed(2)+" (total "+req.PayerDebit().StringFixed(2)+"). Approve or reject it.", req.ID)
	d.SendText(counterparty.Phone, "Withdrawal request of "+req.Amount.StringFixed(2)+" from "+displayName(requester)+". Ref: "+req.ID)
	d.RequestChanged(req.ID, string(req.Status))
	return &RequestResult{Request: req}, nil
}

// autoCashOut executes an admin cash-out from an agent without a request row.
func (w *WithdrawalService) autoCashOut(ctx context.Context, req *models.WithdrawalRequest) (*models.TransactionRecord, error) {
	l := w.ledger
	unlock, err := l.lock(ctx, lock.AccountKey(req.UserID), lock.AccountKey(req.AgentID))
	if err != nil {
		return nil, err
	}
	var agent, admin *models.Account
	rec, err := func() (*models.TransactionRecord, error) {
		defer unlock()

		agent, err = l.loadAccount(ctx, req.UserID, "counterparty not found")
		if err != nil {
			return nil, err
		}
		admin, err = l.loadAccount(ctx, req.AgentID, "account not found")
		if err != nil {
			return nil, err
		}
		if !agent.AutoAdminCashout {
			return nil, newError(KindInvalidState, "agent no longer allows automatic cash-out")
		}

		rec := w.cashOutRecord(req, agent, admin)
		if err := ensureFunds(agent, rec.SenderDebit); err != nil {
			return nil, err
		}
		if err := rec.Validate(); err != nil {
			return nil, newError(KindInvalidInput, "%v", err)
		}
		err = l.journal.Commit(ctx, Change{
			Operation: "withdrawal_auto_cashout",
			Steps: []models.IntentStep{
				{AccountID: agent.ID, Delta: rec.SenderDebit.Neg()},
				{AccountID: admin.ID, Delta: rec.ReceiverCredit},
			},
			Transaction: rec,
		}, accountsByID(agent, admin))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}()
	if err != nil {
		return nil, err
	}

	l.audit.LogTransaction("withdrawal_auto_cashout", rec)
	l.announceTransfer(rec, agent, admin)
	return rec, nil
}

// cashOutRecord builds the completed record paying req from payer to
// requester. Balances snapshot the accounts as loaded.
func (w *WithdrawalService) cashOutRecord(req *models.WithdrawalRequest, payer, requester *models.Account) *models.TransactionRecord {
	l := w.ledger
	debit := req.PayerDebit()
	credit := req.RequesterCredit()
	return &models.TransactionRecord{
		ID:                   l.newID(),
		Kind:                 cashOutKind(requester.Role),
		Status:               models.TxStatusCompleted,
		SenderID:             payer.ID,
		ReceiverID:           requester.ID,
		Amount:               req.Amount,
		SenderDebit:          debit,
		ReceiverCredit:       credit,
		DeductionMode:        models.DeductionOnTop,
		Commission:           req.Commission,
		SenderBalanceAfter:   models.Round2(payer.Balance.Sub(debit)),
		ReceiverBalanceAfter: decimal.NewNullDecimal(models.Round2(requester.Balance.Add(credit))),
		CompletedAt:          l.timestamp(),
	}
}

// loadPendingRequest locks the request and checks actor and state.
func (w *WithdrawalService) loadPendingRequest(ctx context.Context, id, actorID string) (*models.WithdrawalRequest, func(), error) {
	l := w.ledger
	unlock, err := l.lock(ctx, lock.RequestKey(id))
	if err != nil {
		return nil, nil, err
	}
	req, err := l.store.GetWithdrawal(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, notFoundOr(err, "withdrawal request not found")
	}
	if req.UserID != actorID {
		unlock()
		return nil, nil, newError(KindForbidden, "only the counterparty can act on this request")
	}
	if !req.IsPending() {
		unlock()
		return nil, nil, newError(KindInvalidState, "request is %s, not pending", req.Status)
	}
	return req, unlock, nil
}

// Approve re-checks the approver's balance under lock. A shortfall rejects
// the request and returns InsufficientBalance; otherwise the approver pays
// amount plus both commissions and the requester receives amount plus the
// agent commission.
func (w *WithdrawalService) Approve(ctx context.Context, actorID, id string) (res *RequestResult, err error) {
	defer func(start time.Time) { observe("withdrawal_approve", start, err) }(time.Now())
	l := w.ledger

	before, unlockReq, err := w.loadPendingRequest(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	var payer, requester *models.Account
	var rejected *models.WithdrawalRequest
	res, err = func() (*RequestResult, error) {
		defer unlockReq()
		unlock, err := l.lock(ctx, lock.AccountKey(before.UserID), lock.AccountKey(before.AgentID))
		if err != nil {
			return nil, err
		}
		defer unlock()

		payer, err = l.loadAccount(ctx, before.UserID, "account not found")
		if err != nil {
			return nil, err
		}
		requester, err = l.loadAccount(ctx, before.AgentID, "requester not found")
		if err != nil {
			return nil, err
		}

		if shortfall := ensureFunds(payer, before.PayerDebit()); shortfall != nil {
			req := before.Clone()
			req.Status = models.RequestRejected
			req.RejectionReason = insufficientBalanceReason
			req.RejectedAt = l.timestamp()
			if err := l.store.UpdateWithdrawal(ctx, req); err != nil {
				return nil, operationFailed("could not reject withdrawal request", err)
			}
			rejected = req
			return nil, shortfall
		}

		rec := w.cashOutRecord(before, payer, requester)
		rec.WithdrawalRequestID = before.ID
		if err := rec.Validate(); err != nil {
			return nil, newError(KindInvalidInput, "%v", err)
		}

		req := before.Clone()
		req.Status = models.RequestApproved
		req.TransactionID = rec.ID
		req.ApprovedAt = l.timestamp()

		err = l.journal.Commit(ctx, Change{
			Operation: "withdrawal_approve",
			Steps: []models.IntentStep{
				{AccountID: payer.ID, Delta: rec.SenderDebit.Neg()},
				{AccountID: requester.ID, Delta: rec.ReceiverCredit},
			},
			Transaction:   rec,
			RequestBefore: before,
			Request:       req,
		}, accountsByID(payer, requester))
		if err != nil {
			return nil, err
		}
		return &RequestResult{Request: req, Transaction: rec}, nil
	}()

	d := l.dispatcher
	if rejected != nil {
		l.audit.LogRequest("withdrawal_auto_reject", rejected)
		d.NotifyUser(rejected.AgentID, "Withdrawal rejected",
			"Your withdrawal request of "+rejected.Amount.StringFixed(2)+" was rejected: "+insufficientBalanceReason, rejected.ID)
		d.RequestChanged(rejected.ID, string(rejected.Status))
	}
	if err != nil {
		l.audit.LogFailure("withdrawal_approve", actorID, err)
		return nil, err
	}

	l.audit.LogRequest("withdrawal_approve", res.Request)
	l.audit.LogTransaction("withdrawal_approve", res.Transaction)
	l.announceTransfer(res.Transaction, payer, requester)
	d.RequestChanged(res.Request.ID, string(res.Request.Status))
	return res, nil
}

// Reject closes a pending request without moving money.
func (w *WithdrawalService) Reject(ctx context.Context, actorID, id, reason string) (req *models.WithdrawalRequest, err error) {
	defer func(start time.Time) { observe("withdrawal_reject", start, err) }(time.Now())
	l := w.ledger

	before, unlock, err := w.loadPendingRequest(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	req = before.Clone()
	req.Status = models.RequestRejected
	req.RejectionReason = reason
	req.RejectedAt = l.timestamp()
	err = l.store.UpdateWithdrawal(ctx, req)
	unlock()
	if err != nil {
		err = operationFailed("could not reject withdrawal request", err)
		l.audit.LogFailure("withdrawal_reject", actorID, err)
		return nil, err
	}

	l.audit.LogRequest("withdrawal_reject", req)
	msg := "Your withdrawal request of " + req.Amount.StringFixed(2) + " was rejected"
	if reason != "" {
		msg += ": " + reason
	}
	l.dispatcher.NotifyUser(req.AgentID, "Withdrawal rejected", msg, req.ID)
	l.dispatcher.RequestChanged(req.ID, string(req.Status))
	return req, nil
}

type RequestDirection string

const (
	RequestsIncoming RequestDirection = "incoming"
	RequestsOutgoing RequestDirection = "outgoing"
)

// List returns requests addressed to (incoming) or made by (outgoing) the actor.
func (w *WithdrawalService) List(ctx context.Context, actorID string, dir RequestDirection, status models.RequestStatus) ([]*models.WithdrawalRequest, error) {
	f := store.WithdrawalFilter{Status: status}
	switch dir {
	case RequestsIncoming, "":
		f.CounterpartyID = actorID
	case RequestsOutgoing:
		f.RequesterID = actorID
	default:
		return nil, newError(KindInvalidInput, "unknown direction %q", dir)
	}
	reqs, err := w.ledger.store.ListWithdrawals(ctx, f)
	if err != nil {
		w.ledger.logger.Error("failed to list withdrawal requests", zap.Error(err))
		return nil, operationFailed("could not list withdrawal requests", err)
	}
	return reqs, nil
}
