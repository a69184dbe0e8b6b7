package services

import (
	"context"
	"time"

	"github.com/ruralpay/agentledger/internal/lock"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/store"
	"github.com/shopspring/decimal"
)

// StatePushService runs the two-phase admin-to-admin transfer: the sender is
// debited on create and the receiver is credited on receive. While pending
// the sender may cancel or edit it.
type StatePushService struct {
	ledger *LedgerService
}

func NewStatePushService(ledger *LedgerService) *StatePushService {
	return &StatePushService{ledger: ledger}
}

type StatePushInput struct {
	ReceiverID    string
	Amount        decimal.Decimal
	DeductionMode models.DeductionMode
	// CommissionPercent overrides the state commission when set.
	CommissionPercent *decimal.Decimal
	Location          *models.Location
}

// pushTerms computes the commission block, sender debit and receiver credit.
func (p *StatePushService) pushTerms(ctx context.Context, sender, receiver *models.Account, amount decimal.Decimal,
	mode models.DeductionMode, override *decimal.Decimal) (models.CommissionAmounts, decimal.Decimal, decimal.Decimal, error) {
	stateID := receiver.StateID
	if stateID == "" {
		stateID = sender.StateID
	}
	percent, err := p.ledger.commissions.ResolveState(ctx, stateID, amount, override)
	if err != nil {
		return models.CommissionAmounts{}, decimal.Zero, decimal.Zero, operationFailed("could not resolve state commission", err)
	}
	commission := models.NewCommissionAmounts(amount, models.Split{CompanyPercent: percent})
	debit := mode.SenderDebit(amount, commission.CompanyCommission)
	credit := mode.ReceiverCredit(amount, commission.CompanyCommission)
	return commission, debit, credit, nil
}

const overrideKey = "commissionOverride"

// storedOverride returns the explicit percent the push was created or last
// edited with, if any.
func storedOverride(rec *models.TransactionRecord) *decimal.Decimal {
	raw, ok := rec.Metadata[overrideKey].(string)
	if !ok {
		return nil
	}
	percent, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &percent
}

func withOverride(md models.Metadata, override *decimal.Decimal) models.Metadata {
	if override == nil {
		return md
	}
	if md == nil {
		md = models.Metadata{}
	}
	md[overrideKey] = models.ClampPercent(*override).String()
	return md
}

func checkPushParties(sender, receiver *models.Account) error {
	if !sender.IsAdmin() {
		return newError(KindForbidden, "only admins can create state pushes")
	}
	if !receiver.IsAdmin() {
		return newError(KindForbiddenCounterparty, "state pushes can only target admins")
	}
	if sender.ID == receiver.ID {
		return newError(KindForbiddenCounterparty, "cannot push to yourself")
	}
	return nil
}

func pushMode(mode models.DeductionMode) (models.DeductionMode, error) {
	if mode == "" {
		return models.DeductionOnTop, nil
	}
	if !mode.Valid() {
		return "", newError(KindInvalidInput, "unknown deduction mode %q", mode)
	}
	return mode, nil
}

// Create debits the sender and records a pending push. The receiver's
// balance is untouched until Receive.
func (p *StatePushService) Create(ctx context.Context, actorID string, in StatePushInput) (rec *models.TransactionRecord, err error) {
	defer func(start time.Time) { observe("state_push_create", start, err) }(time.Now())
	l := p.ledger

	amount, err := validAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	mode, err := pushMode(in.DeductionMode)
	if err != nil {
		return nil, err
	}
	if in.ReceiverID == actorID {
		return nil, newError(KindForbiddenCounterparty, "cannot push to yourself")
	}

	unlock, err := l.lock(ctx, lock.AccountKey(actorID))
	if err != nil {
		return nil, err
	}
	var sender, receiver *models.Account
	rec, err = func() (*models.TransactionRecord, error) {
		defer unlock()

		sender, err = l.loadAccount(ctx, actorID, "sender not found")
		if err != nil {
			return nil, err
		}
		receiver, err = l.loadAccount(ctx, in.ReceiverID, "recipient not found")
		if err != nil {
			return nil, err
		}
		if err := checkPushParties(sender, receiver); err != nil {
			return nil, err
		}

		commission, debit, credit, err := p.pushTerms(ctx, sender, receiver, amount, mode, in.CommissionPercent)
		if err != nil {
			return nil, err
		}
		if sender.Balance.LessThan(debit) {
			return nil, newError(KindInsufficientBalance, "insufficient balance: need %s, have %s",
				debit.StringFixed(2), sender.Balance.StringFixed(2))
		}

		rec := &models.TransactionRecord{
			ID:                 l.newID(),
			Kind:               models.KindAdminStatePush,
			Status:             models.TxStatusPending,
			SenderID:           sender.ID,
			ReceiverID:         receiver.ID,
			Amount:             amount,
			SenderDebit:        debit,
			ReceiverCredit:     credit,
			DeductionMode:      mode,
			Commission:         commission,
			SenderBalanceAfter: models.Round2(sender.Balance.Sub(debit)),
			Location:           in.Location,
			Metadata:           withOverride(nil, in.CommissionPercent),
		}
		if err := rec.Validate(); err != nil {
			return nil, newError(KindInvalidInput, "%v", err)
		}

		err = l.journal.Commit(ctx, Change{
			Operation:   "state_push_create",
			Steps:       []models.IntentStep{{AccountID: sender.ID, Delta: debit.Neg()}},
			Transaction: rec,
		}, accountsByID(sender))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}()
	if err != nil {
		l.audit.LogFailure("state_push_create", actorID, err)
		return nil, err
	}

	l.audit.LogTransaction("state_push_create", rec)
	d := l.dispatcher
	d.NotifyUser(receiver.ID, "Incoming transfer",
		displayName(sender)+" sent you "+rec.ReceiverCredit.StringFixed(2)+". Confirm receipt to collect it.", rec.ID)
	d.SendText(receiver.Phone, "Pending transfer of "+rec.ReceiverCredit.StringFixed(2)+" from "+displayName(sender)+". Ref: "+rec.ID)
	d.BalanceChanged(sender.ID, sender.Balance)
	d.RequestChanged(rec.ID, string(rec.Status))
	return rec, nil
}

// loadPendingPush locks the record and returns it after checking kind,
// actor and state. asReceiver selects which side of the push may act.
func (p *StatePushService) loadPendingPush(ctx context.Context, id, actorID string, asReceiver bool) (*models.TransactionRecord, func(), error) {
	l := p.ledger
	unlock, err := l.lock(ctx, lock.TransactionKey(id))
	if err != nil {
		return nil, nil, err
	}
	rec, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, notFoundOr(err, "transfer not found")
	}
	if rec.Kind != models.KindAdminStatePush {
		unlock()
		return nil, nil, newError(KindNotFound, "transfer not found")
	}
	party := rec.SenderID
	if asReceiver {
		party = rec.ReceiverID
	}
	if party != actorID {
		unlock()
		return nil, nil, newError(KindForbidden, "not allowed to act on this transfer")
	}
	if !rec.IsPending() {
		unlock()
		return nil, nil, newError(KindInvalidState, "transfer is %s, not pending", rec.Status)
	}
	return rec, unlock, nil
}

// Receive credits the receiver with the stored credit and completes the push.
func (p *StatePushService) Receive(ctx context.Context, actorID, id string) (rec *models.TransactionRecord, err error) {
	defer func(start time.Time) { observe("state_push_receive", start, err) }(time.Now())
	l := p.ledger

	before, unlockRec, err := p.loadPendingPush(ctx, id, actorID, true)
	if err != nil {
		return nil, err
	}
	var receiver *models.Account
	rec, err = func() (*models.TransactionRecord, error) {
		defer unlockRec()
		unlock, err := l.lock(ctx, lock.AccountKey(before.ReceiverID))
		if err != nil {
			return nil, err
		}
		defer unlock()

		receiver, err = l.loadAccount(ctx, before.ReceiverID, "recipient not found")
		if err != nil {
			return nil, err
		}

		rec := before.Clone()
		rec.Status = models.TxStatusCompleted
		rec.ReceiverBalanceAfter = decimal.NewNullDecimal(models.Round2(receiver.Balance.Add(rec.ReceiverCredit)))
		rec.CompletedAt = l.timestamp()

		err = l.journal.Commit(ctx, Change{
			Operation:         "state_push_receive",
			Steps:             []models.IntentStep{{AccountID: receiver.ID, Delta: rec.ReceiverCredit}},
			TransactionBefore: before,
			Transaction:       rec,
		}, accountsByID(receiver))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}()
	if err != nil {
		l.audit.LogFailure("state_push_receive", actorID, err)
		return nil, err
	}

	l.audit.LogTransaction("state_push_receive", rec)
	d := l.dispatcher
	d.NotifyUser(rec.SenderID, "Transfer received",
		"Your transfer of "+rec.Amount.StringFixed(2)+" was received", rec.ID)
	d.BalanceChanged(receiver.ID, receiver.Balance)
	d.RequestChanged(rec.ID, string(rec.Status))
	return rec, nil
}

// Cancel refunds the sender the debit implied by the stored amount,
// commission and deduction mode, and zeroes the commission fields.
func (p *StatePushService) Cancel(ctx context.Context, actorID, id string) (rec *models.TransactionRecord, err error) {
	defer func(start time.Time) { observe("state_push_cancel", start, err) }(time.Now())
	l := p.ledger

	before, unlockRec, err := p.loadPendingPush(ctx, id, actorID, false)
	if err != nil {
		return nil, err
	}
	var sender *models.Account
	rec, err = func() (*models.TransactionRecord, error) {
		defer unlockRec()
		unlock, err := l.lock(ctx, lock.AccountKey(before.SenderID))
		if err != nil {
			return nil, err
		}
		defer unlock()

		sender, err = l.loadAccount(ctx, before.SenderID, "sender not found")
		if err != nil {
			return nil, err
		}

		refund := before.DeductionMode.SenderDebit(before.Amount, before.Commission.CompanyCommission)
		rec := before.Clone()
		rec.Status = models.TxStatusCancelled
		rec.Commission = models.CommissionAmounts{}
		rec.SenderBalanceAfter = models.Round2(sender.Balance.Add(refund))
		rec.CancelledAt = l.timestamp()

		err = l.journal.Commit(ctx, Change{
			Operation:         "state_push_cancel",
			Steps:             []models.IntentStep{{AccountID: sender.ID, Delta: refund}},
			TransactionBefore: before,
			Transaction:       rec,
		}, accountsByID(sender))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}()
	if err != nil {
		l.audit.LogFailure("state_push_cancel", actorID, err)
		return nil, err
	}

	l.audit.LogTransaction("state_push_cancel", rec)
	d := l.dispatcher
	d.NotifyUser(rec.ReceiverID, "Transfer cancelled",
		"A pending transfer of "+rec.Amount.StringFixed(2)+" was cancelled by the sender", rec.ID)
	d.BalanceChanged(sender.ID, sender.Balance)
	d.RequestChanged(rec.ID, string(rec.Status))
	return rec, nil
}

type EditStatePushInput struct {
	Amount decimal.Decimal
	// Empty ReceiverID and DeductionMode keep the current values. A nil
	// CommissionPercent keeps the push's explicit percent if it has one and
	// otherwise re-resolves the state commission.
	ReceiverID        string
	DeductionMode     models.DeductionMode
	CommissionPercent *decimal.Decimal
}

// Edit recomputes a pending push for new terms and charges or refunds only
// the difference from the debit already taken.
func (p *StatePushService) Edit(ctx context.Context, actorID, id string, in EditStatePushInput) (rec *models.TransactionRecord, err error) {
	defer func(start time.Time) { observe("state_push_edit", start, err) }(time.Now())
	l := p.ledger

	amount, err := validAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	before, unlockRec, err := p.loadPendingPush(ctx, id, actorID, false)
	if err != nil {
		return nil, err
	}
	var sender *models.Account
	var previousReceiver string
	rec, err = func() (*models.TransactionRecord, error) {
		defer unlockRec()

		mode := before.DeductionMode
		if in.DeductionMode != "" {
			if mode, err = pushMode(in.DeductionMode); err != nil {
				return nil, err
			}
		}
		receiverID := before.ReceiverID
		if in.ReceiverID != "" {
			receiverID = in.ReceiverID
		}

		unlock, err := l.lock(ctx, lock.AccountKey(before.SenderID))
		if err != nil {
			return nil, err
		}
		defer unlock()

		sender, err = l.loadAccount(ctx, before.SenderID, "sender not found")
		if err != nil {
			return nil, err
		}
		receiver, err := l.loadAccount(ctx, receiverID, "recipient not found")
		if err != nil {
			return nil, err
		}
		if err := checkPushParties(sender, receiver); err != nil {
			return nil, err
		}

		override := in.CommissionPercent
		if override == nil {
			override = storedOverride(before)
		}
		commission, debit, credit, err := p.pushTerms(ctx, sender, receiver, amount, mode, override)
		if err != nil {
			return nil, err
		}
		previous := before.DeductionMode.SenderDebit(before.Amount, before.Commission.CompanyCommission)
		delta := models.Round2(debit.Sub(previous))
		if delta.IsPositive() && sender.Balance.LessThan(delta) {
			return nil, newError(KindInsufficientBalance, "insufficient balance for edit: need %s more, have %s",
				delta.StringFixed(2), sender.Balance.StringFixed(2))
		}

		rec := before.Clone()
		rec.ReceiverID = receiver.ID
		rec.Amount = amount
		rec.DeductionMode = mode
		rec.Commission = commission
		rec.SenderDebit = debit
		rec.ReceiverCredit = credit
		rec.SenderBalanceAfter = models.Round2(sender.Balance.Sub(delta))
		rec.Metadata = withOverride(rec.Metadata, override)
		if err := rec.Validate(); err != nil {
			return nil, newError(KindInvalidInput, "%v", err)
		}
		previousReceiver = before.ReceiverID

		err = l.journal.Commit(ctx, Change{
			Operation:         "state_push_edit",
			Steps:             []models.IntentStep{{AccountID: sender.ID, Delta: delta.Neg()}},
			TransactionBefore: before,
			Transaction:       rec,
		}, accountsByID(sender))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}()
	if err != nil {
		l.audit.LogFailure("state_push_edit", actorID, err)
		return nil, err
	}

	l.audit.LogTransaction("state_push_edit", rec)
	d := l.dispatcher
	if previousReceiver != rec.ReceiverID {
		d.NotifyUser(previousReceiver, "Transfer withdrawn",
			"A pending transfer to you was redirected by the sender", rec.ID)
	}
	d.NotifyUser(rec.ReceiverID, "Transfer updated",
		"A pending transfer to you is now "+rec.ReceiverCredit.StringFixed(2), rec.ID)
	d.BalanceChanged(sender.ID, sender.Balance)
	d.RequestChanged(rec.ID, string(rec.Status))
	return rec, nil
}

type PushDirection string

const (
	PushIncoming PushDirection = "incoming"
	PushOutgoing PushDirection = "outgoing"
)

// ListPending returns the actor's pending pushes in one direction.
func (p *StatePushService) ListPending(ctx context.Context, actorID string, dir PushDirection) ([]*models.TransactionRecord, error) {
	f := store.TransactionFilter{Kind: models.KindAdminStatePush, Status: models.TxStatusPending}
	switch dir {
	case PushIncoming, "":
		f.ReceiverID = actorID
	case PushOutgoing:
		f.SenderID = actorID
	default:
		return nil, newError(KindInvalidInput, "unknown direction %q", dir)
	}
	recs, err := p.ledger.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, operationFailed("could not list state pushes", err)
	}
	return recs, nil
}
