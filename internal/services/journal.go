package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/store"
	"go.uber.org/zap"
)

const (
	cleanupTimeout  = 10 * time.Second
	conflictRetries = 3
)

// Change is one multi-entity mutation: balance deltas plus at most one
// transaction record and one withdrawal request write. A nil *Before means
// the entity is created.
type Change struct {
	Operation         string
	Steps             []models.IntentStep
	TransactionBefore *models.TransactionRecord
	Transaction       *models.TransactionRecord
	RequestBefore     *models.WithdrawalRequest
	Request           *models.WithdrawalRequest
}

// Journal applies a Change through the intent log:
//
//	intent pending -> account deltas (tagged in PendingOps) -> record writes
//	-> intent applied -> PendingOps cleared -> intent done
//
// A failure before "applied" undoes whatever was written and marks the intent
// rolled_back. Every state change is a compare-and-set, so an intent claimed
// for rollback (rolling_back) can never turn applied afterwards. Resolve
// repeats the same decision for intents left behind by a crash.
type Journal struct {
	store  store.Store
	logger *zap.Logger
	newID  func() string
}

func NewJournal(st store.Store, logger *zap.Logger) *Journal {
	return &Journal{store: st, logger: logger.Named("journal"), newID: uuid.NewString}
}

func mergeSteps(steps []models.IntentStep) []models.IntentStep {
	byID := make(map[string]int, len(steps))
	out := make([]models.IntentStep, 0, len(steps))
	for _, s := range steps {
		if i, ok := byID[s.AccountID]; ok {
			out[i].Delta = models.Round2(out[i].Delta.Add(s.Delta))
			continue
		}
		byID[s.AccountID] = len(out)
		out = append(out, models.IntentStep{AccountID: s.AccountID, Delta: models.Round2(s.Delta)})
	}
	kept := out[:0]
	for _, s := range out {
		if !s.Delta.IsZero() {
			kept = append(kept, s)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].AccountID < kept[j].AccountID })
	return kept
}

// Commit applies ch. accounts must hold the locked, freshly loaded accounts
// named by ch.Steps; their balances and versions are updated in place.
func (j *Journal) Commit(ctx context.Context, ch Change, accounts map[string]*models.Account) error {
	in := &models.Intent{
		ID:        j.newID(),
		Operation: ch.Operation,
		State:     models.IntentPending,
		Steps:     mergeSteps(ch.Steps),
	}
	if ch.TransactionBefore != nil {
		in.TransactionBefore = ch.TransactionBefore.Clone()
	}
	if ch.Transaction != nil {
		in.TransactionAfter = ch.Transaction.Clone()
	}
	if ch.RequestBefore != nil {
		in.RequestBefore = ch.RequestBefore.Clone()
	}
	if ch.Request != nil {
		in.RequestAfter = ch.Request.Clone()
	}

	if err := j.store.CreateIntent(ctx, in); err != nil {
		return operationFailed("could not record operation intent", err)
	}

	if err := j.apply(ctx, in, ch, accounts); err != nil {
		j.abort(in, err)
		return operationFailed(fmt.Sprintf("%s failed and was rolled back", ch.Operation), err)
	}

	if err := j.moveTo(ctx, in, models.IntentApplied); err != nil {
		j.abort(in, err)
		return operationFailed(fmt.Sprintf("%s failed and was rolled back", ch.Operation), err)
	}

	j.finish(in)
	return nil
}

func (j *Journal) apply(ctx context.Context, in *models.Intent, ch Change, accounts map[string]*models.Account) error {
	for _, step := range in.Steps {
		acc, ok := accounts[step.AccountID]
		if !ok {
			return fmt.Errorf("account %s was not loaded", step.AccountID)
		}
		prev := acc.Balance
		acc.Balance = models.Round2(acc.Balance.Add(step.Delta))
		acc.PendingOps = append(acc.PendingOps, in.ID)
		if err := j.store.UpdateAccount(ctx, acc); err != nil {
			acc.Balance = prev
			acc.RemovePendingOp(in.ID)
			return err
		}
	}

	if ch.Transaction != nil {
		var err error
		if ch.TransactionBefore == nil {
			err = j.store.CreateTransaction(ctx, ch.Transaction)
		} else {
			err = j.store.UpdateTransaction(ctx, ch.Transaction)
		}
		if err != nil {
			return err
		}
	}

	if ch.Request != nil {
		var err error
		if ch.RequestBefore == nil {
			err = j.store.CreateWithdrawal(ctx, ch.Request)
		} else {
			err = j.store.UpdateWithdrawal(ctx, ch.Request)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// moveTo switches the intent to state if it is still in its current one.
func (j *Journal) moveTo(ctx context.Context, in *models.Intent, state models.IntentState) error {
	from := in.State
	in.State = state
	if err := j.store.UpdateIntent(ctx, in, from); err != nil {
		in.State = from
		return err
	}
	return nil
}

// abort undoes a Commit that could not reach "applied". If another process
// already claimed the intent, the effects written by this Commit are still
// reverted but the intent state is left to the claimant.
func (j *Journal) abort(in *models.Intent, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	log := j.logger.With(zap.String("intent_id", in.ID), zap.String("operation", in.Operation))
	log.Warn("rolling back operation", zap.Error(cause))

	if err := j.moveTo(ctx, in, models.IntentRollingBack); err != nil {
		log.Warn("intent not claimed for rollback", zap.Error(err))
		j.revert(ctx, in, log)
		return
	}
	j.undo(ctx, in, cause, log)
}

// rollback claims a pending intent and undoes it. An intent that is no longer
// pending is left alone unless it was already claimed.
func (j *Journal) rollback(in *models.Intent, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	log := j.logger.With(zap.String("intent_id", in.ID), zap.String("operation", in.Operation))
	log.Warn("rolling back operation", zap.Error(cause))

	if in.State == models.IntentPending {
		if err := j.moveTo(ctx, in, models.IntentRollingBack); err != nil {
			log.Warn("intent not claimed for rollback", zap.Error(err))
			return
		}
	}
	j.undo(ctx, in, cause, log)
}

// undo reverts a claimed intent and marks it rolled_back. It is idempotent;
// a partial revert leaves the intent rolling_back for the next Resolve.
func (j *Journal) undo(ctx context.Context, in *models.Intent, cause error, log *zap.Logger) {
	if !j.revert(ctx, in, log) {
		return
	}
	if cause != nil {
		in.Error = cause.Error()
	}
	if err := j.moveTo(ctx, in, models.IntentRolledBack); err != nil {
		log.Error("failed to mark intent rolled back", zap.Error(err))
		return
	}
	intentsRolledBack.Inc()
}

// revert undoes the account, record and request writes of in and reports
// whether all of them succeeded.
func (j *Journal) revert(ctx context.Context, in *models.Intent, log *zap.Logger) bool {
	clean := true
	for _, step := range in.Steps {
		if err := j.revertStep(ctx, in.ID, step); err != nil {
			log.Error("failed to revert account", zap.String("account_id", step.AccountID), zap.Error(err))
			clean = false
		}
	}
	if err := j.revertTransaction(ctx, in); err != nil {
		log.Error("failed to revert transaction record", zap.Error(err))
		clean = false
	}
	if err := j.revertRequest(ctx, in); err != nil {
		log.Error("failed to revert withdrawal request", zap.Error(err))
		clean = false
	}
	return clean
}

func (j *Journal) revertStep(ctx context.Context, opID string, step models.IntentStep) error {
	return j.retryOnConflict(func() error {
		acc, err := j.store.GetAccount(ctx, step.AccountID)
		if err != nil {
			return err
		}
		if !acc.HasPendingOp(opID) {
			return nil
		}
		acc.Balance = models.Round2(acc.Balance.Sub(step.Delta))
		acc.RemovePendingOp(opID)
		return j.store.UpdateAccount(ctx, acc)
	})
}

func (j *Journal) revertTransaction(ctx context.Context, in *models.Intent) error {
	if in.TransactionAfter == nil {
		return nil
	}
	cur, err := j.store.GetTransaction(ctx, in.TransactionAfter.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if in.TransactionBefore == nil {
		if cur.Status == models.TxStatusFailed {
			return nil
		}
		cur.Status = models.TxStatusFailed
		cur.CompletedAt = nil
		return j.store.UpdateTransaction(ctx, cur)
	}

	if cur.Version <= in.TransactionBefore.Version {
		return nil
	}
	restored := in.TransactionBefore.Clone()
	restored.Version = cur.Version
	return j.store.UpdateTransaction(ctx, restored)
}

func (j *Journal) revertRequest(ctx context.Context, in *models.Intent) error {
	if in.RequestAfter == nil {
		return nil
	}
	cur, err := j.store.GetWithdrawal(ctx, in.RequestAfter.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if in.RequestBefore == nil {
		if cur.Status == models.RequestRejected {
			return nil
		}
		cur.Status = models.RequestRejected
		cur.RejectionReason = "operation failed"
		return j.store.UpdateWithdrawal(ctx, cur)
	}

	if cur.Version <= in.RequestBefore.Version {
		return nil
	}
	restored := in.RequestBefore.Clone()
	restored.Version = cur.Version
	return j.store.UpdateWithdrawal(ctx, restored)
}

// finish clears the intent tag from every account and marks the intent done.
// The operation is already committed, so failures are only logged; the
// intent stays "applied" and Resolve finishes it later.
func (j *Journal) finish(in *models.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, step := range in.Steps {
		err := j.retryOnConflict(func() error {
			acc, err := j.store.GetAccount(ctx, step.AccountID)
			if err != nil {
				return err
			}
			if !acc.HasPendingOp(in.ID) {
				return nil
			}
			acc.RemovePendingOp(in.ID)
			return j.store.UpdateAccount(ctx, acc)
		})
		if err != nil {
			j.logger.Error("failed to clear pending operation",
				zap.String("intent_id", in.ID), zap.String("account_id", step.AccountID), zap.Error(err))
			return
		}
	}

	if err := j.moveTo(ctx, in, models.IntentDone); err != nil {
		j.logger.Error("failed to mark intent done", zap.String("intent_id", in.ID), zap.Error(err))
	}
}

func (j *Journal) retryOnConflict(fn func() error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}
	return err
}

// Open lists unresolved intents created at or before cutoff, oldest first.
func (j *Journal) Open(ctx context.Context, cutoff time.Time) ([]*models.Intent, error) {
	open, err := j.store.ListIntents(ctx, models.IntentPending, models.IntentRollingBack, models.IntentApplied)
	if err != nil {
		return nil, fmt.Errorf("failed to list open intents: %w", err)
	}
	kept := open[:0]
	for _, in := range open {
		if !in.CreatedAt.After(cutoff) {
			kept = append(kept, in)
		}
	}
	return kept, nil
}

// Resolve re-reads the intent and finishes or rolls it back. Callers hold the
// locks of every key the intent touches. It reports whether anything was done.
func (j *Journal) Resolve(ctx context.Context, id string) (bool, error) {
	in, err := j.store.GetIntent(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to load intent: %w", err)
	}
	switch in.State {
	case models.IntentPending, models.IntentRollingBack:
		j.rollback(in, errors.New("interrupted before completion"))
		return true, nil
	case models.IntentApplied:
		j.finish(in)
		return true, nil
	}
	return false, nil
}
