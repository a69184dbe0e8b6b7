package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/agentledger/internal/lock"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService moves money between accounts. Every mutation runs under the
// accounts' locks and is committed through the journal; notifications go out
// after the locks are released.
type LedgerService struct {
	store       store.Store
	locker      lock.Locker
	commissions *CommissionService
	journal     *Journal
	dispatcher  *Dispatcher
	audit       *AuditLogger
	logger      *zap.Logger
	lockWait    time.Duration
	intentLease time.Duration
	now         func() time.Time
	newID       func() string
}

func NewLedgerService(st store.Store, locker lock.Locker, commissions *CommissionService, journal *Journal,
	dispatcher *Dispatcher, lockWait time.Duration, logger *zap.Logger) *LedgerService {
	if lockWait <= 0 {
		lockWait = 10 * time.Second
	}
	return &LedgerService{
		store:       st,
		locker:      locker,
		commissions: commissions,
		journal:     journal,
		dispatcher:  dispatcher,
		audit:       NewAuditLogger(logger),
		logger:      logger.Named("ledger"),
		lockWait:    lockWait,
		intentLease: 2 * lockWait,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

type TransferInput struct {
	ReceiverID    string
	Amount        decimal.Decimal
	DeductionMode models.DeductionMode
	Currency      *models.CurrencyInfo
	Location      *models.Location
	Metadata      models.Metadata
}

type TopUpInput struct {
	UserID   string
	Amount   decimal.Decimal
	Location *models.Location
}

type UserWithdrawInput struct {
	AgentID  string
	Amount   decimal.Decimal
	Location *models.Location
}

// lock acquires keys with the configured wait bound.
func (s *LedgerService) lock(ctx context.Context, keys ...string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	unlock, err := s.locker.Lock(lctx, keys...)
	if err != nil {
		return nil, operationFailed("could not acquire lock", err)
	}
	return unlock, nil
}

func (s *LedgerService) loadAccount(ctx context.Context, id, missing string) (*models.Account, error) {
	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, missing)
	}
	return acc, nil
}

func validAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = models.Round2(amount)
	if !amount.IsPositive() {
		return amount, newError(KindInvalidAmount, "amount must be greater than zero")
	}
	return amount, nil
}

// ensureFunds checks that a non-admin account can pay debit.
func ensureFunds(acc *models.Account, debit decimal.Decimal) error {
	if acc.IsAdmin() {
		return nil
	}
	if acc.Balance.LessThan(debit) {
		return newError(KindInsufficientBalance, "insufficient balance: need %s, have %s",
			debit.StringFixed(2), acc.Balance.StringFixed(2))
	}
	return nil
}

func accountsByID(accs ...*models.Account) map[string]*models.Account {
	m := make(map[string]*models.Account, len(accs))
	for _, a := range accs {
		m[a.ID] = a
	}
	return m
}

func (s *LedgerService) timestamp() *time.Time {
	t := s.now().UTC()
	return &t
}

// Transfer moves amount from the actor to in.ReceiverID. Users and agents pay
// the send-class company commission under the chosen deduction mode; admins
// push without commission and without a balance check; their deduction mode
// and currency are kept on the record.
func (s *LedgerService) Transfer(ctx context.Context, actorID string, in TransferInput) (rec *models.TransactionRecord, err error) {
	defer func(start time.Time) { observe("transfer", start, err) }(time.Now())

	amount, err := validAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if in.ReceiverID == actorID {
		return nil, newError(KindForbiddenCounterparty, "cannot transfer to yourself")
	}
	mode := in.DeductionMode
	if mode == "" {
		mode = models.DeductionOnTop
	}
	if !mode.Valid() {
		return nil, newError(KindInvalidInput, "unknown deduction mode %q", mode)
	}
	if in.Currency != nil && (in.Currency.Code == "" || !in.Currency.Rate.IsPositive()) {
		return nil, newError(KindInvalidInput, "currency requires a code and a positive rate")
	}

	unlock, err := s.lock(ctx, lock.AccountKey(actorID), lock.AccountKey(in.ReceiverID))
	if err != nil {
		return nil, err
	}
	var sender, receiver *models.Account
	rec, err = func() (*models.TransactionRecord, error) {
		defer unlock()

		sender, err = s.loadAccount(ctx, actorID, "sender not found")
		if err != nil {
			return nil, err
		}
		receiver, err = s.loadAccount(ctx, in.ReceiverID, "recipient not found")
		if err != nil {
			return nil, err
		}
		if sender.Role == models.RoleUser && receiver.Role != models.RoleUser {
			return nil, newError(KindForbiddenCounterparty, "users can only transfer to other users")
		}

		rec := &models.TransactionRecord{
			ID:         s.newID(),
			Status:     models.TxStatusCompleted,
			SenderID:   sender.ID,
			ReceiverID: receiver.ID,
			Amount:     amount,
			Location:   in.Location,
			Metadata:   in.Metadata,
		}

		rec.Currency = in.Currency
		rec.DeductionMode = mode
		if sender.IsAdmin() {
			// No commission, so the mode and currency are recorded only.
			rec.Kind = models.KindAdminPush
		} else {
			split, err := s.commissions.Resolve(ctx, amount, models.ClassSend)
			if err != nil {
				return nil, operationFailed("could not resolve commission", err)
			}
			rec.Kind = models.KindTransfer
			if in.Currency != nil && !in.Currency.Rate.Equal(decimal.NewFromInt(1)) {
				rec.Kind = models.KindMoneyExchange
			}
			rec.Commission = models.NewCommissionAmounts(amount, models.Split{CompanyPercent: split.CompanyPercent})
		}
		rec.SenderDebit = rec.DeductionMode.SenderDebit(amount, rec.Commission.CompanyCommission)
		rec.ReceiverCredit = rec.DeductionMode.ReceiverCredit(amount, rec.Commission.CompanyCommission)

		if err := ensureFunds(sender, rec.SenderDebit); err != nil {
			return nil, err
		}

		rec.SenderBalanceAfter = models.Round2(sender.Balance.Sub(rec.SenderDebit))
		rec.ReceiverBalanceAfter = decimal.NewNullDecimal(models.Round2(receiver.Balance.Add(rec.ReceiverCredit)))
		rec.CompletedAt = s.timestamp()
		if err := rec.Validate(); err != nil {
			return nil, newError(KindInvalidInput, "%v", err)
		}

		err := s.journal.Commit(ctx, Change{
			Operation: string(rec.Kind),
			Steps: []models.IntentStep{
				{AccountID: sender.ID, Delta: rec.SenderDebit.Neg()},
				{AccountID: receiver.ID, Delta: rec.ReceiverCredit},
			},
			Transaction: rec,
		}, accountsByID(sender, receiver))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}()
	if err != nil {
		s.audit.LogFailure("transfer", actorID, err)
		return nil, err
	}

	s.audit.LogTransaction("transfer", rec)
	s.announceTransfer(rec, sender, receiver)
	return rec, nil
}

// TopUp lets an agent or admin fund a user. Agents earn the send-class agent
// commission, credited back to them in the same operation.
func (s *LedgerService) TopUp(ctx context.Context, actorID string, in TopUpInput) (rec *models.TransactionRecord, err error) {
	defer func(start time.Time) { observe("topup", start, err) }(time.Now())

	amount, err := validAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if in.UserID == actorID {
		return nil, newError(KindForbiddenCounterparty, "cannot top up yourself")
	}

	unlock, err := s.lock(ctx, lock.AccountKey(actorID), lock.AccountKey(in.UserID))
	if err != nil {
		return nil, err
	}
	var funder, user *models.Account
	rec, err = func() (*models.TransactionRecord, error) {
		defer unlock()

		funder, err = s.loadAccount(ctx, actorID, "account not found")
		if err != nil {
			return nil, err
		}
		if funder.Role == models.RoleUser {
			return nil, newError(KindForbidden, "only agents and admins can top up")
		}
		user, err = s.loadAccount(ctx, in.UserID, "recipient not found")
		if err != nil {
			return nil, err
		}
		if user.Role != models.RoleUser {
			return nil, newError(KindForbiddenCounterparty, "top ups can only target users")
		}

		rec := &models.TransactionRecord{
			ID:             s.newID(),
			Kind:           models.KindTopUp,
			Status:         models.TxStatusCompleted,
			SenderID:       funder.ID,
			ReceiverID:     user.ID,
			Amount:         amount,
			SenderDebit:    amount,
			ReceiverCredit: amount,
			DeductionMode:  models.DeductionOnTop,
			Location:       in.Location,
		}
		if !funder.IsAdmin() {
			split, err := s.commissions.Resolve(ctx, amount, models.ClassSend)
			if err != nil {
				return nil, operationFailed("could not resolve commission", err)
			}
			rec.Commission = models.NewCommissionAmounts(amount, models.Split{AgentPercent: split.AgentPercent})
		}
		if err := ensureFunds(funder, amount); err != nil {
			return nil, err
		}

		funderDelta := models.Round2(rec.Commission.AgentCommission.Sub(amount))
		rec.SenderBalanceAfter = models.Round2(funder.Balance.Add(funderDelta))
		rec.ReceiverBalanceAfter = decimal.NewNullDecimal(models.Round2(user.Balance.Add(amount)))
		rec.CompletedAt = s.timestamp()
		if err := rec.Validate(); err != nil {
			return nil, newError(KindInvalidInput, "%v", err)
		}

		err := s.journal.Commit(ctx, Change{
			Operation: string(rec.Kind),
			Steps: []models.IntentStep{
				{AccountID: funder.ID, Delta: funderDelta},
				{AccountID: user.ID, Delta: amount},
			},
			Transaction: rec,
		}, accountsByID(funder, user))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}()
	if err != nil {
		s.audit.LogFailure("topup", actorID, err)
		return nil, err
	}

	s.audit.LogTransaction("topup", rec)
	s.announceTransfer(rec, funder, user)
	return rec, nil
}

// WithdrawUserToAgent cashes a user out at an agent immediately. The user pays
// amount plus both commissions; the agent receives amount plus its share.
func (s *LedgerService) WithdrawUserToAgent(ctx context.Context, actorID string, in UserWithdrawInput) (rec *models.TransactionRecord, err error) {
	defer func(start time.Time) { observe("user_withdraw", start, err) }(time.Now())

	amount, err := validAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if in.AgentID == actorID {
		return nil, newError(KindForbiddenCounterparty, "cannot withdraw to yourself")
	}

	unlock, err := s.lock(ctx, lock.AccountKey(actorID), lock.AccountKey(in.AgentID))
	if err != nil {
		return nil, err
	}
	var user, agent *models.Account
	rec, err = func() (*models.TransactionRecord, error) {
		defer unlock()

		user, err = s.loadAccount(ctx, actorID, "account not found")
		if err != nil {
			return nil, err
		}
		if user.Role != models.RoleUser {
			return nil, newError(KindForbidden, "only users can withdraw to an agent")
		}
		agent, err = s.loadAccount(ctx, in.AgentID, "agent not found")
		if err != nil {
			return nil, err
		}
		if agent.Role != models.RoleAgent {
			return nil, newError(KindForbiddenCounterparty, "withdrawals must go to an agent")
		}

		split, err := s.commissions.Resolve(ctx, amount, models.ClassWithdraw)
		if err != nil {
			return nil, operationFailed("could not resolve commission", err)
		}
		commission := models.NewCommissionAmounts(amount, split)
		rec := &models.TransactionRecord{
			ID:             s.newID(),
			Kind:           models.KindUserWithdraw,
			Status:         models.TxStatusCompleted,
			SenderID:       user.ID,
			ReceiverID:     agent.ID,
			Amount:         amount,
			SenderDebit:    models.Round2(amount.Add(commission.Total())),
			ReceiverCredit: models.Round2(amount.Add(commission.AgentCommission)),
			DeductionMode:  models.DeductionOnTop,
			Commission:     commission,
			Location:       in.Location,
		}
		if err := ensureFunds(user, rec.SenderDebit); err != nil {
			return nil, err
		}

		rec.SenderBalanceAfter = models.Round2(user.Balance.Sub(rec.SenderDebit))
		rec.ReceiverBalanceAfter = decimal.NewNullDecimal(models.Round2(agent.Balance.Add(rec.ReceiverCredit)))
		rec.CompletedAt = s.timestamp()
		if err := rec.Validate(); err != nil {
			return nil, newError(KindInvalidInput, "%v", err)
		}

		err = s.journal.Commit(ctx, Change{
			Operation: string(rec.Kind),
			Steps: []models.IntentStep{
				{AccountID: user.ID, Delta: rec.SenderDebit.Neg()},
				{AccountID: agent.ID, Delta: rec.ReceiverCredit},
			},
			Transaction: rec,
		}, accountsByID(user, agent))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}()
	if err != nil {
		s.audit.LogFailure("user_withdraw", actorID, err)
		return nil, err
	}

	s.audit.LogTransaction("user_withdraw", rec)
	s.announceTransfer(rec, user, agent)
	return rec, nil
}

// announceTransfer queues the post-commit side effects of a completed
// transfer. sender and receiver carry the committed balances.
func (s *LedgerService) announceTransfer(rec *models.TransactionRecord, sender, receiver *models.Account) {
	amount := rec.Amount.StringFixed(2)
	s.dispatcher.NotifyUser(sender.ID, "Money sent",
		"You sent "+amount+" to "+displayName(receiver)+". New balance: "+sender.Balance.StringFixed(2), rec.ID)
	s.dispatcher.NotifyUser(receiver.ID, "Money received",
		"You received "+rec.ReceiverCredit.StringFixed(2)+" from "+displayName(sender), rec.ID)
	s.dispatcher.SendText(receiver.Phone,
		"You received "+rec.ReceiverCredit.StringFixed(2)+" from "+displayName(sender)+". Ref: "+rec.ID)
	s.dispatcher.BalanceChanged(sender.ID, sender.Balance)
	s.dispatcher.BalanceChanged(receiver.ID, receiver.Balance)
}

func displayName(acc *models.Account) string {
	if acc.Name != "" {
		return acc.Name
	}
	return acc.ID
}

// GetAccount returns an account by id.
func (s *LedgerService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.loadAccount(ctx, id, "account not found")
}

type TransactionQuery struct {
	Kind   models.TransactionKind
	Status models.TransactionStatus
	Limit  int
}

// ListTransactions returns the actor's records, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, actorID string, q TransactionQuery) ([]*models.TransactionRecord, error) {
	recs, err := s.store.ListTransactions(ctx, store.TransactionFilter{
		ParticipantID: actorID,
		Kind:          q.Kind,
		Status:        q.Status,
		Limit:         q.Limit,
	})
	if err != nil {
		return nil, operationFailed("could not list transactions", err)
	}
	return recs, nil
}

// CommissionSummary aggregates commission over an account's completed records.
type CommissionSummary struct {
	AccountID         string          `json:"accountId"`
	AgentEarned       decimal.Decimal `json:"agentEarned"`
	CompanyCommission decimal.Decimal `json:"companyCommission"`
	Transactions      int             `json:"transactions"`
}

// CommissionTotals sums the agent commission the account earned and the
// company commission generated by records it paid. Cancelled pushes carry
// zeroed commission and are excluded by status anyway.
func (s *LedgerService) CommissionTotals(ctx context.Context, accountID string) (*CommissionSummary, error) {
	recs, err := s.store.ListTransactions(ctx, store.TransactionFilter{
		ParticipantID: accountID,
		Status:        models.TxStatusCompleted,
		Limit:         1000,
	})
	if err != nil {
		return nil, operationFailed("could not list transactions", err)
	}

	sum := &CommissionSummary{AccountID: accountID, AgentEarned: decimal.Zero, CompanyCommission: decimal.Zero}
	for _, rec := range recs {
		if earnsAgentCommission(rec, accountID) {
			sum.AgentEarned = sum.AgentEarned.Add(rec.Commission.AgentCommission)
		}
		if rec.SenderID == accountID {
			sum.CompanyCommission = sum.CompanyCommission.Add(rec.Commission.CompanyCommission)
		}
		sum.Transactions++
	}
	sum.AgentEarned = models.Round2(sum.AgentEarned)
	sum.CompanyCommission = models.Round2(sum.CompanyCommission)
	return sum, nil
}

func earnsAgentCommission(rec *models.TransactionRecord, accountID string) bool {
	switch rec.Kind {
	case models.KindTopUp:
		return rec.SenderID == accountID
	case models.KindWithdrawal, models.KindUserWithdraw, models.KindAgentCashOutMoney:
		return rec.ReceiverID == accountID
	}
	return false
}

type NewAccountInput struct {
	ID      string
	Name    string
	Phone   string
	Role    models.Role
	StateID string
}

// CreateAccount registers an account with a zero balance. Only admins may
// call it.
func (s *LedgerService) CreateAccount(ctx context.Context, actorID string, in NewAccountInput) (*models.Account, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.createAccount(ctx, in)
}

// Bootstrap creates the first admin if it does not exist yet.
func (s *LedgerService) Bootstrap(ctx context.Context, adminID, name string) error {
	_, err := s.store.GetAccount(ctx, adminID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err = s.createAccount(ctx, NewAccountInput{ID: adminID, Name: name, Role: models.RoleAdmin})
	return err
}

func (s *LedgerService) createAccount(ctx context.Context, in NewAccountInput) (*models.Account, error) {
	if !in.Role.Valid() {
		return nil, newError(KindInvalidInput, "unknown role %q", in.Role)
	}
	if in.ID == "" {
		in.ID = s.newID()
	}
	acc := &models.Account{
		ID:      in.ID,
		Name:    in.Name,
		Phone:   in.Phone,
		Role:    in.Role,
		Balance: decimal.Zero,
		StateID: in.StateID,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, newError(KindInvalidInput, "account %s already exists", in.ID)
		}
		return nil, operationFailed("could not create account", err)
	}
	s.logger.Info("account created", zap.String("account_id", acc.ID), zap.String("role", string(acc.Role)))
	return acc, nil
}

// SetAutoAdminCashout toggles the agent's consent to admin cash-outs without
// approval. The agent itself or an admin may change it.
func (s *LedgerService) SetAutoAdminCashout(ctx context.Context, actorID, agentID string, enabled bool) (*models.Account, error) {
	if actorID != agentID {
		if err := s.requireAdmin(ctx, actorID); err != nil {
			return nil, err
		}
	}

	unlock, err := s.lock(ctx, lock.AccountKey(agentID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	agent, err := s.loadAccount(ctx, agentID, "agent not found")
	if err != nil {
		return nil, err
	}
	if agent.Role != models.RoleAgent {
		return nil, newError(KindInvalidInput, "auto cash-out applies to agents only")
	}
	agent.AutoAdminCashout = enabled
	if err := s.store.UpdateAccount(ctx, agent); err != nil {
		return nil, operationFailed("could not update account", err)
	}
	return agent, nil
}

func (s *LedgerService) requireAdmin(ctx context.Context, actorID string) error {
	actor, err := s.loadAccount(ctx, actorID, "account not found")
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return newError(KindForbidden, "admin role required")
	}
	return nil
}

// Commission configuration, admin only.

func (s *LedgerService) SetCommissionRule(ctx context.Context, actorID string, rule *models.CommissionRule) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return asLedgerError("could not save commission rule", s.commissions.SetRule(ctx, rule))
}

func (s *LedgerService) SetTieredCommission(ctx context.Context, actorID string, t *models.TieredCommission) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return asLedgerError("could not save tiered commission", s.commissions.SetTiers(ctx, t))
}

func (s *LedgerService) SetStateCommission(ctx context.Context, actorID string, sc *models.StateCommission) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return asLedgerError("could not save state commission", s.commissions.SetStateCommission(ctx, sc))
}

// SetIntentLease sets how old an open intent must be before Reconcile treats
// it as abandoned. It should exceed the longest time a lock can be held.
func (s *LedgerService) SetIntentLease(d time.Duration) {
	if d > 0 {
		s.intentLease = d
	}
}

// Reconcile resolves journal intents left open by a crashed process. Intents
// younger than the lease may still belong to a live operation and are
// skipped. Each intent is resolved under the same locks its operation held.
func (s *LedgerService) Reconcile(ctx context.Context) (int, error) {
	open, err := s.journal.Open(ctx, s.now().Add(-s.intentLease))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, in := range open {
		resolved, err := s.resolveIntent(ctx, in)
		if err != nil {
			s.logger.Warn("could not reconcile intent", zap.String("intent_id", in.ID), zap.Error(err))
			continue
		}
		if resolved {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("reconciled open intents", zap.Int("count", n))
	}
	return n, nil
}

func (s *LedgerService) resolveIntent(ctx context.Context, in *models.Intent) (bool, error) {
	var recordKeys []string
	if in.RequestAfter != nil {
		recordKeys = append(recordKeys, lock.RequestKey(in.RequestAfter.ID))
	}
	if in.TransactionAfter != nil {
		recordKeys = append(recordKeys, lock.TransactionKey(in.TransactionAfter.ID))
	}
	if len(recordKeys) > 0 {
		unlock, err := s.lock(ctx, recordKeys...)
		if err != nil {
			return false, err
		}
		defer unlock()
	}

	accountKeys := make([]string, 0, len(in.Steps))
	for _, id := range in.AccountIDs() {
		accountKeys = append(accountKeys, lock.AccountKey(id))
	}
	if len(accountKeys) > 0 {
		unlock, err := s.lock(ctx, accountKeys...)
		if err != nil {
			return false, err
		}
		defer unlock()
	}
	return s.journal.Resolve(ctx, in.ID)
}
