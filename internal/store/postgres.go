package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresStore implements Store on database/sql with the lib/pq driver.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

var _ Store = (*PostgresStore)(nil)

// EnsureSchema creates the ledger tables when they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// checkVersioned turns an UPDATE result into ErrVersionConflict when no row
// matched the expected version.
func checkVersioned(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrVersionConflict)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	at := t.Time
	return &at
}

func jsonOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Accounts

const accountColumns = `id, name, phone, role, balance, auto_admin_cashout, state_id, version, pending_ops, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	var acc models.Account
	var ops pq.StringArray
	err := row.Scan(&acc.ID, &acc.Name, &acc.Phone, &acc.Role, &acc.Balance, &acc.AutoAdminCashout,
		&acc.StateID, &acc.Version, &ops, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acc.PendingOps = []string(ops)
	return &acc, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acc *models.Account) error {
	now := s.now()
	ops := acc.PendingOps
	if ops == nil {
		ops = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, phone, role, balance, auto_admin_cashout, state_id, version, pending_ops, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $9)`,
		acc.ID, acc.Name, acc.Phone, string(acc.Role), acc.Balance, acc.AutoAdminCashout, acc.StateID,
		pq.Array(ops), now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", acc.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	acc.Version = 1
	acc.CreatedAt, acc.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return acc, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, acc *models.Account) error {
	now := s.now()
	ops := acc.PendingOps
	if ops == nil {
		ops = []string{}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET name = $1, phone = $2, balance = $3, auto_admin_cashout = $4, state_id = $5,
			pending_ops = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9`,
		acc.Name, acc.Phone, acc.Balance, acc.AutoAdminCashout, acc.StateID,
		pq.Array(ops), now, acc.ID, acc.Version)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if err := checkVersioned(res, "account", acc.ID); err != nil {
		return err
	}
	acc.Version++
	acc.UpdatedAt = now
	return nil
}

// Transaction records

const transactionColumns = `id, kind, status, sender_id, receiver_id, amount, sender_debit, receiver_credit, deduction_mode,
	agent_commission, agent_commission_percent, company_commission, company_commission_percent, commission, commission_percent,
	sender_balance_after, receiver_balance_after, location, currency_code, currency_rate, withdrawal_request_id, metadata,
	version, created_at, updated_at, completed_at, cancelled_at`

func scanTransaction(row rowScanner) (*models.TransactionRecord, error) {
	var rec models.TransactionRecord
	var (
		location     []byte
		currencyCode string
		currencyRate decimal.NullDecimal
		completedAt  sql.NullTime
		cancelledAt  sql.NullTime
	)
	c := &rec.Commission
	err := row.Scan(&rec.ID, &rec.Kind, &rec.Status, &rec.SenderID, &rec.ReceiverID, &rec.Amount,
		&rec.SenderDebit, &rec.ReceiverCredit, &rec.DeductionMode,
		&c.AgentCommission, &c.AgentPercent, &c.CompanyCommission, &c.CompanyPercent, &c.LegacyCommission, &c.LegacyPercent,
		&rec.SenderBalanceAfter, &rec.ReceiverBalanceAfter, &location, &currencyCode, &currencyRate,
		&rec.WithdrawalRequestID, &rec.Metadata, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt, &completedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	if len(location) > 0 {
		var loc models.Location
		if err := json.Unmarshal(location, &loc); err != nil {
			return nil, fmt.Errorf("invalid location on %s: %w", rec.ID, err)
		}
		rec.Location = &loc
	}
	if currencyCode != "" {
		rec.Currency = &models.CurrencyInfo{Code: currencyCode, Rate: currencyRate.Decimal}
	}
	rec.CompletedAt = timePtr(completedAt)
	rec.CancelledAt = timePtr(cancelledAt)
	return &rec, nil
}

// transactionArgs returns the mutable columns in the order used by both
// INSERT and UPDATE statements.
func transactionArgs(rec *models.TransactionRecord) ([]any, error) {
	var location any
	if rec.Location != nil {
		b, err := jsonOrNil(rec.Location)
		if err != nil {
			return nil, err
		}
		location = b
	}
	var currencyCode string
	var currencyRate decimal.NullDecimal
	if rec.Currency != nil {
		currencyCode = rec.Currency.Code
		currencyRate = decimal.NewNullDecimal(rec.Currency.Rate)
	}
	c := rec.Commission
	return []any{
		string(rec.Kind), string(rec.Status), rec.SenderID, rec.ReceiverID, rec.Amount,
		rec.SenderDebit, rec.ReceiverCredit, string(rec.DeductionMode),
		c.AgentCommission, c.AgentPercent, c.CompanyCommission, c.CompanyPercent, c.LegacyCommission, c.LegacyPercent,
		rec.SenderBalanceAfter, rec.ReceiverBalanceAfter, location, currencyCode, currencyRate,
		rec.WithdrawalRequestID, rec.Metadata, nullTime(rec.CompletedAt), nullTime(rec.CancelledAt),
	}, nil
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	now := s.now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	args, err := transactionArgs(rec)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	args = append([]any{rec.ID}, args...)
	args = append(args, createdAt, now)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transaction_records (id, kind, status, sender_id, receiver_id, amount, sender_debit, receiver_credit,
			deduction_mode, agent_commission, agent_commission_percent, company_commission, company_commission_percent,
			commission, commission_percent, sender_balance_after, receiver_balance_after, location, currency_code,
			currency_rate, withdrawal_request_id, metadata, completed_at, cancelled_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22,
			$23, $24, 1, $25, $26)`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", rec.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	rec.Version = 1
	rec.CreatedAt, rec.UpdatedAt = createdAt, now
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transaction_records WHERE id = $1`, id)
	rec, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UpdateTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	now := s.now()
	args, err := transactionArgs(rec)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	args = append(args, now, rec.ID, rec.Version)

	res, err := s.db.ExecContext(ctx, `
		UPDATE transaction_records
		SET kind = $1, status = $2, sender_id = $3, receiver_id = $4, amount = $5, sender_debit = $6,
			receiver_credit = $7, deduction_mode = $8, agent_commission = $9, agent_commission_percent = $10,
			company_commission = $11, company_commission_percent = $12, commission = $13, commission_percent = $14,
			sender_balance_after = $15, receiver_balance_after = $16, location = $17, currency_code = $18,
			currency_rate = $19, withdrawal_request_id = $20, metadata = $21, completed_at = $22, cancelled_at = $23,
			version = version + 1, updated_at = $24
		WHERE id = $25 AND version = $26`, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if err := checkVersioned(res, "transaction", rec.ID); err != nil {
		return err
	}
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.TransactionRecord, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ParticipantID != "" {
		args = append(args, f.ParticipantID)
		conds = append(conds, fmt.Sprintf("(sender_id = $%d OR receiver_id = $%d)", len(args), len(args)))
	}
	if f.SenderID != "" {
		add("sender_id = $%d", f.SenderID)
	}
	if f.ReceiverID != "" {
		add("receiver_id = $%d", f.ReceiverID)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := `SELECT ` + transactionColumns + ` FROM transaction_records`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := []*models.TransactionRecord{}
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Withdrawal requests

const withdrawalColumns = `id, agent_id, user_id, amount, agent_commission, agent_commission_percent, company_commission,
	company_commission_percent, commission, commission_percent, status, rejection_reason, transaction_id, version,
	created_at, updated_at, approved_at, rejected_at`

func scanWithdrawal(row rowScanner) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	var approvedAt, rejectedAt sql.NullTime
	c := &req.Commission
	err := row.Scan(&req.ID, &req.AgentID, &req.UserID, &req.Amount,
		&c.AgentCommission, &c.AgentPercent, &c.CompanyCommission, &c.CompanyPercent, &c.LegacyCommission, &c.LegacyPercent,
		&req.Status, &req.RejectionReason, &req.TransactionID, &req.Version, &req.CreatedAt, &req.UpdatedAt,
		&approvedAt, &rejectedAt)
	if err != nil {
		return nil, err
	}
	req.ApprovedAt = timePtr(approvedAt)
	req.RejectedAt = timePtr(rejectedAt)
	return &req, nil
}

func (s *PostgresStore) CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	now := s.now()
	c := req.Commission
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (id, agent_id, user_id, amount, agent_commission, agent_commission_percent,
			company_commission, company_commission_percent, commission, commission_percent, status, rejection_reason,
			transaction_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $14)`,
		req.ID, req.AgentID, req.UserID, req.Amount, c.AgentCommission, c.AgentPercent, c.CompanyCommission,
		c.CompanyPercent, c.LegacyCommission, c.LegacyPercent, string(req.Status), req.RejectionReason,
		req.TransactionID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("withdrawal %s: %w", req.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	req.Version = 1
	req.CreatedAt, req.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	req, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("withdrawal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawal request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) UpdateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $1, rejection_reason = $2, transaction_id = $3, approved_at = $4, rejected_at = $5,
			version = version + 1, updated_at = $6
		WHERE id = $7 AND version = $8`,
		string(req.Status), req.RejectionReason, req.TransactionID, nullTime(req.ApprovedAt), nullTime(req.RejectedAt),
		now, req.ID, req.Version)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal request: %w", err)
	}
	if err := checkVersioned(res, "withdrawal", req.ID); err != nil {
		return err
	}
	req.Version++
	req.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]*models.WithdrawalRequest, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.CounterpartyID != "" {
		add("user_id = $%d", f.CounterpartyID)
	}
	if f.RequesterID != "" {
		add("agent_id = $%d", f.RequesterID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer rows.Close()

	out := []*models.WithdrawalRequest{}
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Commission configuration

func (s *PostgresStore) GetCommissionRule(ctx context.Context) (*models.CommissionRule, error) {
	var r models.CommissionRule
	err := s.db.QueryRowContext(ctx, `
		SELECT send_percent, withdraw_percent, updated_at FROM commission_rules WHERE id = 1`).
		Scan(&r.SendPercent, &r.WithdrawPercent, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("commission rule: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load commission rule: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) SaveCommissionRule(ctx context.Context, rule *models.CommissionRule) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commission_rules (id, send_percent, withdraw_percent, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET send_percent = EXCLUDED.send_percent, withdraw_percent = EXCLUDED.withdraw_percent, updated_at = EXCLUDED.updated_at`,
		rule.SendPercent, rule.WithdrawPercent, now)
	if err != nil {
		return fmt.Errorf("failed to save commission rule: %w", err)
	}
	rule.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetTieredCommission(ctx context.Context, class models.TransactionClass) (*models.TieredCommission, error) {
	t := models.TieredCommission{Class: class}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT tiers, updated_at FROM tiered_commissions WHERE class = $1`, string(class)).
		Scan(&raw, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tiered commission %s: %w", class, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tiered commission: %w", err)
	}
	if err := json.Unmarshal(raw, &t.Tiers); err != nil {
		return nil, fmt.Errorf("invalid tiers for %s: %w", class, err)
	}
	return &t, nil
}

func (s *PostgresStore) SaveTieredCommission(ctx context.Context, t *models.TieredCommission) error {
	tiers := t.Tiers
	if tiers == nil {
		tiers = []models.Tier{}
	}
	raw, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("failed to encode tiers: %w", err)
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tiered_commissions (class, tiers, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (class) DO UPDATE SET tiers = EXCLUDED.tiers, updated_at = EXCLUDED.updated_at`,
		string(t.Class), raw, now)
	if err != nil {
		return fmt.Errorf("failed to save tiered commission: %w", err)
	}
	t.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetStateCommission(ctx context.Context, stateID string) (*models.StateCommission, error) {
	sc := models.StateCommission{StateID: stateID}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT default_percent, tiers, updated_at FROM state_commissions WHERE state_id = $1`, stateID).
		Scan(&sc.DefaultPercent, &raw, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state commission %s: %w", stateID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state commission: %w", err)
	}
	if err := json.Unmarshal(raw, &sc.Tiers); err != nil {
		return nil, fmt.Errorf("invalid tiers for state %s: %w", stateID, err)
	}
	return &sc, nil
}

func (s *PostgresStore) SaveStateCommission(ctx context.Context, sc *models.StateCommission) error {
	tiers := sc.Tiers
	if tiers == nil {
		tiers = []models.StateTier{}
	}
	raw, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("failed to encode state tiers: %w", err)
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state_commissions (state_id, default_percent, tiers, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (state_id) DO UPDATE
		SET default_percent = EXCLUDED.default_percent, tiers = EXCLUDED.tiers, updated_at = EXCLUDED.updated_at`,
		sc.StateID, sc.DefaultPercent, raw, now)
	if err != nil {
		return fmt.Errorf("failed to save state commission: %w", err)
	}
	sc.UpdatedAt = now
	return nil
}

// Journal

func (s *PostgresStore) CreateIntent(ctx context.Context, in *models.Intent) error {
	now := s.now()
	in.CreatedAt, in.UpdatedAt = now, now
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode intent: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_intents (id, operation, state, payload, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		in.ID, in.Operation, string(in.State), payload, in.Error, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("intent %s: %w", in.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIntent(ctx context.Context, id string) (*models.Intent, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM ledger_intents WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	var in models.Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("invalid intent payload: %w", err)
	}
	return &in, nil
}

// UpdateIntent is a compare-and-set on the state column. Zero rows means the
// intent moved on (or never existed) and is reported as a conflict.
func (s *PostgresStore) UpdateIntent(ctx context.Context, in *models.Intent, from models.IntentState) error {
	in.UpdatedAt = s.now()
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode intent: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_intents SET state = $1, payload = $2, error = $3, updated_at = $4
		WHERE id = $5 AND state = $6`,
		string(in.State), payload, in.Error, in.UpdatedAt, in.ID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("intent %s is no longer %s: %w", in.ID, from, ErrVersionConflict)
	}
	return nil
}

func (s *PostgresStore) ListIntents(ctx context.Context, states ...models.IntentState) ([]*models.Intent, error) {
	query := `SELECT payload FROM ledger_intents`
	var args []any
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, st := range states {
			names[i] = string(st)
		}
		query += ` WHERE state = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	out := []*models.Intent{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		var in models.Intent
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("invalid intent payload: %w", err)
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}
