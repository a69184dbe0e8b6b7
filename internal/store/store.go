// Package store persists accounts, ledger records, withdrawal requests,
// commission configuration and the operation journal.
//
// Every write is single-entity and version-checked: UpdateX succeeds only
// when the stored version equals the version carried by the caller's copy,
// and bumps it. Multi-entity atomicity is provided above this layer by the
// services journal.
package store

import (
	"context"
	"errors"

	"github.com/ruralpay/agentledger/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")
)

type AccountStore interface {
	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	// UpdateAccount writes acc if the stored version equals acc.Version and
	// increments acc.Version on success.
	UpdateAccount(ctx context.Context, acc *models.Account) error
}

type TransactionFilter struct {
	ParticipantID string
	SenderID      string
	ReceiverID    string
	Kind          models.TransactionKind
	Status        models.TransactionStatus
	Limit         int
}

type TransactionStore interface {
	CreateTransaction(ctx context.Context, rec *models.TransactionRecord) error
	GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error)
	UpdateTransaction(ctx context.Context, rec *models.TransactionRecord) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.TransactionRecord, error)
}

type WithdrawalFilter struct {
	CounterpartyID string
	RequesterID    string
	Status         models.RequestStatus
	Limit          int
}

type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error
	ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]*models.WithdrawalRequest, error)
}

// CommissionStore returns ErrNotFound for configuration that was never set.
type CommissionStore interface {
	GetCommissionRule(ctx context.Context) (*models.CommissionRule, error)
	SaveCommissionRule(ctx context.Context, rule *models.CommissionRule) error
	GetTieredCommission(ctx context.Context, class models.TransactionClass) (*models.TieredCommission, error)
	SaveTieredCommission(ctx context.Context, t *models.TieredCommission) error
	GetStateCommission(ctx context.Context, stateID string) (*models.StateCommission, error)
	SaveStateCommission(ctx context.Context, s *models.StateCommission) error
}

type JournalStore interface {
	CreateIntent(ctx context.Context, in *models.Intent) error
	GetIntent(ctx context.Context, id string) (*models.Intent, error)
	// UpdateIntent writes in only while the stored intent is still in state
	// from; otherwise it returns ErrVersionConflict.
	UpdateIntent(ctx context.Context, in *models.Intent, from models.IntentState) error
	ListIntents(ctx context.Context, states ...models.IntentState) ([]*models.Intent, error)
}

type Store interface {
	AccountStore
	TransactionStore
	WithdrawalStore
	CommissionStore
	JournalStore
}

const defaultListLimit = 100

func limitOrDefault(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}
