package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruralpay/agentledger/internal/lock"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyUser(ctx context.Context, accountID, title, message, relatedRecordID string) error {
	args := m.Called(accountID, title, message, relatedRecordID)
	return args.Error(0)
}

type MockTextSender struct {
	mock.Mock
}

func (m *MockTextSender) SendText(ctx context.Context, phone, message string) error {
	args := m.Called(phone, message)
	return args.Error(0)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) BroadcastBalanceChanged(ctx context.Context, accountID string, newBalance decimal.Decimal) error {
	args := m.Called(accountID, newBalance.StringFixed(2))
	return args.Error(0)
}

func (m *MockBroadcaster) BroadcastRequestChanged(ctx context.Context, recordID, status string) error {
	args := m.Called(recordID, status)
	return args.Error(0)
}

// faultyStore fails selected writes of the wrapped store.
type faultyStore struct {
	store.Store
	failCreateTransaction bool
	failUpdateWithdrawal  bool
	failAccountUpdateAt   int
	accountUpdates        int
}

var errDiskFull = errors.New("disk full")

func (f *faultyStore) UpdateAccount(ctx context.Context, acc *models.Account) error {
	f.accountUpdates++
	if f.failAccountUpdateAt > 0 && f.accountUpdates == f.failAccountUpdateAt {
		return errDiskFull
	}
	return f.Store.UpdateAccount(ctx, acc)
}

func (f *faultyStore) CreateTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	if f.failCreateTransaction {
		return errDiskFull
	}
	return f.Store.CreateTransaction(ctx, rec)
}

func (f *faultyStore) UpdateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	if f.failUpdateWithdrawal {
		return errDiskFull
	}
	return f.Store.UpdateWithdrawal(ctx, req)
}

type fixture struct {
	mem         *store.MemoryStore
	store       store.Store
	commissions *CommissionService
	journal     *Journal
	ledger      *LedgerService
	pushes      *StatePushService
	withdrawals *WithdrawalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	return newFixtureWithStore(t, mem, mem)
}

func newFixtureWithStore(t *testing.T, mem *store.MemoryStore, st store.Store) *fixture {
	t.Helper()
	logger := zap.NewNop()
	commissions := NewCommissionService(st, logger)
	journal := NewJournal(st, logger)
	ledger := NewLedgerService(st, lock.NewMemoryLocker(), commissions, journal, nil, time.Second, logger)
	return &fixture{
		mem:         mem,
		store:       st,
		commissions: commissions,
		journal:     journal,
		ledger:      ledger,
		pushes:      NewStatePushService(ledger),
		withdrawals: NewWithdrawalService(ledger),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) account(t *testing.T, id string, role models.Role, balance string) *models.Account {
	t.Helper()
	acc := &models.Account{ID: id, Name: id, Role: role, Balance: dec(balance)}
	require.NoError(t, f.mem.CreateAccount(context.Background(), acc))
	return acc
}

func (f *fixture) balance(t *testing.T, id string) string {
	t.Helper()
	acc, err := f.mem.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance.StringFixed(2)
}

func (f *fixture) pendingOps(t *testing.T, id string) []string {
	t.Helper()
	acc, err := f.mem.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.PendingOps
}

func (f *fixture) transactions(t *testing.T) []*models.TransactionRecord {
	t.Helper()
	recs, err := f.mem.ListTransactions(context.Background(), store.TransactionFilter{})
	require.NoError(t, err)
	return recs
}

func (f *fixture) sendTiers(t *testing.T, tiers ...models.Tier) {
	t.Helper()
	require.NoError(t, f.commissions.SetTiers(context.Background(),
		&models.TieredCommission{Class: models.ClassSend, Tiers: tiers}))
}

func (f *fixture) withdrawTiers(t *testing.T, tiers ...models.Tier) {
	t.Helper()
	require.NoError(t, f.commissions.SetTiers(context.Background(),
		&models.TieredCommission{Class: models.ClassWithdraw, Tiers: tiers}))
}
