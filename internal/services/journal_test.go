package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/agentledger/internal/lock"
	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMergeSteps(t *testing.T) {
	steps := mergeSteps([]models.IntentStep{
		{AccountID: "b", Delta: dec("5")},
		{AccountID: "a", Delta: dec("-3")},
		{AccountID: "b", Delta: dec("-5")},
		{AccountID: "a", Delta: dec("1")},
		{AccountID: "c", Delta: dec("0.004")},
	})
	require.Len(t, steps, 1)
	assert.Equal(t, "a", steps[0].AccountID)
	assert.Equal(t, "-2", steps[0].Delta.String())
}

func TestJournal_RollsBackOnRecordFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	faulty := &faultyStore{Store: mem, failCreateTransaction: true}
	f := newFixtureWithStore(t, mem, faulty)
	f.account(t, "alice", models.RoleUser, "100")
	f.account(t, "bob", models.RoleUser, "0")

	_, err := f.ledger.Transfer(ctx, "alice", TransferInput{ReceiverID: "bob", Amount: dec("40")})
	assert.Equal(t, KindOperationFailed, KindOf(err))

	assert.Equal(t, "100.00", f.balance(t, "alice"))
	assert.Equal(t, "0.00", f.balance(t, "bob"))
	assert.Empty(t, f.pendingOps(t, "alice"))
	assert.Empty(t, f.pendingOps(t, "bob"))
	assert.Empty(t, f.transactions(t))

	rolled, err := mem.ListIntents(ctx, models.IntentRolledBack)
	require.NoError(t, err)
	require.Len(t, rolled, 1)
	assert.Contains(t, rolled[0].Error, "disk full")
}

func TestJournal_RollsBackPartialAccountWrites(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	faulty := &faultyStore{Store: mem, failAccountUpdateAt: 2}
	f := newFixtureWithStore(t, mem, faulty)
	f.account(t, "alice", models.RoleUser, "100")
	f.account(t, "bob", models.RoleUser, "0")

	_, err := f.ledger.Transfer(ctx, "alice", TransferInput{ReceiverID: "bob", Amount: dec("40")})
	assert.Equal(t, KindOperationFailed, KindOf(err))

	assert.Equal(t, "100.00", f.balance(t, "alice"))
	assert.Equal(t, "0.00", f.balance(t, "bob"))
	assert.Empty(t, f.pendingOps(t, "alice"))

	open, err := mem.ListIntents(ctx, models.IntentPending, models.IntentApplied)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestJournal_RestoresRequestOnApprovalFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	faulty := &faultyStore{Store: mem}
	f := newFixtureWithStore(t, mem, faulty)
	f.account(t, "agent", models.RoleAgent, "0")
	f.account(t, "bob", models.RoleUser, "100")

	res, err := f.withdrawals.Request(ctx, "agent", WithdrawalInput{CounterpartyID: "bob", Amount: dec("50")})
	require.NoError(t, err)

	faulty.failUpdateWithdrawal = true
	_, err = f.withdrawals.Approve(ctx, "bob", res.Request.ID)
	assert.Equal(t, KindOperationFailed, KindOf(err))

	assert.Equal(t, "100.00", f.balance(t, "bob"))
	assert.Equal(t, "0.00", f.balance(t, "agent"))

	req, err := mem.GetWithdrawal(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)

	recs := f.transactions(t)
	require.Len(t, recs, 1)
	assert.Equal(t, models.TxStatusFailed, recs[0].Status)
}

func TestJournal_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "alice", models.RoleUser, "100")
	f.account(t, "bob", models.RoleUser, "0")

	// A crash after alice was debited but before the intent was applied.
	alice, err := f.mem.GetAccount(ctx, "alice")
	require.NoError(t, err)
	alice.Balance = dec("70")
	alice.PendingOps = []string{"op-1"}
	require.NoError(t, f.mem.UpdateAccount(ctx, alice))
	rec := &models.TransactionRecord{ID: "tx-1", Kind: models.KindTransfer, Status: models.TxStatusCompleted,
		SenderID: "alice", ReceiverID: "bob", Amount: dec("30")}
	require.NoError(t, f.mem.CreateTransaction(ctx, rec))
	require.NoError(t, f.mem.CreateIntent(ctx, &models.Intent{
		ID:               "op-1",
		Operation:        "transfer",
		State:            models.IntentPending,
		Steps:            []models.IntentStep{{AccountID: "alice", Delta: dec("-30")}, {AccountID: "bob", Delta: dec("30")}},
		TransactionAfter: rec,
	}))

	// A crash after the intent was applied but before tags were cleared.
	bob, err := f.mem.GetAccount(ctx, "bob")
	require.NoError(t, err)
	bob.PendingOps = []string{"op-2"}
	require.NoError(t, f.mem.UpdateAccount(ctx, bob))
	require.NoError(t, f.mem.CreateIntent(ctx, &models.Intent{
		ID:        "op-2",
		Operation: "topup",
		State:     models.IntentApplied,
		Steps:     []models.IntentStep{{AccountID: "bob", Delta: dec("5")}},
	}))

	// Fresh intents may belong to a live operation.
	n, err := f.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.ledger.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = f.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "100.00", f.balance(t, "alice"))
	assert.Empty(t, f.pendingOps(t, "alice"))
	assert.Equal(t, "0.00", f.balance(t, "bob"))
	assert.Empty(t, f.pendingOps(t, "bob"))

	got, err := f.mem.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, got.Status)

	open, err := f.mem.ListIntents(ctx, models.IntentPending, models.IntentRollingBack, models.IntentApplied)
	require.NoError(t, err)
	assert.Empty(t, open)

	n, err = f.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// pausingStore blocks the first CreateTransaction until release is closed.
type pausingStore struct {
	store.Store
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newPausingStore(st store.Store) *pausingStore {
	return &pausingStore{Store: st, reached: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingStore) CreateTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	p.once.Do(func() {
		close(p.reached)
		<-p.release
	})
	return p.Store.CreateTransaction(ctx, rec)
}

type transferResult struct {
	rec *models.TransactionRecord
	err error
}

// startStalledTransfer runs alice -> bob 40 and returns once it is inside
// Commit with both accounts debited/credited but no record written yet.
func startStalledTransfer(t *testing.T) (*fixture, *pausingStore, <-chan transferResult) {
	t.Helper()
	mem := store.NewMemoryStore()
	paused := newPausingStore(mem)
	f := newFixtureWithStore(t, mem, paused)
	f.account(t, "alice", models.RoleUser, "100")
	f.account(t, "bob", models.RoleUser, "0")

	done := make(chan transferResult, 1)
	go func() {
		rec, err := f.ledger.Transfer(context.Background(), "alice", TransferInput{ReceiverID: "bob", Amount: dec("40")})
		done <- transferResult{rec, err}
	}()
	<-paused.reached
	return f, paused, done
}

func secondInstance(mem *store.MemoryStore, locker lock.Locker) *LedgerService {
	logger := zap.NewNop()
	return NewLedgerService(mem, locker, NewCommissionService(mem, logger), NewJournal(mem, logger),
		nil, time.Second, logger)
}

func TestReconcile_ClaimedIntentCannotBeApplied(t *testing.T) {
	ctx := context.Background()
	f, paused, done := startStalledTransfer(t)

	// Another process with its own locker and a clock past the lease.
	other := secondInstance(f.mem, lock.NewMemoryLocker())
	other.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := other.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	close(paused.release)
	res := <-done
	assert.Equal(t, KindOperationFailed, KindOf(res.err))

	assert.Equal(t, "100.00", f.balance(t, "alice"))
	assert.Equal(t, "0.00", f.balance(t, "bob"))
	assert.Empty(t, f.pendingOps(t, "alice"))
	assert.Empty(t, f.pendingOps(t, "bob"))

	recs := f.transactions(t)
	require.Len(t, recs, 1)
	assert.Equal(t, models.TxStatusFailed, recs[0].Status)

	rolled, err := f.mem.ListIntents(ctx, models.IntentRolledBack)
	require.NoError(t, err)
	assert.Len(t, rolled, 1)
}

func TestReconcile_SkipsIntentsWithinLease(t *testing.T) {
	ctx := context.Background()
	f, paused, done := startStalledTransfer(t)

	other := secondInstance(f.mem, lock.NewMemoryLocker())
	n, err := other.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	close(paused.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, models.TxStatusCompleted, res.rec.Status)
	assert.Equal(t, "60.00", f.balance(t, "alice"))
	assert.Equal(t, "40.00", f.balance(t, "bob"))
}

func TestReconcile_WaitsForAccountLocks(t *testing.T) {
	ctx := context.Background()
	f, paused, done := startStalledTransfer(t)

	other := secondInstance(f.mem, f.ledger.locker)
	other.now = func() time.Time { return time.Now().Add(time.Hour) }
	reconciled := make(chan int, 1)
	go func() {
		n, err := other.Reconcile(ctx)
		assert.NoError(t, err)
		reconciled <- n
	}()

	time.Sleep(50 * time.Millisecond)
	close(paused.release)
	res := <-done
	require.NoError(t, res.err)

	assert.Zero(t, <-reconciled)
	assert.Equal(t, "60.00", f.balance(t, "alice"))
	assert.Equal(t, "40.00", f.balance(t, "bob"))
	assert.Empty(t, f.pendingOps(t, "alice"))

	got, err := f.mem.GetTransaction(ctx, res.rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, got.Status)
}
