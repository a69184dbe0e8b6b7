package store

import (
	"context"
	"testing"
	"time"

	"github.com/ruralpay/agentledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestMemoryStore_Accounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	acc := &models.Account{ID: "u1", Role: models.RoleUser, Balance: decimal.NewFromInt(50)}
	require.NoError(t, s.CreateAccount(ctx, acc))
	assert.Equal(t, int64(1), acc.Version)

	t.Run("duplicate create", func(t *testing.T) {
		err := s.CreateAccount(ctx, &models.Account{ID: "u1", Role: models.RoleUser})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := s.GetAccount(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("returned copies are independent", func(t *testing.T) {
		got, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		got.Balance = decimal.NewFromInt(999)
		got.PendingOps = append(got.PendingOps, "op-x")

		again, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, again.Balance.Equal(decimal.NewFromInt(50)))
		assert.Empty(t, again.PendingOps)
	})

	t.Run("version checked update", func(t *testing.T) {
		first, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		second, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)

		first.Balance = decimal.NewFromInt(40)
		require.NoError(t, s.UpdateAccount(ctx, first))
		assert.Equal(t, int64(2), first.Version)

		second.Balance = decimal.NewFromInt(10)
		err = s.UpdateAccount(ctx, second)
		assert.ErrorIs(t, err, ErrVersionConflict)

		stored, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, stored.Balance.Equal(decimal.NewFromInt(40)))
	})
}

func TestMemoryStore_ListTransactions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	recs := []*models.TransactionRecord{
		{ID: "t1", Kind: models.KindTransfer, Status: models.TxStatusCompleted, SenderID: "a", ReceiverID: "b"},
		{ID: "t2", Kind: models.KindAdminStatePush, Status: models.TxStatusPending, SenderID: "x", ReceiverID: "a"},
		{ID: "t3", Kind: models.KindTransfer, Status: models.TxStatusCompleted, SenderID: "c", ReceiverID: "d"},
	}
	for _, r := range recs {
		require.NoError(t, s.CreateTransaction(ctx, r))
	}

	t.Run("participant filter newest first", func(t *testing.T) {
		out, err := s.ListTransactions(ctx, TransactionFilter{ParticipantID: "a"})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "t2", out[0].ID)
		assert.Equal(t, "t1", out[1].ID)
	})

	t.Run("kind and status filter", func(t *testing.T) {
		out, err := s.ListTransactions(ctx, TransactionFilter{Kind: models.KindAdminStatePush, Status: models.TxStatusPending})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "t2", out[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		out, err := s.ListTransactions(ctx, TransactionFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "t3", out[0].ID)
	})
}

func TestMemoryStore_Withdrawals(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	req := &models.WithdrawalRequest{ID: "w1", AgentID: "ag", UserID: "u1", Amount: decimal.NewFromInt(20), Status: models.RequestPending}
	require.NoError(t, s.CreateWithdrawal(ctx, req))

	stale := req.Clone()
	req.Status = models.RequestApproved
	require.NoError(t, s.UpdateWithdrawal(ctx, req))

	stale.Status = models.RequestRejected
	assert.ErrorIs(t, s.UpdateWithdrawal(ctx, stale), ErrVersionConflict)

	out, err := s.ListWithdrawals(ctx, WithdrawalFilter{CounterpartyID: "u1", Status: models.RequestApproved})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.RequestApproved, out[0].Status)
}

func TestMemoryStore_CommissionConfig(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetCommissionRule(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTieredCommission(ctx, models.ClassSend)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetStateCommission(ctx, "lagos")
	assert.ErrorIs(t, err, ErrNotFound)

	tiers := &models.TieredCommission{Class: models.ClassWithdraw, Tiers: []models.Tier{
		{MinAmount: decimal.NewFromInt(0), AgentPercent: decimal.NewFromInt(1)},
	}}
	require.NoError(t, s.SaveTieredCommission(ctx, tiers))
	tiers.Tiers[0].AgentPercent = decimal.NewFromInt(50)

	got, err := s.GetTieredCommission(ctx, models.ClassWithdraw)
	require.NoError(t, err)
	assert.True(t, got.Tiers[0].AgentPercent.Equal(decimal.NewFromInt(1)))
}

func TestMemoryStore_Intents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	for _, in := range []*models.Intent{
		{ID: "i1", Operation: "transfer", State: models.IntentPending},
		{ID: "i2", Operation: "transfer", State: models.IntentApplied},
		{ID: "i3", Operation: "transfer", State: models.IntentDone},
	} {
		require.NoError(t, s.CreateIntent(ctx, in))
	}

	open, err := s.ListIntents(ctx, models.IntentPending, models.IntentApplied)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "i1", open[0].ID)
	assert.Equal(t, "i2", open[1].ID)

	all, err := s.ListIntents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	err = s.UpdateIntent(ctx, &models.Intent{ID: "missing"}, models.IntentPending)
	assert.ErrorIs(t, err, ErrNotFound)

	t.Run("state compare and set", func(t *testing.T) {
		claimed := &models.Intent{ID: "i1", Operation: "transfer", State: models.IntentRollingBack}
		require.NoError(t, s.UpdateIntent(ctx, claimed, models.IntentPending))

		late := &models.Intent{ID: "i1", Operation: "transfer", State: models.IntentApplied}
		err := s.UpdateIntent(ctx, late, models.IntentPending)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := s.GetIntent(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, models.IntentRollingBack, got.State)
	})

	_, err = s.GetIntent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
