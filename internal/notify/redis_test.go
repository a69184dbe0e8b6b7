package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifier_NotifyUser(t *testing.T) {
	db, mock := redismock.NewClientMock()
	n := NewRedisNotifier(db)
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	n.now = func() time.Time { return at }

	payload, err := json.Marshal(Notification{
		AccountID:       "u1",
		Title:           "Money received",
		Message:         "You received 100.00",
		RelatedRecordID: "tx-1",
		CreatedAt:       at,
	})
	require.NoError(t, err)

	t.Run("queues and publishes", func(t *testing.T) {
		mock.ExpectRPush("notifications:u1", payload).SetVal(1)
		mock.ExpectLTrim("notifications:u1", -inboxLimit, -1).SetVal("OK")
		mock.ExpectPublish(notificationsTopic, payload).SetVal(1)

		err := n.NotifyUser(context.Background(), "u1", "Money received", "You received 100.00", "tx-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis failure is returned", func(t *testing.T) {
		mock.ExpectRPush("notifications:u1", payload).SetErr(errors.New("redis down"))

		err := n.NotifyUser(context.Background(), "u1", "Money received", "You received 100.00", "tx-1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis down")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisBroadcaster(t *testing.T) {
	db, mock := redismock.NewClientMock()
	b := NewRedisBroadcaster(db)

	balance, err := json.Marshal(balanceEvent{AccountID: "ag-1", Balance: decimal.RequireFromString("12.34")})
	require.NoError(t, err)
	request, err := json.Marshal(requestEvent{RecordID: "wr-1", Status: "approved"})
	require.NoError(t, err)

	mock.ExpectPublish(balanceTopic, balance).SetVal(0)
	mock.ExpectPublish(requestTopic, request).SetVal(0)

	assert.NoError(t, b.BroadcastBalanceChanged(context.Background(), "ag-1", decimal.RequireFromString("12.34")))
	assert.NoError(t, b.BroadcastRequestChanged(context.Background(), "wr-1", "approved"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
