package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T) (*RedisLocker, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, 5*time.Second, time.Millisecond, nil)
	l.newToken = func() string { return "tok-1" }
	return l, mock
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	l, mock := newTestRedisLocker(t)

	mock.ExpectSetNX(keyPrefix+"account:a", "tok-1", 5*time.Second).SetVal(true)
	mock.ExpectSetNX(keyPrefix+"txn:1", "tok-1", 5*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{keyPrefix + "txn:1"}, "tok-1").SetVal(int64(1))
	mock.ExpectEval(releaseScript, []string{keyPrefix + "account:a"}, "tok-1").SetVal(int64(1))

	unlock, err := l.Lock(context.Background(), TransactionKey("1"), AccountKey("a"))
	require.NoError(t, err)
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RetriesWhileHeld(t *testing.T) {
	l, mock := newTestRedisLocker(t)

	mock.ExpectSetNX(keyPrefix+"account:a", "tok-1", 5*time.Second).SetVal(false)
	mock.ExpectSetNX(keyPrefix+"account:a", "tok-1", 5*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{keyPrefix + "account:a"}, "tok-1").SetVal(int64(1))

	unlock, err := l.Lock(context.Background(), AccountKey("a"))
	require.NoError(t, err)
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_ReleasesOnFailure(t *testing.T) {
	l, mock := newTestRedisLocker(t)

	mock.ExpectSetNX(keyPrefix+"account:a", "tok-1", 5*time.Second).SetVal(true)
	mock.ExpectSetNX(keyPrefix+"account:b", "tok-1", 5*time.Second).SetErr(errors.New("connection refused"))
	mock.ExpectEval(releaseScript, []string{keyPrefix + "account:a"}, "tok-1").SetVal(int64(1))

	_, err := l.Lock(context.Background(), AccountKey("b"), AccountKey("a"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}
