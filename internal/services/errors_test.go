package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ruralpay/agentledger/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestLedgerError(t *testing.T) {
	err := newError(KindInsufficientBalance, "need %s", "10.00")
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "INSUFFICIENT_BALANCE: need 10.00", err.Error())

	wrapped := fmt.Errorf("transfer: %w", err)
	assert.Equal(t, KindInsufficientBalance, KindOf(wrapped))
	assert.Equal(t, KindOperationFailed, KindOf(errors.New("boom")))
}

func TestNotFoundOr(t *testing.T) {
	err := notFoundOr(fmt.Errorf("account x: %w", store.ErrNotFound), "account not found")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = notFoundOr(errors.New("connection reset"), "account not found")
	assert.True(t, errors.Is(err, ErrOperationFailed))
}

func TestAsLedgerError(t *testing.T) {
	assert.NoError(t, asLedgerError("save", nil))

	typed := newError(KindInvalidInput, "bad")
	assert.Same(t, typed, asLedgerError("save", typed))

	err := asLedgerError("save", errors.New("disk"))
	assert.Equal(t, KindOperationFailed, KindOf(err))
}
