package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentState string

const (
	IntentPending IntentState = "pending"
	IntentApplied IntentState = "applied"
	IntentDone    IntentState = "done"
	// IntentRollingBack marks an intent claimed for rollback. Once claimed it
	// can no longer become applied.
	IntentRollingBack IntentState = "rolling_back"
	IntentRolledBack  IntentState = "rolled_back"
)

type IntentStep struct {
	AccountID string          `json:"accountId"`
	Delta     decimal.Decimal `json:"delta"`
}

// Intent is one entry of the compensating-action log. It carries everything
// needed to either finish or undo a multi-entity operation after a crash.
type Intent struct {
	ID                string             `json:"id" db:"id"`
	Operation         string             `json:"operation" db:"operation"`
	State             IntentState        `json:"state" db:"state"`
	Steps             []IntentStep       `json:"steps" db:"steps"`
	TransactionBefore *TransactionRecord `json:"transactionBefore,omitempty"`
	TransactionAfter  *TransactionRecord `json:"transactionAfter,omitempty"`
	RequestBefore     *WithdrawalRequest `json:"requestBefore,omitempty"`
	RequestAfter      *WithdrawalRequest `json:"requestAfter,omitempty"`
	Error             string             `json:"error,omitempty" db:"error"`
	CreatedAt         time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time          `json:"updatedAt" db:"updated_at"`
}

// AccountIDs lists the accounts touched by the intent.
func (i *Intent) AccountIDs() []string {
	ids := make([]string, 0, len(i.Steps))
	for _, s := range i.Steps {
		ids = append(ids, s.AccountID)
	}
	return ids
}
