package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// Account is the unit of mutation. Balances of users and agents never go
// below zero; admins have unlimited send rights.
type Account struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	Phone            string          `json:"phone,omitempty" db:"phone"`
	Role             Role            `json:"role" db:"role"`
	Balance          decimal.Decimal `json:"balance" db:"balance"`
	AutoAdminCashout bool            `json:"autoAdminCashout" db:"auto_admin_cashout"`
	StateID          string          `json:"stateId,omitempty" db:"state_id"`
	Version          int64           `json:"version" db:"version"` // for optimistic locking
	PendingOps       []string        `json:"-" db:"pending_ops"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time       `json:"updatedAt" db:"updated_at"`
}

func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin }

// HasPendingOp reports whether the journal intent opID has been applied to
// this account but not yet finalised.
func (a *Account) HasPendingOp(opID string) bool {
	for _, id := range a.PendingOps {
		if id == opID {
			return true
		}
	}
	return false
}

func (a *Account) RemovePendingOp(opID string) {
	kept := a.PendingOps[:0]
	for _, id := range a.PendingOps {
		if id != opID {
			kept = append(kept, id)
		}
	}
	a.PendingOps = kept
}

func (a *Account) Clone() *Account {
	c := *a
	c.PendingOps = append([]string(nil), a.PendingOps...)
	return &c
}
