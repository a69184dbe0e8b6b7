package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionClass string

const (
	ClassSend     TransactionClass = "send"
	ClassWithdraw TransactionClass = "withdraw"
)

func (c TransactionClass) Valid() bool { return c == ClassSend || c == ClassWithdraw }

// Split is a resolved pair of commission percentages.
type Split struct {
	AgentPercent   decimal.Decimal `json:"agentPercent"`
	CompanyPercent decimal.Decimal `json:"companyPercent"`
}

// CommissionRule is the flat fallback rule.
type CommissionRule struct {
	SendPercent     decimal.Decimal `json:"sendPercent" db:"send_percent"`
	WithdrawPercent decimal.Decimal `json:"withdrawPercent" db:"withdraw_percent"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

func (r *CommissionRule) Normalize() {
	r.SendPercent = ClampPercent(r.SendPercent)
	r.WithdrawPercent = ClampPercent(r.WithdrawPercent)
}

// Tier is one bracket of a tiered table. Send tiers only use CompanyPercent.
type Tier struct {
	MinAmount      decimal.Decimal `json:"minAmount"`
	AgentPercent   decimal.Decimal `json:"agentPercent"`
	CompanyPercent decimal.Decimal `json:"companyPercent"`
}

// TieredCommission is the single active tier table for a transaction class.
type TieredCommission struct {
	Class     TransactionClass `json:"class" db:"class"`
	Tiers     []Tier           `json:"tiers" db:"tiers"`
	UpdatedAt time.Time        `json:"updatedAt" db:"updated_at"`
}

// Normalize clamps every percentage and sorts tiers by MinAmount ascending.
func (t *TieredCommission) Normalize() {
	for i := range t.Tiers {
		t.Tiers[i].MinAmount = Round2(t.Tiers[i].MinAmount)
		t.Tiers[i].AgentPercent = ClampPercent(t.Tiers[i].AgentPercent)
		t.Tiers[i].CompanyPercent = ClampPercent(t.Tiers[i].CompanyPercent)
		if t.Class == ClassSend {
			t.Tiers[i].AgentPercent = decimal.Zero
		}
	}
	sort.SliceStable(t.Tiers, func(i, j int) bool {
		return t.Tiers[i].MinAmount.LessThan(t.Tiers[j].MinAmount)
	})
}

type StateTier struct {
	MinAmount decimal.Decimal `json:"minAmount"`
	Percent   decimal.Decimal `json:"percent"`
}

// StateCommission holds the inter-admin commission for one admin state.
type StateCommission struct {
	StateID        string          `json:"stateId" db:"state_id"`
	DefaultPercent decimal.Decimal `json:"defaultPercent" db:"default_percent"`
	Tiers          []StateTier     `json:"tiers" db:"tiers"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

func (s *StateCommission) Normalize() {
	s.DefaultPercent = ClampPercent(s.DefaultPercent)
	for i := range s.Tiers {
		s.Tiers[i].MinAmount = Round2(s.Tiers[i].MinAmount)
		s.Tiers[i].Percent = ClampPercent(s.Tiers[i].Percent)
	}
	sort.SliceStable(s.Tiers, func(i, j int) bool {
		return s.Tiers[i].MinAmount.LessThan(s.Tiers[j].MinAmount)
	})
}
