package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	// RequestCancelled is reserved; no transition reaches it.
	RequestCancelled RequestStatus = "cancelled"
)

// WithdrawalRequest is a cash-out proposal awaiting counterparty approval.
// AgentID is the requester (agent or admin); UserID is the approving
// counterparty (user or agent). Balances move only on approval.
type WithdrawalRequest struct {
	ID              string            `json:"id" db:"id"`
	AgentID         string            `json:"agentId" db:"agent_id"`
	UserID          string            `json:"userId" db:"user_id"`
	Amount          decimal.Decimal   `json:"amount" db:"amount"`
	Commission      CommissionAmounts `json:"commission"`
	Status          RequestStatus     `json:"status" db:"status"`
	RejectionReason string            `json:"rejectionReason,omitempty" db:"rejection_reason"`
	TransactionID   string            `json:"transactionId,omitempty" db:"transaction_id"`
	Version         int64             `json:"version" db:"version"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time         `json:"updatedAt" db:"updated_at"`
	ApprovedAt      *time.Time        `json:"approvedAt,omitempty" db:"approved_at"`
	RejectedAt      *time.Time        `json:"rejectedAt,omitempty" db:"rejected_at"`
}

// PayerDebit is what the approving party pays on approval.
func (r *WithdrawalRequest) PayerDebit() decimal.Decimal {
	return Round2(r.Amount.Add(r.Commission.AgentCommission).Add(r.Commission.CompanyCommission))
}

// RequesterCredit is what the requester receives on approval.
func (r *WithdrawalRequest) RequesterCredit() decimal.Decimal {
	return Round2(r.Amount.Add(r.Commission.AgentCommission))
}

func (r *WithdrawalRequest) IsPending() bool { return r.Status == RequestPending }

func (r *WithdrawalRequest) Clone() *WithdrawalRequest {
	c := *r
	if r.ApprovedAt != nil {
		at := *r.ApprovedAt
		c.ApprovedAt = &at
	}
	if r.RejectedAt != nil {
		at := *r.RejectedAt
		c.RejectedAt = &at
	}
	return &c
}
