package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Location represents geographical location data
type Location struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Address   string  `json:"address" db:"address"`
}

// CurrencyInfo records the conversion applied at transfer time.
type CurrencyInfo struct {
	Code string          `json:"code" db:"currency_code"`
	Rate decimal.Decimal `json:"rate" db:"currency_rate"`
}

type TransactionKind string

const (
	KindTransfer          TransactionKind = "transfer"
	KindTopUp             TransactionKind = "topup"
	KindWithdrawal        TransactionKind = "withdrawal"
	KindUserWithdraw      TransactionKind = "user_withdraw"
	KindAgentCashOutMoney TransactionKind = "agent_cash_out_money"
	KindAdminPush         TransactionKind = "admin_push"
	KindAdminStatePush    TransactionKind = "admin_state_push"
	KindMoneyExchange     TransactionKind = "money_exchange"
)

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusFailed    TransactionStatus = "failed"
	TxStatusCancelled TransactionStatus = "cancelled"
)

// DeductionMode says who carries the commission of a transfer.
type DeductionMode string

const (
	// DeductionOnTop: sender pays amount + commission, receiver gets amount.
	DeductionOnTop DeductionMode = "on_top"
	// DeductionFromAmount: sender pays amount, receiver gets amount - commission.
	DeductionFromAmount DeductionMode = "deducted"
)

func (m DeductionMode) Valid() bool {
	return m == DeductionOnTop || m == DeductionFromAmount
}

// SenderDebit returns what the sender pays for amount under this mode.
func (m DeductionMode) SenderDebit(amount, commission decimal.Decimal) decimal.Decimal {
	if m == DeductionOnTop {
		return Round2(amount.Add(commission))
	}
	return Round2(amount)
}

// ReceiverCredit returns what the receiver gets for amount under this mode.
func (m DeductionMode) ReceiverCredit(amount, commission decimal.Decimal) decimal.Decimal {
	if m == DeductionFromAmount {
		return Round2(amount.Sub(commission))
	}
	return Round2(amount)
}

// CommissionAmounts is the commission block shared by transaction records
// and withdrawal requests. Legacy fields hold the combined commission for
// consumers that predate the agent/company split.
type CommissionAmounts struct {
	AgentCommission   decimal.Decimal `json:"agentCommission" db:"agent_commission"`
	AgentPercent      decimal.Decimal `json:"agentCommissionPercent" db:"agent_commission_percent"`
	CompanyCommission decimal.Decimal `json:"companyCommission" db:"company_commission"`
	CompanyPercent    decimal.Decimal `json:"companyCommissionPercent" db:"company_commission_percent"`
	LegacyCommission  decimal.Decimal `json:"commission" db:"commission"`
	LegacyPercent     decimal.Decimal `json:"commissionPercent" db:"commission_percent"`
}

// NewCommissionAmounts computes the commission block for amount under split.
func NewCommissionAmounts(amount decimal.Decimal, split Split) CommissionAmounts {
	c := CommissionAmounts{
		AgentCommission:   Commission(amount, split.AgentPercent),
		AgentPercent:      split.AgentPercent,
		CompanyCommission: Commission(amount, split.CompanyPercent),
		CompanyPercent:    split.CompanyPercent,
	}
	c.LegacyCommission = Round2(c.AgentCommission.Add(c.CompanyCommission))
	c.LegacyPercent = split.AgentPercent.Add(split.CompanyPercent)
	return c
}

func (c CommissionAmounts) Total() decimal.Decimal {
	return Round2(c.AgentCommission.Add(c.CompanyCommission))
}

func (c CommissionAmounts) Negative() bool {
	return c.AgentCommission.IsNegative() || c.CompanyCommission.IsNegative() || c.LegacyCommission.IsNegative()
}

// TransactionRecord is the immutable-once-completed record of one money movement.
type TransactionRecord struct {
	ID                   string              `json:"id" db:"id"`
	Kind                 TransactionKind     `json:"type" db:"kind"`
	Status               TransactionStatus   `json:"status" db:"status"`
	SenderID             string              `json:"senderId" db:"sender_id"`
	ReceiverID           string              `json:"receiverId,omitempty" db:"receiver_id"`
	Amount               decimal.Decimal     `json:"amount" db:"amount"`
	SenderDebit          decimal.Decimal     `json:"senderDebit" db:"sender_debit"`
	ReceiverCredit       decimal.Decimal     `json:"receiverCredit" db:"receiver_credit"`
	DeductionMode        DeductionMode       `json:"deductionMode" db:"deduction_mode"`
	Commission           CommissionAmounts   `json:"commission"`
	SenderBalanceAfter   decimal.Decimal     `json:"senderBalanceAfter" db:"sender_balance_after"`
	ReceiverBalanceAfter decimal.NullDecimal `json:"receiverBalanceAfter" db:"receiver_balance_after"`
	Location             *Location           `json:"location,omitempty" db:"location"`
	Currency             *CurrencyInfo       `json:"currency,omitempty"`
	WithdrawalRequestID  string              `json:"withdrawalRequestId,omitempty" db:"withdrawal_request_id"`
	Metadata             Metadata            `json:"metadata,omitempty" db:"metadata"`
	Version              int64               `json:"version" db:"version"`
	CreatedAt            time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time           `json:"updatedAt" db:"updated_at"`
	CompletedAt          *time.Time          `json:"completedAt,omitempty" db:"completed_at"`
	CancelledAt          *time.Time          `json:"cancelledAt,omitempty" db:"cancelled_at"`
}

var ErrInvalidRecord = errors.New("invalid transaction record")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

// Validate enforces the invariants of the record's kind.
func (t *TransactionRecord) Validate() error {
	if t.ID == "" {
		return invalid("id is required")
	}
	if t.SenderID == "" {
		return invalid("sender is required")
	}
	if !t.Amount.IsPositive() {
		return invalid("amount must be positive")
	}
	if !t.DeductionMode.Valid() {
		return invalid("unknown deduction mode %q", t.DeductionMode)
	}
	if t.Commission.Negative() {
		return invalid("commission cannot be negative")
	}
	if t.ReceiverCredit.IsNegative() || t.SenderDebit.IsNegative() {
		return invalid("debit and credit cannot be negative")
	}

	switch t.Kind {
	case KindAdminStatePush:
		switch t.Status {
		case TxStatusPending, TxStatusCompleted, TxStatusCancelled, TxStatusFailed:
		default:
			return invalid("status %q not allowed for %s", t.Status, t.Kind)
		}
	case KindTransfer, KindTopUp, KindWithdrawal, KindUserWithdraw,
		KindAgentCashOutMoney, KindAdminPush, KindMoneyExchange:
		if t.Status != TxStatusCompleted && t.Status != TxStatusFailed {
			return invalid("status %q not allowed for %s", t.Status, t.Kind)
		}
	default:
		return invalid("unknown kind %q", t.Kind)
	}

	if t.ReceiverID == "" && t.Kind != KindMoneyExchange {
		return invalid("receiver is required for %s", t.Kind)
	}
	if t.ReceiverID != "" && t.ReceiverID == t.SenderID {
		return invalid("sender and receiver must differ")
	}

	switch t.Kind {
	case KindAdminPush:
		if !t.Commission.Total().IsZero() {
			return invalid("admin push carries no commission")
		}
	case KindMoneyExchange:
		if t.Currency == nil || t.Currency.Code == "" || !t.Currency.Rate.IsPositive() {
			return invalid("money exchange requires a currency and a positive rate")
		}
	case KindWithdrawal, KindAgentCashOutMoney:
		if t.DeductionMode != DeductionOnTop {
			return invalid("%s always charges commission on top", t.Kind)
		}
	}
	return nil
}

// IsPending reports whether the record still awaits settlement.
func (t *TransactionRecord) IsPending() bool { return t.Status == TxStatusPending }

func (t *TransactionRecord) Clone() *TransactionRecord {
	c := *t
	if t.Location != nil {
		l := *t.Location
		c.Location = &l
	}
	if t.Currency != nil {
		cur := *t.Currency
		c.Currency = &cur
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.CancelledAt != nil {
		at := *t.CancelledAt
		c.CancelledAt = &at
	}
	if t.Metadata != nil {
		c.Metadata = make(Metadata, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
