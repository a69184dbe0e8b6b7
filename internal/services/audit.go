package services

import (
	"github.com/ruralpay/agentledger/internal/models"
	"go.uber.org/zap"
)

// AuditLogger writes one structured line per committed ledger event.
type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogTransaction(operation string, rec *models.TransactionRecord) {
	a.logger.Info("ledger event",
		zap.String("event_type", operation),
		zap.String("transaction_id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.String("status", string(rec.Status)),
		zap.String("sender_id", rec.SenderID),
		zap.String("receiver_id", rec.ReceiverID),
		zap.String("amount", rec.Amount.StringFixed(2)),
		zap.String("sender_debit", rec.SenderDebit.StringFixed(2)),
		zap.String("receiver_credit", rec.ReceiverCredit.StringFixed(2)),
		zap.String("agent_commission", rec.Commission.AgentCommission.StringFixed(2)),
		zap.String("company_commission", rec.Commission.CompanyCommission.StringFixed(2)),
	)
}

func (a *AuditLogger) LogRequest(operation string, req *models.WithdrawalRequest) {
	a.logger.Info("withdrawal request event",
		zap.String("event_type", operation),
		zap.String("request_id", req.ID),
		zap.String("account_id", req.AgentID),
		zap.String("counterparty_id", req.UserID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("status", string(req.Status)),
		zap.String("transaction_id", req.TransactionID),
	)
}

func (a *AuditLogger) LogFailure(operation, accountID string, err error) {
	a.logger.Warn("ledger operation failed",
		zap.String("event_type", operation),
		zap.String("account_id", accountID),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	)
}
