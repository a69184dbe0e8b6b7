// Package notify delivers ledger events to people and to connected clients.
// Nothing here is allowed to affect a committed ledger operation; callers log
// and drop delivery errors.
package notify

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Notifier interface {
	NotifyUser(ctx context.Context, accountID, title, message, relatedRecordID string) error
}

type TextSender interface {
	SendText(ctx context.Context, phone, message string) error
}

type Broadcaster interface {
	BroadcastBalanceChanged(ctx context.Context, accountID string, newBalance decimal.Decimal) error
	BroadcastRequestChanged(ctx context.Context, recordID, status string) error
}

// LogSink implements every collaborator by writing a log line. It stands in
// for channels that are not configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) NotifyUser(ctx context.Context, accountID, title, message, relatedRecordID string) error {
	s.logger.Info("user notification",
		zap.String("account_id", accountID),
		zap.String("title", title),
		zap.String("message", message),
		zap.String("record_id", relatedRecordID))
	return nil
}

func (s *LogSink) SendText(ctx context.Context, phone, message string) error {
	s.logger.Info("text message", zap.String("phone", maskPhone(phone)), zap.String("message", message))
	return nil
}

func (s *LogSink) BroadcastBalanceChanged(ctx context.Context, accountID string, newBalance decimal.Decimal) error {
	s.logger.Debug("balance changed", zap.String("account_id", accountID), zap.String("balance", newBalance.StringFixed(2)))
	return nil
}

func (s *LogSink) BroadcastRequestChanged(ctx context.Context, recordID, status string) error {
	s.logger.Debug("request changed", zap.String("record_id", recordID), zap.String("status", status))
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
