package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	inboxKeyPrefix     = "notifications:"
	notificationsTopic = "agentledger:notifications"
	balanceTopic       = "agentledger:balances"
	requestTopic       = "agentledger:requests"
	inboxLimit         = 200
)

// Notification is the inbox entry stored for an account.
type Notification struct {
	AccountID       string    `json:"accountId"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	RelatedRecordID string    `json:"relatedRecordId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// RedisNotifier appends to a per-account inbox list and publishes the entry
// for live clients.
type RedisNotifier struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisNotifier(client redis.Cmdable) *RedisNotifier {
	return &RedisNotifier{client: client, now: time.Now}
}

func (n *RedisNotifier) NotifyUser(ctx context.Context, accountID, title, message, relatedRecordID string) error {
	data, err := json.Marshal(Notification{
		AccountID:       accountID,
		Title:           title,
		Message:         message,
		RelatedRecordID: relatedRecordID,
		CreatedAt:       n.now().UTC(),
	})
	if err != nil {
		return err
	}

	key := inboxKeyPrefix + accountID
	if err := n.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	if err := n.client.LTrim(ctx, key, -inboxLimit, -1).Err(); err != nil {
		return fmt.Errorf("failed to trim inbox: %w", err)
	}
	return n.client.Publish(ctx, notificationsTopic, data).Err()
}

// RedisBroadcaster publishes state changes on pub/sub channels.
type RedisBroadcaster struct {
	client redis.Cmdable
}

func NewRedisBroadcaster(client redis.Cmdable) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

type balanceEvent struct {
	AccountID string          `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
}

type requestEvent struct {
	RecordID string `json:"recordId"`
	Status   string `json:"status"`
}

func (b *RedisBroadcaster) BroadcastBalanceChanged(ctx context.Context, accountID string, newBalance decimal.Decimal) error {
	data, err := json.Marshal(balanceEvent{AccountID: accountID, Balance: newBalance})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, balanceTopic, data).Err()
}

func (b *RedisBroadcaster) BroadcastRequestChanged(ctx context.Context, recordID, status string) error {
	data, err := json.Marshal(requestEvent{RecordID: recordID, Status: status})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, requestTopic, data).Err()
}
