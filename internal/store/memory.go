package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/agentledger/internal/models"
)

// MemoryStore keeps everything in process. It is used in tests and in
// single-node development (LEDGER_STORE=memory).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	transactions map[string]*models.TransactionRecord
	withdrawals  map[string]*models.WithdrawalRequest
	rule         *models.CommissionRule
	tiers        map[models.TransactionClass]*models.TieredCommission
	states       map[string]*models.StateCommission
	intents      map[string]*models.Intent
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*models.Account),
		transactions: make(map[string]*models.TransactionRecord),
		withdrawals:  make(map[string]*models.WithdrawalRequest),
		tiers:        make(map[models.TransactionClass]*models.TieredCommission),
		states:       make(map[string]*models.StateCommission),
		intents:      make(map[string]*models.Intent),
		now:          time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateAccount(ctx context.Context, acc *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("account %s: %w", acc.ID, ErrAlreadyExists)
	}
	now := s.now()
	acc.CreatedAt, acc.UpdatedAt = now, now
	acc.Version = 1
	s.accounts[acc.ID] = acc.Clone()
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return acc.Clone(), nil
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, acc *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[acc.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", acc.ID, ErrNotFound)
	}
	if cur.Version != acc.Version {
		return fmt.Errorf("account %s: %w", acc.ID, ErrVersionConflict)
	}
	acc.Version++
	acc.UpdatedAt = s.now()
	s.accounts[acc.ID] = acc.Clone()
	return nil
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[rec.ID]; ok {
		return fmt.Errorf("transaction %s: %w", rec.ID, ErrAlreadyExists)
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version = 1
	s.transactions[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.transactions[rec.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", rec.ID, ErrNotFound)
	}
	if cur.Version != rec.Version {
		return fmt.Errorf("transaction %s: %w", rec.ID, ErrVersionConflict)
	}
	rec.Version++
	rec.UpdatedAt = s.now()
	s.transactions[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*models.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.TransactionRecord{}
	for _, rec := range s.transactions {
		if f.ParticipantID != "" && rec.SenderID != f.ParticipantID && rec.ReceiverID != f.ParticipantID {
			continue
		}
		if f.SenderID != "" && rec.SenderID != f.SenderID {
			continue
		}
		if f.ReceiverID != "" && rec.ReceiverID != f.ReceiverID {
			continue
		}
		if f.Kind != "" && rec.Kind != f.Kind {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := limitOrDefault(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.withdrawals[req.ID]; ok {
		return fmt.Errorf("withdrawal %s: %w", req.ID, ErrAlreadyExists)
	}
	now := s.now()
	req.CreatedAt, req.UpdatedAt = now, now
	req.Version = 1
	s.withdrawals[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, ErrNotFound)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) UpdateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.withdrawals[req.ID]
	if !ok {
		return fmt.Errorf("withdrawal %s: %w", req.ID, ErrNotFound)
	}
	if cur.Version != req.Version {
		return fmt.Errorf("withdrawal %s: %w", req.ID, ErrVersionConflict)
	}
	req.Version++
	req.UpdatedAt = s.now()
	s.withdrawals[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]*models.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.WithdrawalRequest{}
	for _, req := range s.withdrawals {
		if f.CounterpartyID != "" && req.UserID != f.CounterpartyID {
			continue
		}
		if f.RequesterID != "" && req.AgentID != f.RequesterID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := limitOrDefault(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetCommissionRule(ctx context.Context) (*models.CommissionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rule == nil {
		return nil, fmt.Errorf("commission rule: %w", ErrNotFound)
	}
	r := *s.rule
	return &r, nil
}

func (s *MemoryStore) SaveCommissionRule(ctx context.Context, rule *models.CommissionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule.UpdatedAt = s.now()
	r := *rule
	s.rule = &r
	return nil
}

func (s *MemoryStore) GetTieredCommission(ctx context.Context, class models.TransactionClass) (*models.TieredCommission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tiers[class]
	if !ok {
		return nil, fmt.Errorf("tiered commission %s: %w", class, ErrNotFound)
	}
	c := *t
	c.Tiers = append([]models.Tier(nil), t.Tiers...)
	return &c, nil
}

func (s *MemoryStore) SaveTieredCommission(ctx context.Context, t *models.TieredCommission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.UpdatedAt = s.now()
	c := *t
	c.Tiers = append([]models.Tier(nil), t.Tiers...)
	s.tiers[t.Class] = &c
	return nil
}

func (s *MemoryStore) GetStateCommission(ctx context.Context, stateID string) (*models.StateCommission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.states[stateID]
	if !ok {
		return nil, fmt.Errorf("state commission %s: %w", stateID, ErrNotFound)
	}
	c := *sc
	c.Tiers = append([]models.StateTier(nil), sc.Tiers...)
	return &c, nil
}

func (s *MemoryStore) SaveStateCommission(ctx context.Context, sc *models.StateCommission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc.UpdatedAt = s.now()
	c := *sc
	c.Tiers = append([]models.StateTier(nil), sc.Tiers...)
	s.states[sc.StateID] = &c
	return nil
}

func cloneIntent(in *models.Intent) *models.Intent {
	c := *in
	c.Steps = append([]models.IntentStep(nil), in.Steps...)
	if in.TransactionBefore != nil {
		c.TransactionBefore = in.TransactionBefore.Clone()
	}
	if in.TransactionAfter != nil {
		c.TransactionAfter = in.TransactionAfter.Clone()
	}
	if in.RequestBefore != nil {
		c.RequestBefore = in.RequestBefore.Clone()
	}
	if in.RequestAfter != nil {
		c.RequestAfter = in.RequestAfter.Clone()
	}
	return &c
}

func (s *MemoryStore) CreateIntent(ctx context.Context, in *models.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[in.ID]; ok {
		return fmt.Errorf("intent %s: %w", in.ID, ErrAlreadyExists)
	}
	now := s.now()
	in.CreatedAt, in.UpdatedAt = now, now
	s.intents[in.ID] = cloneIntent(in)
	return nil
}

func (s *MemoryStore) GetIntent(ctx context.Context, id string) (*models.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.intents[id]
	if !ok {
		return nil, fmt.Errorf("intent %s: %w", id, ErrNotFound)
	}
	return cloneIntent(in), nil
}

func (s *MemoryStore) UpdateIntent(ctx context.Context, in *models.Intent, from models.IntentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.intents[in.ID]
	if !ok {
		return fmt.Errorf("intent %s: %w", in.ID, ErrNotFound)
	}
	if cur.State != from {
		return fmt.Errorf("intent %s is %s, not %s: %w", in.ID, cur.State, from, ErrVersionConflict)
	}
	in.UpdatedAt = s.now()
	s.intents[in.ID] = cloneIntent(in)
	return nil
}

func (s *MemoryStore) ListIntents(ctx context.Context, states ...models.IntentState) ([]*models.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[models.IntentState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	out := []*models.Intent{}
	for _, in := range s.intents {
		if len(want) > 0 && !want[in.State] {
			continue
		}
		out = append(out, cloneIntent(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
