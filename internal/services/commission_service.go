package services

import (
	"context"
	"errors"

	"github.com/ruralpay/agentledger/internal/models"
	"github.com/ruralpay/agentledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CommissionService resolves commission percentages from the tiered tables,
// the flat rule and the per-state inter-admin configuration.
type CommissionService struct {
	store  store.CommissionStore
	logger *zap.Logger
}

func NewCommissionService(st store.CommissionStore, logger *zap.Logger) *CommissionService {
	return &CommissionService{store: st, logger: logger.Named("commission")}
}

// Resolve returns the split for amount in class.
//
// A non-empty tier table wins over the flat rule. Send tiers pick the
// smallest MinAmount that is still >= amount; withdraw tiers pick the
// largest MinAmount <= amount. No qualifying tier means no commission.
func (c *CommissionService) Resolve(ctx context.Context, amount decimal.Decimal, class models.TransactionClass) (models.Split, error) {
	tiers, err := c.store.GetTieredCommission(ctx, class)
	switch {
	case err == nil && len(tiers.Tiers) > 0:
		return selectTier(tiers.Tiers, amount, class), nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return models.Split{}, err
	}

	rule, err := c.store.GetCommissionRule(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return models.Split{}, nil
	}
	if err != nil {
		return models.Split{}, err
	}
	if class == models.ClassSend {
		return models.Split{AgentPercent: rule.SendPercent}, nil
	}
	return models.Split{AgentPercent: rule.WithdrawPercent}, nil
}

// selectTier expects tiers sorted ascending by MinAmount.
func selectTier(tiers []models.Tier, amount decimal.Decimal, class models.TransactionClass) models.Split {
	if class == models.ClassSend {
		for _, t := range tiers {
			if t.MinAmount.GreaterThanOrEqual(amount) {
				return models.Split{CompanyPercent: t.CompanyPercent}
			}
		}
		return models.Split{}
	}

	var chosen *models.Tier
	for i := range tiers {
		if tiers[i].MinAmount.LessThanOrEqual(amount) {
			chosen = &tiers[i]
		}
	}
	if chosen == nil {
		return models.Split{}
	}
	return models.Split{AgentPercent: chosen.AgentPercent, CompanyPercent: chosen.CompanyPercent}
}

// ResolveState returns the inter-admin percent for a state push. An explicit
// override (clamped) wins; then the state's tiers, then its default.
func (c *CommissionService) ResolveState(ctx context.Context, stateID string, amount decimal.Decimal, override *decimal.Decimal) (decimal.Decimal, error) {
	if override != nil {
		return models.ClampPercent(*override), nil
	}
	if stateID == "" {
		return decimal.Zero, nil
	}
	sc, err := c.store.GetStateCommission(ctx, stateID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	percent := sc.DefaultPercent
	for _, t := range sc.Tiers {
		if t.MinAmount.LessThanOrEqual(amount) {
			percent = t.Percent
		}
	}
	return percent, nil
}

func (c *CommissionService) Rule(ctx context.Context) (*models.CommissionRule, error) {
	rule, err := c.store.GetCommissionRule(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &models.CommissionRule{}, nil
	}
	return rule, err
}

func (c *CommissionService) Tiers(ctx context.Context, class models.TransactionClass) (*models.TieredCommission, error) {
	t, err := c.store.GetTieredCommission(ctx, class)
	if errors.Is(err, store.ErrNotFound) {
		return &models.TieredCommission{Class: class, Tiers: []models.Tier{}}, nil
	}
	return t, err
}

func (c *CommissionService) SetRule(ctx context.Context, rule *models.CommissionRule) error {
	rule.Normalize()
	if err := c.store.SaveCommissionRule(ctx, rule); err != nil {
		return err
	}
	c.logger.Info("commission rule updated",
		zap.String("send_percent", rule.SendPercent.String()),
		zap.String("withdraw_percent", rule.WithdrawPercent.String()))
	return nil
}

func (c *CommissionService) SetTiers(ctx context.Context, t *models.TieredCommission) error {
	if !t.Class.Valid() {
		return newError(KindInvalidInput, "unknown transaction class %q", t.Class)
	}
	for _, tier := range t.Tiers {
		if tier.MinAmount.IsNegative() {
			return newError(KindInvalidAmount, "tier minimum cannot be negative")
		}
	}
	t.Normalize()
	if err := c.store.SaveTieredCommission(ctx, t); err != nil {
		return err
	}
	c.logger.Info("tiered commission updated", zap.String("class", string(t.Class)), zap.Int("tiers", len(t.Tiers)))
	return nil
}

func (c *CommissionService) SetStateCommission(ctx context.Context, sc *models.StateCommission) error {
	if sc.StateID == "" {
		return newError(KindInvalidInput, "state id is required")
	}
	sc.Normalize()
	if err := c.store.SaveStateCommission(ctx, sc); err != nil {
		return err
	}
	c.logger.Info("state commission updated", zap.String("state_id", sc.StateID))
	return nil
}
