package commissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/internal/compliance"
	"github.com/mercato/mercato-backend/internal/ledger"
	"github.com/mercato/mercato-backend/pkg/db"
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/money"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

// RuleInput is the admin-editable part of a commission rule.
type RuleInput struct {
	Name          string
	Scope         enums.CommissionScope
	StoreID       *uuid.UUID
	CategoryID    *uuid.UUID
	RateBps       int
	FixedCents    int64
	MinCents      *int64
	MaxCents      *int64
	Priority      int
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// ChargeInput identifies the sub-order being charged at capture.
type ChargeInput struct {
	SubOrder  *models.SellerSubOrder
	Currency  string
	BaseCents int64
}

// ReverseInput describes a refund that gives back part of the commission.
type ReverseInput struct {
	SubOrderID    uuid.UUID
	StoreID       uuid.UUID
	OrderID       uuid.UUID
	RefundID      uuid.UUID
	Currency      string
	RefundedCents int64
	FundedCents   int64
}

// Charger is the narrow surface payments depend on.
type Charger interface {
	Charge(ctx context.Context, tx *gorm.DB, input ChargeInput) (*models.CommissionTransaction, error)
	Reverse(ctx context.Context, tx *gorm.DB, input ReverseInput) (*models.CommissionTransaction, error)
}

type Service interface {
	Charger
	CreateRule(ctx context.Context, actor *outbox.ActorRef, input RuleInput) (*models.CommissionRule, error)
	UpdateRule(ctx context.Context, actor *outbox.ActorRef, id uuid.UUID, input RuleInput) (*models.CommissionRule, error)
	DeactivateRule(ctx context.Context, actor *outbox.ActorRef, id uuid.UUID) error
	GetRule(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error)
	ListRules(ctx context.Context, includeInactive bool) ([]models.CommissionRule, error)
	Resolve(ctx context.Context, storeID uuid.UUID, categoryID *uuid.UUID, at time.Time) (*models.CommissionRule, error)
	ListForSubOrder(ctx context.Context, subOrderID uuid.UUID) ([]models.CommissionTransaction, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo       Repository
	tx         txRunner
	ledger     ledger.Service
	compliance compliance.Recorder
	defaultBps int
	now        func() time.Time
}

func NewService(repo Repository, tx txRunner, ledgerSvc ledger.Service, recorder compliance.Recorder, defaultBps int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commissions repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("compliance recorder required")
	}
	if defaultBps < 0 || defaultBps > 10000 {
		return nil, fmt.Errorf("default commission bps out of range")
	}
	return &service{
		repo:       repo,
		tx:         tx,
		ledger:     ledgerSvc,
		compliance: recorder,
		defaultBps: defaultBps,
		now:        time.Now,
	}, nil
}

func validateRule(input RuleInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "rule name required")
	}
	switch input.Scope {
	case enums.CommissionScopeGlobal:
	case enums.CommissionScopeStore:
		if input.StoreID == nil || *input.StoreID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "store rules need a store_id")
		}
	case enums.CommissionScopeCategory:
		if input.CategoryID == nil || *input.CategoryID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "category rules need a category_id")
		}
	default:
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown scope %q", input.Scope)
	}
	if input.RateBps < 0 || input.RateBps > 10000 {
		return pkgerrors.New(pkgerrors.CodeValidation, "rate_bps must be between 0 and 10000")
	}
	if input.FixedCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "fixed_cents must not be negative")
	}
	if input.MinCents != nil && input.MaxCents != nil && *input.MinCents > *input.MaxCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "min_cents exceeds max_cents")
	}
	if input.EffectiveFrom.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "effective_from required")
	}
	if input.EffectiveTo != nil && !input.EffectiveTo.After(input.EffectiveFrom) {
		return pkgerrors.New(pkgerrors.CodeValidation, "effective_to must be after effective_from")
	}
	return nil
}

func applyRuleInput(rule *models.CommissionRule, input RuleInput) {
	rule.Name = strings.TrimSpace(input.Name)
	rule.Scope = input.Scope
	rule.StoreID = nil
	rule.CategoryID = nil
	switch input.Scope {
	case enums.CommissionScopeStore:
		rule.StoreID = input.StoreID
	case enums.CommissionScopeCategory:
		rule.CategoryID = input.CategoryID
	}
	rule.RateBps = input.RateBps
	rule.FixedCents = input.FixedCents
	rule.MinCents = input.MinCents
	rule.MaxCents = input.MaxCents
	rule.Priority = input.Priority
	rule.EffectiveFrom = input.EffectiveFrom.UTC()
	rule.EffectiveTo = input.EffectiveTo
}

func (s *service) CreateRule(ctx context.Context, actor *outbox.ActorRef, input RuleInput) (*models.CommissionRule, error) {
	if err := validateRule(input); err != nil {
		return nil, err
	}
	rule := &models.CommissionRule{Active: true}
	applyRuleInput(rule, input)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateRule(ctx, rule); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create commission rule")
		}
		_, err := s.compliance.Record(ctx, tx, compliance.Entry{
			Actor:      actor,
			Action:     "commission_rule.created",
			EntityType: enums.ComplianceEntityCommissionRule,
			EntityID:   rule.ID,
			After:      rule,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, actor *outbox.ActorRef, id uuid.UUID, input RuleInput) (*models.CommissionRule, error) {
	if err := validateRule(input); err != nil {
		return nil, err
	}
	var updated *models.CommissionRule
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rule, err := s.loadRule(ctx, repo, id)
		if err != nil {
			return err
		}
		before := *rule
		applyRuleInput(rule, input)
		if err := repo.SaveRule(ctx, rule); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update commission rule")
		}
		if _, err := s.compliance.Record(ctx, tx, compliance.Entry{
			Actor:      actor,
			Action:     "commission_rule.updated",
			EntityType: enums.ComplianceEntityCommissionRule,
			EntityID:   rule.ID,
			Before:     before,
			After:      rule,
		}); err != nil {
			return err
		}
		updated = rule
		return nil
	})
	return updated, err
}

func (s *service) DeactivateRule(ctx context.Context, actor *outbox.ActorRef, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rule, err := s.loadRule(ctx, repo, id)
		if err != nil {
			return err
		}
		if !rule.Active {
			return nil
		}
		rule.Active = false
		if err := repo.SaveRule(ctx, rule); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate commission rule")
		}
		_, err = s.compliance.Record(ctx, tx, compliance.Entry{
			Actor:      actor,
			Action:     "commission_rule.deactivated",
			EntityType: enums.ComplianceEntityCommissionRule,
			EntityID:   rule.ID,
			Before:     map[string]any{"active": true},
			After:      map[string]any{"active": false},
		})
		return err
	})
}

func (s *service) GetRule(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error) {
	return s.loadRule(ctx, s.repo, id)
}

func (s *service) loadRule(ctx context.Context, repo Repository, id uuid.UUID) (*models.CommissionRule, error) {
	rule, err := repo.FindRule(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission rule not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rule")
	}
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, includeInactive bool) ([]models.CommissionRule, error) {
	rules, err := s.repo.ListRules(ctx, includeInactive)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list commission rules")
	}
	return rules, nil
}

// Resolve returns the rule that applies, or nil when the default rate applies.
func (s *service) Resolve(ctx context.Context, storeID uuid.UUID, categoryID *uuid.UUID, at time.Time) (*models.CommissionRule, error) {
	at = at.UTC()
	var categories []uuid.UUID
	if categoryID != nil {
		categories = append(categories, *categoryID)
	}
	rules, err := s.repo.CandidateRules(ctx, storeID, categories, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rules")
	}
	return pickRule(rules, storeID, categoryID, at), nil
}

func (s *service) ListForSubOrder(ctx context.Context, subOrderID uuid.UUID) ([]models.CommissionTransaction, error) {
	txns, err := s.repo.ListBySubOrder(ctx, subOrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list commission transactions")
	}
	return txns, nil
}

type ruleGroup struct {
	rule *models.CommissionRule
	base int64
}

// Charge records the commission owed on a captured sub-order. Items are
// grouped by the rule that applies to their category and each group is
// computed separately. A sub-order is charged at most once.
func (s *service) Charge(ctx context.Context, tx *gorm.DB, input ChargeInput) (*models.CommissionTransaction, error) {
	sub := input.SubOrder
	if sub == nil {
		return nil, fmt.Errorf("sub-order required")
	}
	repo := s.repo.WithTx(tx)
	existing, err := repo.ListBySubOrder(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission transactions")
	}
	for i := range existing {
		if existing[i].Kind == enums.CommissionKindCharge {
			return &existing[i], nil
		}
	}

	now := s.now().UTC()
	var categories []uuid.UUID
	for _, item := range sub.Items {
		if item.CategoryID != nil {
			categories = append(categories, *item.CategoryID)
		}
	}
	rules, err := repo.CandidateRules(ctx, sub.StoreID, categories, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rules")
	}

	groups := map[uuid.UUID]*ruleGroup{}
	var order []uuid.UUID
	var itemBase int64
	for _, item := range sub.Items {
		payable := item.UnitPriceCents * int64(item.Quantity-item.CancelledQty)
		if payable <= 0 {
			continue
		}
		itemBase += payable
		rule := pickRule(rules, sub.StoreID, item.CategoryID, now)
		key := uuid.Nil
		if rule != nil {
			key = rule.ID
		}
		group, ok := groups[key]
		if !ok {
			group = &ruleGroup{rule: rule}
			groups[key] = group
			order = append(order, key)
		}
		group.base += payable
	}

	base := input.BaseCents
	if base <= 0 {
		base = itemBase
	}
	// Without item detail the whole base goes through store-level resolution.
	if len(order) == 0 && base > 0 {
		rule := pickRule(rules, sub.StoreID, nil, now)
		groups[uuid.Nil] = &ruleGroup{rule: rule, base: base}
		order = append(order, uuid.Nil)
	}

	var amount int64
	for _, key := range order {
		group := groups[key]
		rate := Rate{RateBps: s.defaultBps}
		if group.rule != nil {
			rate = RateOf(*group.rule)
		}
		amount += Compute(rate, group.base)
	}
	amount = money.Clamp(amount, 0, base)

	txn := &models.CommissionTransaction{
		SubOrderID:  sub.ID,
		StoreID:     sub.StoreID,
		Kind:        enums.CommissionKindCharge,
		BaseCents:   base,
		RateBps:     money.EffectiveBps(amount, base),
		AmountCents: amount,
		Currency:    input.Currency,
		OccurredAt:  now,
	}
	if len(order) == 1 && groups[order[0]].rule != nil {
		id := groups[order[0]].rule.ID
		txn.RuleID = &id
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "sub-order already charged")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record commission charge")
	}

	orderID := sub.OrderID
	subID := sub.ID
	storeID := sub.StoreID
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		OrderID:     &orderID,
		SubOrderID:  &subID,
		StoreID:     &storeID,
		ReferenceID: &txn.ID,
		Type:        enums.LedgerEventTypeCommissionCharged,
		AmountCents: amount,
		Currency:    input.Currency,
		Metadata:    map[string]any{"base_cents": base, "rate_bps": txn.RateBps},
	}); err != nil {
		return nil, err
	}
	return txn, nil
}

// Reverse gives back commission in proportion to the refunded share of the
// funded amount. Cumulative reversals never exceed the original charge, and
// a refund that empties the escrow returns whatever charge is left.
func (s *service) Reverse(ctx context.Context, tx *gorm.DB, input ReverseInput) (*models.CommissionTransaction, error) {
	if input.RefundedCents <= 0 {
		return nil, nil
	}
	repo := s.repo.WithTx(tx)
	txns, err := repo.ListBySubOrder(ctx, input.SubOrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission transactions")
	}

	var charged, reversed int64
	var chargeTxn *models.CommissionTransaction
	for i := range txns {
		switch txns[i].Kind {
		case enums.CommissionKindCharge:
			charged += txns[i].AmountCents
			chargeTxn = &txns[i]
		case enums.CommissionKindReversal:
			reversed += txns[i].AmountCents
		}
	}
	remaining := charged - reversed
	if chargeTxn == nil || remaining <= 0 {
		return nil, nil
	}

	amount := money.Prorate(charged, input.RefundedCents, input.FundedCents)
	if input.RefundedCents >= input.FundedCents {
		amount = remaining
	}
	amount = money.Clamp(amount, 0, remaining)
	if amount == 0 {
		return nil, nil
	}

	refundID := input.RefundID
	txn := &models.CommissionTransaction{
		SubOrderID:  input.SubOrderID,
		StoreID:     input.StoreID,
		RuleID:      chargeTxn.RuleID,
		RefundID:    &refundID,
		Kind:        enums.CommissionKindReversal,
		BaseCents:   input.RefundedCents,
		RateBps:     chargeTxn.RateBps,
		AmountCents: amount,
		Currency:    input.Currency,
		OccurredAt:  s.now().UTC(),
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record commission reversal")
	}

	orderID := input.OrderID
	subID := input.SubOrderID
	storeID := input.StoreID
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		OrderID:     &orderID,
		SubOrderID:  &subID,
		StoreID:     &storeID,
		ReferenceID: &refundID,
		Type:        enums.LedgerEventTypeCommissionReversed,
		AmountCents: amount,
		Currency:    input.Currency,
	}); err != nil {
		return nil, err
	}
	return txn, nil
}
