package commissions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

// Repository persists commission rules and the transactions charged from them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRule(ctx context.Context, rule *models.CommissionRule) error
	SaveRule(ctx context.Context, rule *models.CommissionRule) error
	FindRule(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error)
	ListRules(ctx context.Context, includeInactive bool) ([]models.CommissionRule, error)
	CandidateRules(ctx context.Context, storeID uuid.UUID, categoryIDs []uuid.UUID, at time.Time) ([]models.CommissionRule, error)
	CreateTransaction(ctx context.Context, txn *models.CommissionTransaction) error
	ListBySubOrder(ctx context.Context, subOrderID uuid.UUID) ([]models.CommissionTransaction, error)
	ListUninvoiced(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]models.CommissionTransaction, error)
	ListInPeriod(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]models.CommissionTransaction, error)
	MarkInvoiced(ctx context.Context, ids []uuid.UUID, invoiceID uuid.UUID) (int64, error)
	ClearInvoice(ctx context.Context, invoiceID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRule(ctx context.Context, rule *models.CommissionRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *repository) SaveRule(ctx context.Context, rule *models.CommissionRule) error {
	return r.db.WithContext(ctx).Save(rule).Error
}

func (r *repository) FindRule(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error) {
	var rule models.CommissionRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) ListRules(ctx context.Context, includeInactive bool) ([]models.CommissionRule, error) {
	query := r.db.WithContext(ctx).Order("scope ASC").Order("priority DESC").Order("effective_from DESC")
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	var rules []models.CommissionRule
	if err := query.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// CandidateRules returns every active rule in effect at the given instant that
// could apply to the store or any of the categories.
func (r *repository) CandidateRules(ctx context.Context, storeID uuid.UUID, categoryIDs []uuid.UUID, at time.Time) ([]models.CommissionRule, error) {
	scoped := r.db.Where("scope = ?", enums.CommissionScopeGlobal).
		Or("scope = ? AND store_id = ?", enums.CommissionScopeStore, storeID)
	if len(categoryIDs) > 0 {
		scoped = scoped.Or("scope = ? AND category_id IN ?", enums.CommissionScopeCategory, categoryIDs)
	}

	var rules []models.CommissionRule
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("effective_from <= ?", at).
		Where("effective_to IS NULL OR effective_to > ?", at).
		Where(scoped).
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.CommissionTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListBySubOrder(ctx context.Context, subOrderID uuid.UUID) ([]models.CommissionTransaction, error) {
	var txns []models.CommissionTransaction
	if err := r.db.WithContext(ctx).
		Where("sub_order_id = ?", subOrderID).
		Order("occurred_at ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) ListUninvoiced(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]models.CommissionTransaction, error) {
	var txns []models.CommissionTransaction
	if err := r.db.WithContext(ctx).
		Where("store_id = ? AND invoice_id IS NULL", storeID).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Order("occurred_at ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) ListInPeriod(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]models.CommissionTransaction, error) {
	var txns []models.CommissionTransaction
	if err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Order("occurred_at ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// MarkInvoiced claims still-uninvoiced transactions for invoiceID and reports
// how many rows it claimed.
func (r *repository) MarkInvoiced(ctx context.Context, ids []uuid.UUID, invoiceID uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.CommissionTransaction{}).
		Where("id IN ? AND invoice_id IS NULL", ids).
		Update("invoice_id", invoiceID)
	return res.RowsAffected, res.Error
}

func (r *repository) ClearInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CommissionTransaction{}).
		Where("invoice_id = ?", invoiceID).
		Update("invoice_id", nil).Error
}
