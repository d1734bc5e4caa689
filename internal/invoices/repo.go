package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

// Filter narrows List.
type Filter struct {
	StoreID *uuid.UUID
	Kind    *enums.InvoiceKind
	Status  *enums.InvoiceStatus
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindStore(ctx context.Context, id uuid.UUID) (*models.Store, error)
	Create(ctx context.Context, invoice *models.CommissionInvoice) error
	Find(ctx context.Context, id uuid.UUID) (*models.CommissionInvoice, error)
	Lock(ctx context.Context, id uuid.UUID) (*models.CommissionInvoice, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	List(ctx context.Context, filter Filter, params pagination.Params) ([]models.CommissionInvoice, error)
	// NextNumber hands out the next value of the yearly sequence. It must run
	// inside the transaction that uses the number.
	NextNumber(ctx context.Context, year int) (int, error)
	CreditedCents(ctx context.Context, originalID uuid.UUID) (int64, error)
	StoresWithUninvoiced(ctx context.Context, from, to time.Time) ([]uuid.UUID, error)
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

func (r *repository) FindStore(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).First(&store, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *repository) Create(ctx context.Context, invoice *models.CommissionInvoice) error {
	return r.db.WithContext(ctx).Omit("Original").Create(invoice).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.CommissionInvoice, error) {
	var invoice models.CommissionInvoice
	if err := r.db.WithContext(ctx).Preload("Items").First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Lock(ctx context.Context, id uuid.UUID) (*models.CommissionInvoice, error) {
	var invoice models.CommissionInvoice
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&invoice, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.CommissionInvoice{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) List(ctx context.Context, filter Filter, params pagination.Params) ([]models.CommissionInvoice, error) {
	query := r.db.WithContext(ctx).Model(&models.CommissionInvoice{})
	if filter.StoreID != nil {
		query = query.Where("store_id = ?", *filter.StoreID)
	}
	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	query, err := pagination.Apply(query, params, "")
	if err != nil {
		return nil, err
	}
	var rows []models.CommissionInvoice
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) NextNumber(ctx context.Context, year int) (int, error) {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.InvoiceSequence{Year: year}).Error; err != nil {
		return 0, err
	}
	var seq models.InvoiceSequence
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&seq, "year = ?", year).Error; err != nil {
		return 0, err
	}
	next := seq.LastValue + 1
	if err := db.Model(&models.InvoiceSequence{}).Where("year = ?", year).Update("last_value", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}

// CreditedCents sums the issued credit notes against an invoice as a
// positive amount.
func (r *repository) CreditedCents(ctx context.Context, originalID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CommissionInvoice{}).
		Where("original_invoice_id = ? AND kind = ? AND status = ?", originalID, enums.InvoiceKindCreditNote, enums.InvoiceStatusIssued).
		Select("COALESCE(SUM(-total_cents), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) StoresWithUninvoiced(ctx context.Context, from, to time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.CommissionTransaction{}).
		Distinct("store_id").
		Where("invoice_id IS NULL AND occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC()).
		Pluck("store_id", &ids).Error
	return ids, err
}
