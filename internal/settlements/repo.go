package settlements

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

// Period is a half-open [Start, End) window.
type Period struct {
	Start time.Time
	End   time.Time
}

// Activity is one signed money movement feeding a settlement line.
type Activity struct {
	Type        enums.SettlementItemType
	ReferenceID uuid.UUID
	Label       string
	AmountCents int64
	OccurredAt  time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindStore(ctx context.Context, id uuid.UUID) (*models.Store, error)
	Activity(ctx context.Context, storeID uuid.UUID, period Period) ([]Activity, error)
	ActiveStores(ctx context.Context, period Period) ([]uuid.UUID, error)
	// LockCurrent returns the newest non-superseded settlement for the period.
	LockCurrent(ctx context.Context, storeID uuid.UUID, period Period) (*models.Settlement, error)
	CountForPeriod(ctx context.Context, storeID uuid.UUID, period Period) (int64, error)
	Create(ctx context.Context, settlement *models.Settlement) error
	ReplaceItems(ctx context.Context, settlementID uuid.UUID, items []models.SettlementItem) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Find(ctx context.Context, id uuid.UUID) (*models.Settlement, error)
	Lock(ctx context.Context, id uuid.UUID) (*models.Settlement, error)
	List(ctx context.Context, storeID *uuid.UUID, params pagination.Params) ([]models.Settlement, error)
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

type activityRow struct {
	ReferenceID uuid.UUID
	Label       string
	AmountCents int64
	OccurredAt  time.Time
}

// Activity gathers sales, refunds, commission and payouts for a store.
// Amounts are signed from the seller's point of view.
func (r *repository) Activity(ctx context.Context, storeID uuid.UUID, period Period) ([]Activity, error) {
	db := r.db.WithContext(ctx)
	start, end := period.Start.UTC(), period.End.UTC()
	var out []Activity

	collect := func(kind enums.SettlementItemType, sign int64, query *gorm.DB) error {
		var rows []activityRow
		if err := query.Scan(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			out = append(out, Activity{
				Type:        kind,
				ReferenceID: row.ReferenceID,
				Label:       row.Label,
				AmountCents: sign * row.AmountCents,
				OccurredAt:  row.OccurredAt,
			})
		}
		return nil
	}

	if err := collect(enums.SettlementItemTypeSale, 1, db.Table("escrow_transactions AS e").
		Select("e.sub_order_id AS reference_id, s.number AS label, e.amount_cents AS amount_cents, e.funded_at AS occurred_at").
		Joins("JOIN seller_sub_orders AS s ON s.id = e.sub_order_id").
		Where("e.store_id = ? AND e.funded_at >= ? AND e.funded_at < ?", storeID, start, end).
		Order("e.funded_at ASC, e.id ASC")); err != nil {
		return nil, err
	}
	if err := collect(enums.SettlementItemTypeRefund, -1, db.Table("refunds AS rf").
		Select("rf.id AS reference_id, s.number AS label, rf.amount_cents AS amount_cents, rf.applied_at AS occurred_at").
		Joins("JOIN seller_sub_orders AS s ON s.id = rf.sub_order_id").
		Where("rf.store_id = ? AND rf.status <> ? AND rf.applied_at >= ? AND rf.applied_at < ?",
			storeID, enums.RefundStatusFailed, start, end).
		Order("rf.applied_at ASC, rf.id ASC")); err != nil {
		return nil, err
	}
	commission := func(kind enums.CommissionKind) *gorm.DB {
		return db.Table("commission_transactions AS c").
			Select("c.id AS reference_id, s.number AS label, c.amount_cents AS amount_cents, c.occurred_at AS occurred_at").
			Joins("JOIN seller_sub_orders AS s ON s.id = c.sub_order_id").
			Where("c.store_id = ? AND c.kind = ? AND c.occurred_at >= ? AND c.occurred_at < ?", storeID, kind, start, end).
			Order("c.occurred_at ASC, c.id ASC")
	}
	if err := collect(enums.SettlementItemTypeCommission, -1, commission(enums.CommissionKindCharge)); err != nil {
		return nil, err
	}
	if err := collect(enums.SettlementItemTypeCommissionReversal, 1, commission(enums.CommissionKindReversal)); err != nil {
		return nil, err
	}
	if err := collect(enums.SettlementItemTypePayout, -1, db.Table("payouts AS p").
		Select("p.id AS reference_id, p.provider AS label, p.amount_cents AS amount_cents, p.paid_at AS occurred_at").
		Where("p.store_id = ? AND p.status = ? AND p.paid_at >= ? AND p.paid_at < ?", storeID, enums.PayoutStatusPaid, start, end).
		Order("p.paid_at ASC, p.id ASC")); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveStores lists stores with funded escrows or paid payouts in the period.
func (r *repository) ActiveStores(ctx context.Context, period Period) ([]uuid.UUID, error) {
	db := r.db.WithContext(ctx)
	start, end := period.Start.UTC(), period.End.UTC()
	var funded, paid []uuid.UUID
	if err := db.Model(&models.EscrowTransaction{}).
		Distinct("store_id").
		Where("funded_at >= ? AND funded_at < ?", start, end).
		Pluck("store_id", &funded).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Payout{}).
		Distinct("store_id").
		Where("status = ? AND paid_at >= ? AND paid_at < ?", enums.PayoutStatusPaid, start, end).
		Pluck("store_id", &paid).Error; err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(funded)+len(paid))
	var ids []uuid.UUID
	for _, id := range append(funded, paid...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *repository) LockCurrent(ctx context.Context, storeID uuid.UUID, period Period) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ? AND period_start = ? AND period_end = ? AND status <> ?",
			storeID, period.Start.UTC(), period.End.UTC(), enums.SettlementStatusSuperseded).
		Order("created_at DESC").
		First(&settlement).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repository) CountForPeriod(ctx context.Context, storeID uuid.UUID, period Period) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("store_id = ? AND period_start = ? AND period_end = ?", storeID, period.Start.UTC(), period.End.UTC()).
		Count(&n).Error
	return n, err
}

func (r *repository) Create(ctx context.Context, settlement *models.Settlement) error {
	return r.db.WithContext(ctx).Omit("Corrects").Create(settlement).Error
}

func (r *repository) ReplaceItems(ctx context.Context, settlementID uuid.UUID, items []models.SettlementItem) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("settlement_id = ?", settlementID).Delete(&models.SettlementItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].SettlementID = settlementID
	}
	return db.Create(&items).Error
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Settlement{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("occurred_at ASC, id ASC") }).
		First(&settlement, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repository) Lock(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&settlement, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repository) List(ctx context.Context, storeID *uuid.UUID, params pagination.Params) ([]models.Settlement, error) {
	query := r.db.WithContext(ctx).Model(&models.Settlement{})
	if storeID != nil {
		query = query.Where("store_id = ?", *storeID)
	}
	query, err := pagination.Apply(query, params, "")
	if err != nil {
		return nil, err
	}
	var rows []models.Settlement
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
