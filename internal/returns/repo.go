package returns

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

// Filter narrows List. Nil fields are ignored.
type Filter struct {
	BuyerUserID *uuid.UUID
	StoreID     *uuid.UUID
	SubOrderID  *uuid.UUID
	Status      *enums.ReturnStatus
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.ReturnRequest) error
	Find(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error)
	Lock(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	List(ctx context.Context, filter Filter, params pagination.Params) ([]models.ReturnRequest, error)
	ReservedQty(ctx context.Context, subOrderID uuid.UUID) (map[uuid.UUID]int, error)
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

func (r *repository) Create(ctx context.Context, request *models.ReturnRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	if err := r.db.WithContext(ctx).Preload("Items").First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) Lock(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	err := r.db.WithContext(ctx).
		Preload("Items").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&request, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.ReturnRequest{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) List(ctx context.Context, filter Filter, params pagination.Params) ([]models.ReturnRequest, error) {
	query := r.db.WithContext(ctx).Model(&models.ReturnRequest{}).Preload("Items")
	if filter.BuyerUserID != nil {
		query = query.Where("buyer_user_id = ?", *filter.BuyerUserID)
	}
	if filter.StoreID != nil {
		query = query.Where("store_id = ?", *filter.StoreID)
	}
	if filter.SubOrderID != nil {
		query = query.Where("sub_order_id = ?", *filter.SubOrderID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	query, err := pagination.Apply(query, params, "")
	if err != nil {
		return nil, err
	}
	var rows []models.ReturnRequest
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReservedQty sums item quantities already claimed by open returns.
func (r *repository) ReservedQty(ctx context.Context, subOrderID uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []struct {
		OrderItemID uuid.UUID
		Total       int
	}
	err := r.db.WithContext(ctx).
		Table("return_items").
		Select("return_items.order_item_id AS order_item_id, SUM(return_items.quantity) AS total").
		Joins("JOIN return_requests ON return_requests.id = return_items.return_id").
		Where("return_requests.sub_order_id = ? AND return_requests.status IN ?", subOrderID, openStatuses()).
		Group("return_items.order_item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		out[row.OrderItemID] = row.Total
	}
	return out, nil
}

// openStatuses are the return states that block escrow release.
func openStatuses() []enums.ReturnStatus {
	return []enums.ReturnStatus{enums.ReturnStatusRequested, enums.ReturnStatusApproved, enums.ReturnStatusReceived}
}
