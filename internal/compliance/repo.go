package compliance

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/pagination"
)

// Repository persists the append-only audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.ComplianceLog) error
	ListByEntity(ctx context.Context, entityType enums.ComplianceEntity, entityID uuid.UUID, params pagination.Params) ([]models.ComplianceLog, error)
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

func (r *repository) Create(ctx context.Context, entry *models.ComplianceLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByEntity(ctx context.Context, entityType enums.ComplianceEntity, entityID uuid.UUID, params pagination.Params) ([]models.ComplianceLog, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ComplianceLog{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)
	query, err := pagination.Apply(query, params, "")
	if err != nil {
		return nil, err
	}
	var rows []models.ComplianceLog
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
