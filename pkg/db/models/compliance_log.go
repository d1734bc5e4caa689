package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// ComplianceLog is the audit trail of financial state changes.
type ComplianceLog struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ActorUserID *uuid.UUID             `gorm:"column:actor_user_id;type:uuid" json:"actor_user_id"`
	ActorRole   enums.ActorRole        `gorm:"column:actor_role;type:text;not null" json:"actor_role"`
	Action      string                 `gorm:"column:action;not null" json:"action"`
	EntityType  enums.ComplianceEntity `gorm:"column:entity_type;type:text;not null;index:compliance_logs_entity_idx" json:"entity_type"`
	EntityID    uuid.UUID              `gorm:"column:entity_id;type:uuid;not null;index:compliance_logs_entity_idx" json:"entity_id"`
	Before      json.RawMessage        `gorm:"column:before_state;type:jsonb" json:"before_state"`
	After       json.RawMessage        `gorm:"column:after_state;type:jsonb" json:"after_state"`
	Reason      *string                `gorm:"column:reason" json:"reason"`
	RequestID   *string                `gorm:"column:request_id" json:"request_id"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (m *ComplianceLog) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
