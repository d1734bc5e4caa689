package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// Settlement reconciles a store's activity over a period. A correction points
// at the settlement it replaces through CorrectsSettlementID.
type Settlement struct {
	ID                   uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StoreID              uuid.UUID              `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	Number               string                 `gorm:"column:number;not null;uniqueIndex" json:"number"`
	PeriodStart          time.Time              `gorm:"column:period_start;not null" json:"period_start"`
	PeriodEnd            time.Time              `gorm:"column:period_end;not null" json:"period_end"`
	Status               enums.SettlementStatus `gorm:"column:status;type:text;not null;default:'draft'" json:"status"`
	Currency             string                 `gorm:"column:currency;not null" json:"currency"`
	GrossSalesCents      int64                  `gorm:"column:gross_sales_cents;not null;default:0" json:"gross_sales_cents"`
	RefundsCents         int64                  `gorm:"column:refunds_cents;not null;default:0" json:"refunds_cents"`
	CommissionCents      int64                  `gorm:"column:commission_cents;not null;default:0" json:"commission_cents"`
	NetCents             int64                  `gorm:"column:net_cents;not null;default:0" json:"net_cents"`
	PaidOutCents         int64                  `gorm:"column:paid_out_cents;not null;default:0" json:"paid_out_cents"`
	ClosingBalanceCents  int64                  `gorm:"column:closing_balance_cents;not null;default:0" json:"closing_balance_cents"`
	CorrectsSettlementID *uuid.UUID             `gorm:"column:corrects_settlement_id;type:uuid" json:"corrects_settlement_id"`
	Corrects             *Settlement            `gorm:"foreignKey:CorrectsSettlementID" json:"corrects,omitempty"`
	Items                []SettlementItem       `gorm:"foreignKey:SettlementID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	FinalizedAt          *time.Time             `gorm:"column:finalized_at" json:"finalized_at"`
	CreatedAt            time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Settlement) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// SettlementItem is one signed line of a settlement.
type SettlementItem struct {
	ID           uuid.UUID                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SettlementID uuid.UUID                `gorm:"column:settlement_id;type:uuid;not null;index" json:"settlement_id"`
	Type         enums.SettlementItemType `gorm:"column:type;type:text;not null" json:"type"`
	ReferenceID  *uuid.UUID               `gorm:"column:reference_id;type:uuid" json:"reference_id"`
	Description  string                   `gorm:"column:description;not null" json:"description"`
	AmountCents  int64                    `gorm:"column:amount_cents;not null" json:"amount_cents"`
	OccurredAt   time.Time                `gorm:"column:occurred_at;not null" json:"occurred_at"`
}

func (m *SettlementItem) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
