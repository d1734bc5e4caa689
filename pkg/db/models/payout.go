package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// PayoutSchedule decides when a store's released escrows are paid out.
type PayoutSchedule struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StoreID      uuid.UUID             `gorm:"column:store_id;type:uuid;not null;uniqueIndex" json:"store_id"`
	Frequency    enums.PayoutFrequency `gorm:"column:frequency;type:text;not null" json:"frequency"`
	Weekday      *int                  `gorm:"column:weekday" json:"weekday"`
	DayOfMonth   *int                  `gorm:"column:day_of_month" json:"day_of_month"`
	MinimumCents int64                 `gorm:"column:minimum_cents;not null;default:0" json:"minimum_cents"`
	Active       bool                  `gorm:"column:active;not null;default:true" json:"active"`
	NextRunAt    time.Time             `gorm:"column:next_run_at;not null;index" json:"next_run_at"`
	LastRunAt    *time.Time            `gorm:"column:last_run_at" json:"last_run_at"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *PayoutSchedule) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// Payout transfers the net of one or more released escrows to a store.
type Payout struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StoreID       uuid.UUID           `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	ScheduleID    *uuid.UUID          `gorm:"column:schedule_id;type:uuid;index" json:"schedule_id"`
	Status        enums.PayoutStatus  `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	Currency      string              `gorm:"column:currency;not null" json:"currency"`
	AmountCents   int64               `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Provider      string              `gorm:"column:provider;not null" json:"provider"`
	ProviderRef   *string             `gorm:"column:provider_ref" json:"provider_ref"`
	FailureReason *string             `gorm:"column:failure_reason" json:"failure_reason"`
	Attempts      int                 `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Escrows       []EscrowTransaction `gorm:"foreignKey:PayoutID" json:"escrows,omitempty"`
	PaidAt        *time.Time          `gorm:"column:paid_at" json:"paid_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Payout) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
