package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/enums"
)

// CommissionInvoice bills a store for platform commission. Credit notes are
// invoices of kind credit_note pointing at OriginalInvoiceID.
type CommissionInvoice struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StoreID           uuid.UUID               `gorm:"column:store_id;type:uuid;not null;index" json:"store_id"`
	Number            string                  `gorm:"column:number;not null;uniqueIndex" json:"number"`
	Kind              enums.InvoiceKind       `gorm:"column:kind;type:text;not null;default:'invoice'" json:"kind"`
	Status            enums.InvoiceStatus     `gorm:"column:status;type:text;not null;default:'draft'" json:"status"`
	Currency          string                  `gorm:"column:currency;not null" json:"currency"`
	PeriodStart       time.Time               `gorm:"column:period_start;not null" json:"period_start"`
	PeriodEnd         time.Time               `gorm:"column:period_end;not null" json:"period_end"`
	SubtotalCents     int64                   `gorm:"column:subtotal_cents;not null" json:"subtotal_cents"`
	TaxBps            int                     `gorm:"column:tax_bps;not null;default:0" json:"tax_bps"`
	TaxCents          int64                   `gorm:"column:tax_cents;not null;default:0" json:"tax_cents"`
	TotalCents        int64                   `gorm:"column:total_cents;not null" json:"total_cents"`
	OriginalInvoiceID *uuid.UUID              `gorm:"column:original_invoice_id;type:uuid;index" json:"original_invoice_id"`
	Original          *CommissionInvoice      `gorm:"foreignKey:OriginalInvoiceID" json:"original,omitempty"`
	Reason            *string                 `gorm:"column:reason" json:"reason"`
	Items             []CommissionInvoiceItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	IssuedAt          *time.Time              `gorm:"column:issued_at" json:"issued_at"`
	VoidedAt          *time.Time              `gorm:"column:voided_at" json:"voided_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *CommissionInvoice) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

type CommissionInvoiceItem struct {
	ID                      uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InvoiceID               uuid.UUID  `gorm:"column:invoice_id;type:uuid;not null;index" json:"invoice_id"`
	CommissionTransactionID *uuid.UUID `gorm:"column:commission_transaction_id;type:uuid" json:"commission_transaction_id"`
	Description             string     `gorm:"column:description;not null" json:"description"`
	AmountCents             int64      `gorm:"column:amount_cents;not null" json:"amount_cents"`
}

func (m *CommissionInvoiceItem) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// InvoiceSequence hands out gap-free invoice numbers per year.
type InvoiceSequence struct {
	Year      int `gorm:"column:year;primaryKey;autoIncrement:false" json:"year"`
	LastValue int `gorm:"column:last_value;not null" json:"last_value"`
}
