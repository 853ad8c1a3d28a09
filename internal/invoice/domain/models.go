// Package domain contains the invoice persistence models. An invoice is
// immutable once created: its number and monetary fields are never
// recomputed from the agreement that spawned it.
package domain

import (
	"time"

	"github.com/Torqvoice/torqvoice-sub001/internal/money"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Invoice is a materialized financial document. The unique index on
// (org_id, invoice_number) is the hard guarantee that no two invoices in an
// organization ever share a number, regardless of how they were issued.
type Invoice struct {
	ID             snowflake.ID       `gorm:"primaryKey"`
	OrgID          snowflake.ID       `gorm:"not null;uniqueIndex:ux_invoices_org_number;index"`
	InvoiceNumber  string             `gorm:"type:text;not null;uniqueIndex:ux_invoices_org_number"`
	AgreementID    *snowflake.ID      `gorm:"index"`
	VehicleID      snowflake.ID       `gorm:"not null;index"`
	Title          string             `gorm:"type:text;not null"`
	ServiceDate    time.Time          `gorm:"not null"`
	Notes          *string            `gorm:"type:text"`
	FlatCost       int64              `gorm:"not null;default:0"`
	Subtotal       int64              `gorm:"not null"`
	DiscountKind   money.DiscountKind `gorm:"type:text;not null;default:NONE"`
	DiscountValue  int64              `gorm:"not null;default:0"`
	DiscountAmount int64              `gorm:"not null;default:0"`
	TaxRateBps     int64              `gorm:"not null;default:0"`
	TaxAmount      int64              `gorm:"not null;default:0"`
	TotalAmount    int64              `gorm:"not null"`
	CreatedAt      time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoicePart is a snapshot of one part line at materialization time.
type InvoicePart struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;index"`
	InvoiceID  snowflake.ID `gorm:"not null;index"`
	Position   int          `gorm:"not null"`
	Name       string       `gorm:"type:text;not null"`
	PartNumber *string      `gorm:"type:text"`
	Quantity   int64        `gorm:"not null"`
	UnitPrice  int64        `gorm:"not null"`
	Total      int64        `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoicePart) TableName() string { return "invoice_parts" }

// InvoiceLabor is a snapshot of one labor line at materialization time.
type InvoiceLabor struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	OrgID       snowflake.ID    `gorm:"not null;index"`
	InvoiceID   snowflake.ID    `gorm:"not null;index"`
	Position    int             `gorm:"not null"`
	Description string          `gorm:"type:text;not null"`
	Hours       decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Rate        int64           `gorm:"not null"`
	Total       int64           `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceLabor) TableName() string { return "invoice_labor" }
