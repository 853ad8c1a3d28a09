// Package domain contains persistence models for recurring service
// agreements. An agreement is a standing billing template whose line items
// are copied as immutable snapshots each time it materializes into an
// invoice.
package domain

import (
	"time"

	"github.com/Torqvoice/torqvoice-sub001/internal/money"
	"github.com/Torqvoice/torqvoice-sub001/internal/schedule"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Agreement is a standing recurring-billing template.
type Agreement struct {
	ID            snowflake.ID       `gorm:"primaryKey"`
	OrgID         snowflake.ID       `gorm:"not null;index"`
	VehicleID     snowflake.ID       `gorm:"not null;index"`
	Title         string             `gorm:"type:text;not null"`
	Description   *string            `gorm:"type:text"`
	ServiceType   string             `gorm:"type:text;not null"`
	Frequency     schedule.Frequency `gorm:"type:text;not null"`
	NextRunDate   time.Time          `gorm:"not null;index"`
	EndDate       *time.Time         `gorm:""`
	IsActive      bool               `gorm:"not null;default:true"`
	LastRunAt     *time.Time         `gorm:""`
	RunCount      int64              `gorm:"not null;default:0"`
	FlatCost      int64              `gorm:"not null;default:0"`
	DiscountKind  money.DiscountKind `gorm:"type:text;not null;default:NONE"`
	DiscountValue int64              `gorm:"not null;default:0"`
	TaxRateBps    int64              `gorm:"not null;default:0"`
	InvoiceNotes  *string            `gorm:"type:text"`
	Metadata      datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt     time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Agreement) TableName() string { return "agreements" }

// AgreementPart is one template part line.
type AgreementPart struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index"`
	AgreementID snowflake.ID `gorm:"not null;index"`
	Position    int          `gorm:"not null"`
	Name        string       `gorm:"type:text;not null"`
	PartNumber  *string      `gorm:"type:text"`
	Quantity    int64        `gorm:"not null"`
	UnitPrice   int64        `gorm:"not null"`
}

// TableName sets the database table name.
func (AgreementPart) TableName() string { return "agreement_parts" }

// AgreementLabor is one template labor line. Hours is fractional.
type AgreementLabor struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	OrgID       snowflake.ID    `gorm:"not null;index"`
	AgreementID snowflake.ID    `gorm:"not null;index"`
	Position    int             `gorm:"not null"`
	Description string          `gorm:"type:text;not null"`
	Hours       decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Rate        int64           `gorm:"not null"`
}

// TableName sets the database table name.
func (AgreementLabor) TableName() string { return "agreement_labor" }
