// Package domain contains per-organization settings storage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Well-known setting keys.
const (
	KeyInvoicePrefix = "invoice_prefix"
	// KeyInvoiceStartNumber is a one-time starting offset for invoice
	// numbering. The sequencer clears it in the same transaction that issues
	// the first number at or above it, so it never re-asserts itself.
	KeyInvoiceStartNumber = "invoice_start_number"
	KeyDefaultTaxRateBps  = "default_tax_rate_bps"
	KeyDefaultLaborRate   = "default_labor_rate"
)

// OrgSetting is one key/value pair scoped to an organization.
type OrgSetting struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_settings_key,priority:1"`
	Key       string       `gorm:"type:text;not null;uniqueIndex:ux_org_settings_key,priority:2"`
	Value     string       `gorm:"type:text;not null"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrgSetting) TableName() string { return "org_settings" }
