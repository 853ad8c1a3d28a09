// Package domain contains the organization persistence model. The
// organization row is also the serialization anchor for invoice-number
// issuance: issuing transactions lock it before reading the last number.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization is the tenancy unit; every billing row is org-scoped.
type Organization struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// OrganizationMember maps a user to a role within one organization.
// Authorization resolves the role from this table before enforcing.
type OrganizationMember struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:ux_org_members_org_user"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_org_members_org_user"`
	Role      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrganizationMember) TableName() string { return "organization_members" }
