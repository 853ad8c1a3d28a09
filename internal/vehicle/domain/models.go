// Package domain contains the vehicle persistence model. A vehicle is the
// target account of a recurring agreement and of direct invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Vehicle struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrgID        snowflake.ID `gorm:"not null;index"`
	CustomerName string       `gorm:"type:text;not null"`
	Make         string       `gorm:"type:text;not null"`
	Model        string       `gorm:"type:text;not null"`
	Year         int          `gorm:"not null"`
	VIN          *string      `gorm:"type:text"`
	LicensePlate *string      `gorm:"type:text"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Vehicle) TableName() string { return "vehicles" }
