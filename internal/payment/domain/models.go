// Package domain contains the payment ledger models. Payments append
// against one invoice; paid state is always derived from the sum, never
// stored.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaymentMethod tags how money was received.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodCard     PaymentMethod = "CARD"
	MethodCheck    PaymentMethod = "CHECK"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodOther    PaymentMethod = "OTHER"
)

// ValidPaymentMethod reports whether method is a known variant.
func ValidPaymentMethod(method PaymentMethod) bool {
	switch method {
	case MethodCash, MethodCard, MethodCheck, MethodTransfer, MethodOther:
		return true
	default:
		return false
	}
}

// Payment is one record of money received against an invoice.
type Payment struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	OrgID     snowflake.ID  `gorm:"not null;index"`
	InvoiceID snowflake.ID  `gorm:"not null;index"`
	Amount    int64         `gorm:"not null"`
	PaidAt    time.Time     `gorm:"not null"`
	Method    PaymentMethod `gorm:"type:text;not null"`
	Note      *string       `gorm:"type:text"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }
