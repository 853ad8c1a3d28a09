package domain

import (
	"context"
	"errors"
	"time"
)

// LedgerStatus is the derived paid state of an invoice.
type LedgerStatus string

const (
	StatusUnpaid  LedgerStatus = "unpaid"
	StatusPartial LedgerStatus = "partial"
	StatusPaid    LedgerStatus = "paid"
)

// Ledger is the derived view of an invoice's payments. BalanceDue may be
// negative when the invoice was overpaid.
type Ledger struct {
	InvoiceTotal int64        `json:"invoice_total"`
	TotalPaid    int64        `json:"total_paid"`
	BalanceDue   int64        `json:"balance_due"`
	Status       LedgerStatus `json:"status"`
	Payments     []Payment    `json:"payments"`
}

type RecordPaymentRequest struct {
	InvoiceID string     `json:"-"`
	Amount    int64      `json:"amount"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	Method    string     `json:"method"`
	Note      *string    `json:"note,omitempty"`
}

type Service interface {
	// Record appends a payment and returns the updated ledger.
	Record(ctx context.Context, req RecordPaymentRequest) (Ledger, error)
	// Delete removes one payment and returns the updated ledger.
	Delete(ctx context.Context, paymentID string) (Ledger, error)
	// LedgerFor derives the ledger for an invoice.
	LedgerFor(ctx context.Context, invoiceID string) (Ledger, error)
}

var (
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidMethod       = errors.New("invalid_payment_method")
)
