package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PartItem is one part line in a direct invoice request.
type PartItem struct {
	Name       string  `json:"name"`
	PartNumber *string `json:"part_number,omitempty"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  int64   `json:"unit_price"`
}

// LaborItem is one labor line in a direct invoice request.
type LaborItem struct {
	Description string          `json:"description"`
	Hours       decimal.Decimal `json:"hours"`
	Rate        int64           `json:"rate"`
}

// CreateInvoiceRequest creates an invoice directly, outside any agreement.
// Totals are always recomputed server-side from the line items; a
// client-supplied total is never trusted.
type CreateInvoiceRequest struct {
	VehicleID     string      `json:"vehicle_id"`
	Title         string      `json:"title"`
	ServiceDate   time.Time   `json:"service_date"`
	Notes         *string     `json:"notes,omitempty"`
	FlatCost      int64       `json:"flat_cost"`
	DiscountKind  string      `json:"discount_kind"`
	DiscountValue int64       `json:"discount_value"`
	TaxRateBps    *int64      `json:"tax_rate_bps,omitempty"`
	Parts         []PartItem  `json:"parts"`
	Labor         []LaborItem `json:"labor"`
}

type ListInvoiceRequest struct {
	VehicleID   string
	AgreementID string
}

type ListInvoiceResponse struct {
	Invoices []Invoice `json:"invoices"`
}

// InvoiceDetail is an invoice with its snapshotted lines.
type InvoiceDetail struct {
	Invoice Invoice        `json:"invoice"`
	Parts   []InvoicePart  `json:"parts"`
	Labor   []InvoiceLabor `json:"labor"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (InvoiceDetail, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id string) (InvoiceDetail, error)
}

var (
	ErrNotFound            = errors.New("invoice_not_found")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidTitle        = errors.New("invalid_title")
	ErrInvalidVehicle      = errors.New("invalid_vehicle")
	ErrInvalidLineItem     = errors.New("invalid_line_item")
	ErrInvalidDiscount     = errors.New("invalid_discount")
	ErrInvalidTaxRate      = errors.New("invalid_tax_rate")
	ErrNumberConflict      = errors.New("invoice_number_conflict")
)
