package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PartItem is one part line in an agreement request.
type PartItem struct {
	Name       string  `json:"name"`
	PartNumber *string `json:"part_number,omitempty"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  int64   `json:"unit_price"`
}

// LaborItem is one labor line in an agreement request.
type LaborItem struct {
	Description string          `json:"description"`
	Hours       decimal.Decimal `json:"hours"`
	Rate        int64           `json:"rate"`
}

type CreateAgreementRequest struct {
	VehicleID     string      `json:"vehicle_id"`
	Title         string      `json:"title"`
	Description   *string     `json:"description,omitempty"`
	ServiceType   string      `json:"service_type"`
	Frequency     string      `json:"frequency"`
	StartDate     time.Time   `json:"start_date"`
	EndDate       *time.Time  `json:"end_date,omitempty"`
	FlatCost      int64       `json:"flat_cost"`
	DiscountKind  string      `json:"discount_kind"`
	DiscountValue int64       `json:"discount_value"`
	TaxRateBps    *int64      `json:"tax_rate_bps,omitempty"`
	InvoiceNotes  *string     `json:"invoice_notes,omitempty"`
	Parts         []PartItem  `json:"parts"`
	Labor         []LaborItem `json:"labor"`
}

// UpdateAgreementRequest replaces the agreement's template wholesale.
// Already-materialized invoices are unaffected: line items were snapshotted
// at materialization time.
type UpdateAgreementRequest struct {
	ID            string      `json:"-"`
	Title         string      `json:"title"`
	Description   *string     `json:"description,omitempty"`
	ServiceType   string      `json:"service_type"`
	Frequency     string      `json:"frequency"`
	NextRunDate   *time.Time  `json:"next_run_date,omitempty"`
	EndDate       *time.Time  `json:"end_date,omitempty"`
	FlatCost      int64       `json:"flat_cost"`
	DiscountKind  string      `json:"discount_kind"`
	DiscountValue int64       `json:"discount_value"`
	TaxRateBps    *int64      `json:"tax_rate_bps,omitempty"`
	InvoiceNotes  *string     `json:"invoice_notes,omitempty"`
	Parts         []PartItem  `json:"parts"`
	Labor         []LaborItem `json:"labor"`
}

// AgreementDetail is an agreement with its template lines.
type AgreementDetail struct {
	Agreement Agreement        `json:"agreement"`
	Parts     []AgreementPart  `json:"parts"`
	Labor     []AgreementLabor `json:"labor"`
}

type ListAgreementResponse struct {
	Agreements []Agreement `json:"agreements"`
}

type Service interface {
	Create(ctx context.Context, req CreateAgreementRequest) (AgreementDetail, error)
	Update(ctx context.Context, req UpdateAgreementRequest) (AgreementDetail, error)
	Delete(ctx context.Context, id string) error
	// Toggle pauses or resumes an agreement without touching its schedule
	// state.
	Toggle(ctx context.Context, id string, active bool) (Agreement, error)
	List(ctx context.Context) (ListAgreementResponse, error)
	GetByID(ctx context.Context, id string) (AgreementDetail, error)
}

var (
	ErrNotFound            = errors.New("agreement_not_found")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAgreement    = errors.New("invalid_agreement")
	ErrInvalidTitle        = errors.New("invalid_title")
	ErrInvalidVehicle      = errors.New("invalid_vehicle")
	ErrInvalidLineItem     = errors.New("invalid_line_item")
	ErrInvalidTaxRate      = errors.New("invalid_tax_rate")
	ErrInvalidDiscount     = errors.New("invalid_discount")
	ErrInvalidSchedule     = errors.New("invalid_schedule")
)
