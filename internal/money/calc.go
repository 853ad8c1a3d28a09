// Package money computes invoice totals. All monetary values are int64 minor
// units; percentage rates are basis points. Intermediate multiplication runs
// on decimals and is rounded half-up exactly once, at the persisted boundary,
// so recomputing from persisted fields reproduces identical results.
package money

import "github.com/shopspring/decimal"

// DiscountKind selects how Discount.Value is interpreted.
type DiscountKind string

const (
	DiscountNone       DiscountKind = "NONE"
	DiscountPercentage DiscountKind = "PERCENTAGE"
	DiscountFixed      DiscountKind = "FIXED"
)

// ValidDiscountKind reports whether kind is one of the known variants.
func ValidDiscountKind(kind DiscountKind) bool {
	switch kind {
	case DiscountNone, DiscountPercentage, DiscountFixed:
		return true
	default:
		return false
	}
}

// Discount is a tagged discount configuration. Value is basis points for
// PERCENTAGE and minor units for FIXED; it is ignored for NONE.
type Discount struct {
	Kind  DiscountKind
	Value int64
}

// PartInput is one part line: quantity of units at a unit price.
type PartInput struct {
	Quantity  int64
	UnitPrice int64
}

// LaborInput is one labor line: fractional hours at an hourly rate.
type LaborInput struct {
	Hours decimal.Decimal
	Rate  int64
}

// Input is everything the calculator needs for one invoice.
type Input struct {
	Parts      []PartInput
	Labor      []LaborInput
	FlatCost   int64
	Discount   Discount
	TaxRateBps int64
}

// Totals is the fully derived monetary breakdown. The identity
// TotalAmount = Subtotal - DiscountAmount + TaxAmount holds exactly.
type Totals struct {
	PartsSubtotal  int64
	LaborSubtotal  int64
	Subtotal       int64
	DiscountAmount int64
	TaxableBase    int64
	TaxAmount      int64
	TotalAmount    int64
}

var bpsDivisor = decimal.NewFromInt(10000)

// PartLineTotal is quantity x unit price, exact in minor units.
func PartLineTotal(quantity, unitPrice int64) int64 {
	return quantity * unitPrice
}

// LaborLineTotal is hours x rate, rounded half-up to a minor unit. The
// rounded value is what gets persisted on the line, so the subtotal derived
// from persisted lines matches the subtotal computed here.
func LaborLineTotal(hours decimal.Decimal, rate int64) int64 {
	return hours.Mul(decimal.NewFromInt(rate)).Round(0).IntPart()
}

// Compute derives the full breakdown in fixed order: line subtotals, flat
// cost, discount, taxable base, tax, total. Pure; no side effects.
func Compute(in Input) Totals {
	var parts int64
	for _, line := range in.Parts {
		parts += PartLineTotal(line.Quantity, line.UnitPrice)
	}

	var labor int64
	for _, line := range in.Labor {
		labor += LaborLineTotal(line.Hours, line.Rate)
	}

	subtotal := in.FlatCost + parts + labor
	discount := discountAmount(subtotal, in.Discount)
	taxableBase := subtotal - discount
	tax := rateAmount(taxableBase, in.TaxRateBps)

	return Totals{
		PartsSubtotal:  parts,
		LaborSubtotal:  labor,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxableBase:    taxableBase,
		TaxAmount:      tax,
		TotalAmount:    taxableBase + tax,
	}
}

// Recompute re-derives tax and total from already-persisted subtotal and
// discount, for audit verification of stored invoices.
func Recompute(subtotal, discountAmount, taxRateBps int64) (taxAmount, totalAmount int64) {
	taxableBase := subtotal - discountAmount
	taxAmount = rateAmount(taxableBase, taxRateBps)
	return taxAmount, taxableBase + taxAmount
}

// discountAmount never exceeds the subtotal: the taxable base cannot go
// negative no matter how large the configured discount is.
func discountAmount(subtotal int64, discount Discount) int64 {
	var amount int64
	switch discount.Kind {
	case DiscountPercentage:
		amount = rateAmount(subtotal, discount.Value)
	case DiscountFixed:
		amount = discount.Value
	default:
		return 0
	}
	if amount > subtotal {
		return subtotal
	}
	if amount < 0 {
		return 0
	}
	return amount
}

func rateAmount(base, bps int64) int64 {
	if bps == 0 || base == 0 {
		return 0
	}
	return decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(bps)).
		Div(bpsDivisor).
		Round(0).
		IntPart()
}
