// Package sequence issues invoice numbers. Numbers are strictly increasing
// per organization and never reused, even when a batch billing run races a
// direct invoice creation. Two mechanisms enforce that:
//
//   - on postgres, the organization row is locked FOR UPDATE for the
//     duration of the issuing transaction, serializing read-last-number
//     against insert;
//   - everywhere, the unique index on (org_id, invoice_number) rejects the
//     loser of any race that slips through, and callers retry once with a
//     freshly read last number.
package sequence

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Torqvoice/torqvoice-sub001/internal/config"
	invoicedomain "github.com/Torqvoice/torqvoice-sub001/internal/invoice/domain"
	settingsdomain "github.com/Torqvoice/torqvoice-sub001/internal/settings/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Param struct {
	fx.In

	Log     *zap.Logger
	Billing *config.BillingConfigHolder
}

// Sequencer derives the next invoice number inside the caller's
// transaction. It never commits; the issued number only becomes visible
// together with the invoice row it was issued for.
type Sequencer struct {
	log     *zap.Logger
	billing *config.BillingConfigHolder
}

func New(p Param) *Sequencer {
	return &Sequencer{
		log:     p.Log.Named("invoice.sequence"),
		billing: p.Billing,
	}
}

// Next issues the next invoice number for the organization. Must be called
// inside tx; the returned number is only valid if tx commits.
func (s *Sequencer) Next(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, now time.Time) (string, error) {
	if err := s.lockOrganization(ctx, tx, orgID); err != nil {
		return "", err
	}

	prefixTemplate, err := s.lookupSetting(ctx, tx, orgID, settingsdomain.KeyInvoicePrefix)
	if err != nil {
		return "", err
	}
	if prefixTemplate == "" {
		prefixTemplate = s.billing.Get().InvoicePrefix
	}
	prefix := ResolvePrefix(prefixTemplate, now)

	base := s.billing.Get().InvoiceNumberBase
	offsetRaw, err := s.lookupSetting(ctx, tx, orgID, settingsdomain.KeyInvoiceStartNumber)
	if err != nil {
		return "", err
	}
	hasOffset := false
	if offsetRaw != "" {
		offset, parseErr := strconv.ParseInt(offsetRaw, 10, 64)
		if parseErr == nil && offset > 0 {
			base = offset
			hasOffset = true
		}
	}

	last, err := s.lastIssuedNumber(ctx, tx, orgID)
	if err != nil {
		return "", err
	}

	candidate := base
	if last+1 > candidate {
		candidate = last + 1
	}

	// The starting offset asserts itself exactly once. Clearing it in the
	// issuing transaction means a rollback leaves it in place for the
	// retry.
	if hasOffset {
		if err := tx.WithContext(ctx).
			Where("org_id = ? AND key = ?", orgID, settingsdomain.KeyInvoiceStartNumber).
			Delete(&settingsdomain.OrgSetting{}).Error; err != nil {
			return "", err
		}
	}

	return prefix + strconv.FormatInt(candidate, 10), nil
}

// lockOrganization serializes number issuance per organization. Sqlite has
// no row locks; there the unique index plus caller retry carries the
// invariant alone, and single-writer sqlite cannot interleave anyway.
func (s *Sequencer) lockOrganization(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	var id snowflake.ID
	query := `SELECT id FROM organizations WHERE id = ?`
	if tx.Dialector.Name() == "postgres" {
		query += ` FOR UPDATE`
	}
	if err := tx.WithContext(ctx).Raw(query, orgID).Scan(&id).Error; err != nil {
		return err
	}
	if id == 0 {
		return invoicedomain.ErrInvalidOrganization
	}
	return nil
}

// lastIssuedNumber reads the trailing integer of the most recently issued
// invoice number. A number that does not parse (manually edited) falls back
// to zero so the configured base reasserts itself.
func (s *Sequencer) lastIssuedNumber(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int64, error) {
	var invoiceNumber string
	err := tx.WithContext(ctx).Raw(
		`SELECT invoice_number
		 FROM invoices
		 WHERE org_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		orgID,
	).Scan(&invoiceNumber).Error
	if err != nil {
		return 0, err
	}
	if invoiceNumber == "" {
		return 0, nil
	}

	last, ok := TrailingNumber(invoiceNumber)
	if !ok {
		s.log.Warn("last invoice number has no numeric suffix, falling back to base",
			zap.String("invoice_number", invoiceNumber),
			zap.Int64("org_id", int64(orgID)),
		)
		return 0, nil
	}
	return last, nil
}

func (s *Sequencer) lookupSetting(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, key string) (string, error) {
	var value string
	err := tx.WithContext(ctx).Raw(
		`SELECT value FROM org_settings WHERE org_id = ? AND key = ?`,
		orgID, key,
	).Scan(&value).Error
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// ResolvePrefix substitutes the {year} placeholder against the issuance
// time, so a template like "INV-{year}-" rolls over automatically at year
// boundaries.
func ResolvePrefix(template string, now time.Time) string {
	return strings.ReplaceAll(template, "{year}", strconv.Itoa(now.UTC().Year()))
}

// TrailingNumber extracts the trailing run of digits from an invoice
// number: "INV-2026-1042" yields 1042.
func TrailingNumber(invoiceNumber string) (int64, bool) {
	trimmed := strings.TrimSpace(invoiceNumber)
	end := len(trimmed)
	start := end
	for start > 0 && unicode.IsDigit(rune(trimmed[start-1])) {
		start--
	}
	if start == end {
		return 0, false
	}
	value, err := strconv.ParseInt(trimmed[start:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
