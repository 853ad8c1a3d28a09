// Package billingrun materializes due recurring agreements into invoices.
// Each agreement is processed in its own transaction: totals, number,
// invoice row, line snapshots, and schedule advancement commit as one unit
// or not at all. One agreement failing never aborts the rest of the run.
package billingrun

import (
	"context"
	"errors"
	"time"

	agreementdomain "github.com/Torqvoice/torqvoice-sub001/internal/agreement/domain"
	auditdomain "github.com/Torqvoice/torqvoice-sub001/internal/audit/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/events"
	invoicedomain "github.com/Torqvoice/torqvoice-sub001/internal/invoice/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/invoice/sequence"
	"github.com/Torqvoice/torqvoice-sub001/internal/money"
	"github.com/Torqvoice/torqvoice-sub001/internal/observability/metrics"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	"github.com/Torqvoice/torqvoice-sub001/internal/schedule"
	"github.com/Torqvoice/torqvoice-sub001/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errNotDue marks an agreement that another run advanced first; it is a
// skip, not a failure.
var errNotDue = errors.New("agreement_no_longer_due")

// Result is one successful materialization.
type Result struct {
	AgreementID   snowflake.ID `json:"agreement_id"`
	InvoiceID     snowflake.ID `json:"invoice_id"`
	InvoiceNumber string       `json:"invoice_number"`
}

// RunResult is what a billing run reports back. Per-agreement failures are
// counted, not surfaced as errors.
type RunResult struct {
	ProcessedCount int      `json:"processed_count"`
	FailedCount    int      `json:"failed_count"`
	Results        []Result `json:"results"`
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Seq     *sequence.Sequencer
	Metrics *metrics.BillingMetrics `optional:"true"`
	Config  Config                  `optional:"true"`

	AuditSvc  auditdomain.Service
	Publisher events.Publisher
}

type Processor struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	seq     *sequence.Sequencer
	metrics *metrics.BillingMetrics

	auditSvc  auditdomain.Service
	publisher events.Publisher
}

func New(p Params) *Processor {
	return &Processor{
		db:      p.DB,
		log:     p.Log.Named("billingrun"),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		seq:     p.Seq,
		metrics: p.Metrics,

		auditSvc:  p.AuditSvc,
		publisher: p.Publisher,
	}
}

// RunDueBilling finds agreements with next_run_date <= now and materializes
// each into an invoice. When the context carries an organization the run is
// scoped to it; the scheduler runs unscoped across all organizations.
func (p *Processor) RunDueBilling(ctx context.Context) (RunResult, error) {
	start := p.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	p.metrics.IncRun()

	due, err := p.findDue(ctx, start)
	if err != nil {
		// Failing to even start the run is the one hard error.
		return RunResult{}, err
	}

	result := RunResult{Results: []Result{}}
	for _, agreement := range due {
		if ctx.Err() != nil {
			p.log.Warn("billing run stopped early", zap.Error(ctx.Err()))
			break
		}

		materialized, err := p.processAgreement(ctx, agreement)
		if errors.Is(err, errNotDue) {
			continue
		}
		if err != nil {
			result.FailedCount++
			p.log.Error("agreement materialization failed, will retry next run",
				zap.Int64("agreement_id", int64(agreement.ID)),
				zap.Int64("org_id", int64(agreement.OrgID)),
				zap.Error(err),
			)
			continue
		}
		result.ProcessedCount++
		result.Results = append(result.Results, materialized)
	}

	p.metrics.AddProcessed(result.ProcessedCount)
	p.metrics.AddFailed(result.FailedCount)
	p.metrics.ObserveRunDuration(p.clock.Now().Sub(start))

	p.log.Info("billing run finished",
		zap.Int("due", len(due)),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("failed", result.FailedCount),
	)
	return result, nil
}

func (p *Processor) findDue(ctx context.Context, now time.Time) ([]agreementdomain.Agreement, error) {
	stmt := p.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("next_run_date <= ?", now)
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok && orgID != 0 {
		stmt = stmt.Where("org_id = ?", orgID)
	}

	var due []agreementdomain.Agreement
	err := stmt.Order("next_run_date asc").
		Limit(p.cfg.BatchSize).
		Find(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}

// processAgreement runs the four materialization sub-steps in one
// transaction and retries the whole unit once when it loses an invoice
// number race.
func (p *Processor) processAgreement(ctx context.Context, agreement agreementdomain.Agreement) (Result, error) {
	result, err := p.materialize(ctx, agreement)
	if err == nil || errors.Is(err, errNotDue) || !db.IsDuplicateKeyErr(err) {
		return result, err
	}

	p.metrics.IncNumberConflict()
	p.log.Warn("invoice number conflict during billing run, retrying once",
		zap.Int64("agreement_id", int64(agreement.ID)),
		zap.Int64("org_id", int64(agreement.OrgID)),
	)
	return p.materialize(ctx, agreement)
}

func (p *Processor) materialize(ctx context.Context, agreement agreementdomain.Agreement) (Result, error) {
	now := p.clock.Now()

	var (
		invoice  invoicedomain.Invoice
		advanced agreementdomain.Agreement
	)
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := p.reloadDue(ctx, tx, agreement.ID, now)
		if err != nil {
			return err
		}

		parts, labor, err := p.loadTemplate(ctx, tx, current.ID)
		if err != nil {
			return err
		}

		moneyInput := money.Input{
			FlatCost:   current.FlatCost,
			Discount:   money.Discount{Kind: current.DiscountKind, Value: current.DiscountValue},
			TaxRateBps: current.TaxRateBps,
		}
		for _, line := range parts {
			moneyInput.Parts = append(moneyInput.Parts, money.PartInput{Quantity: line.Quantity, UnitPrice: line.UnitPrice})
		}
		for _, line := range labor {
			moneyInput.Labor = append(moneyInput.Labor, money.LaborInput{Hours: line.Hours, Rate: line.Rate})
		}
		totals := money.Compute(moneyInput)

		invoiceNumber, err := p.seq.Next(ctx, tx, current.OrgID, now)
		if err != nil {
			return err
		}

		agreementID := current.ID
		invoice = invoicedomain.Invoice{
			ID:             p.genID.Generate(),
			OrgID:          current.OrgID,
			InvoiceNumber:  invoiceNumber,
			AgreementID:    &agreementID,
			VehicleID:      current.VehicleID,
			Title:          current.Title,
			ServiceDate:    now,
			Notes:          current.InvoiceNotes,
			FlatCost:       current.FlatCost,
			Subtotal:       totals.Subtotal,
			DiscountKind:   current.DiscountKind,
			DiscountValue:  current.DiscountValue,
			DiscountAmount: totals.DiscountAmount,
			TaxRateBps:     current.TaxRateBps,
			TaxAmount:      totals.TaxAmount,
			TotalAmount:    totals.TotalAmount,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		if err := p.snapshotLines(ctx, tx, &invoice, parts, labor); err != nil {
			return err
		}

		nextRun, err := schedule.NextRunDate(current.NextRunDate, current.Frequency)
		if err != nil {
			return err
		}

		advanced = *current
		advanced.LastRunAt = &now
		advanced.RunCount = current.RunCount + 1
		advanced.NextRunDate = nextRun
		if current.EndDate != nil && nextRun.After(*current.EndDate) {
			advanced.IsActive = false
		}
		advanced.UpdatedAt = now

		return tx.Model(&agreementdomain.Agreement{}).
			Where("id = ?", current.ID).
			Updates(map[string]any{
				"last_run_at":   advanced.LastRunAt,
				"run_count":     advanced.RunCount,
				"next_run_date": advanced.NextRunDate,
				"is_active":     advanced.IsActive,
				"updated_at":    advanced.UpdatedAt,
			}).Error
	})
	if err != nil {
		return Result{}, err
	}

	p.emitAudit(ctx, &invoice, &advanced)
	p.publishCreated(ctx, &invoice)

	return Result{
		AgreementID:   advanced.ID,
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
	}, nil
}

// reloadDue re-reads the agreement inside the transaction and re-checks
// dueness, so two overlapping runs cannot bill the same agreement twice. On
// postgres the row is locked for the duration of the materialization.
func (p *Processor) reloadDue(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (*agreementdomain.Agreement, error) {
	query := `SELECT * FROM agreements WHERE id = ?`
	if tx.Dialector.Name() == "postgres" {
		query += ` FOR UPDATE`
	}

	var current agreementdomain.Agreement
	err := tx.WithContext(ctx).Raw(query, id).Scan(&current).Error
	if err != nil {
		return nil, err
	}
	if current.ID == 0 || !current.IsActive || current.NextRunDate.After(now) {
		return nil, errNotDue
	}
	return &current, nil
}

func (p *Processor) loadTemplate(ctx context.Context, tx *gorm.DB, agreementID snowflake.ID) ([]agreementdomain.AgreementPart, []agreementdomain.AgreementLabor, error) {
	var parts []agreementdomain.AgreementPart
	if err := tx.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("position asc").
		Find(&parts).Error; err != nil {
		return nil, nil, err
	}

	var labor []agreementdomain.AgreementLabor
	if err := tx.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("position asc").
		Find(&labor).Error; err != nil {
		return nil, nil, err
	}
	return parts, labor, nil
}

// snapshotLines copies the template lines onto the invoice. Later edits to
// the agreement never touch these rows.
func (p *Processor) snapshotLines(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, parts []agreementdomain.AgreementPart, labor []agreementdomain.AgreementLabor) error {
	partRows := make([]invoicedomain.InvoicePart, 0, len(parts))
	for i, line := range parts {
		partRows = append(partRows, invoicedomain.InvoicePart{
			ID:         p.genID.Generate(),
			OrgID:      invoice.OrgID,
			InvoiceID:  invoice.ID,
			Position:   i,
			Name:       line.Name,
			PartNumber: line.PartNumber,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			Total:      money.PartLineTotal(line.Quantity, line.UnitPrice),
		})
	}
	if len(partRows) > 0 {
		if err := tx.WithContext(ctx).Create(&partRows).Error; err != nil {
			return err
		}
	}

	laborRows := make([]invoicedomain.InvoiceLabor, 0, len(labor))
	for i, line := range labor {
		laborRows = append(laborRows, invoicedomain.InvoiceLabor{
			ID:          p.genID.Generate(),
			OrgID:       invoice.OrgID,
			InvoiceID:   invoice.ID,
			Position:    i,
			Description: line.Description,
			Hours:       line.Hours,
			Rate:        line.Rate,
			Total:       money.LaborLineTotal(line.Hours, line.Rate),
		})
	}
	if len(laborRows) > 0 {
		if err := tx.WithContext(ctx).Create(&laborRows).Error; err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) emitAudit(ctx context.Context, invoice *invoicedomain.Invoice, agreement *agreementdomain.Agreement) {
	if p.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"agreement_id":   agreement.ID.String(),
		"total_amount":   invoice.TotalAmount,
		"run_count":      agreement.RunCount,
		"next_run_date":  agreement.NextRunDate.Format(time.RFC3339),
		"is_active":      agreement.IsActive,
	}

	targetID := invoice.ID.String()
	orgID := invoice.OrgID
	_ = p.auditSvc.AuditLog(ctx, &orgID, "", nil, "invoice.generated", "invoice", &targetID, metadata)
}

func (p *Processor) publishCreated(ctx context.Context, invoice *invoicedomain.Invoice) {
	if p.publisher == nil || invoice == nil {
		return
	}
	_ = p.publisher.Publish(ctx, events.TopicInvoiceCreated, map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"org_id":         invoice.OrgID.String(),
		"total_amount":   invoice.TotalAmount,
	})
}
