package billingrun_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	agreementdomain "github.com/Torqvoice/torqvoice-sub001/internal/agreement/domain"
	auditdomain "github.com/Torqvoice/torqvoice-sub001/internal/audit/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/billingrun"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/config"
	"github.com/Torqvoice/torqvoice-sub001/internal/events"
	invoicedomain "github.com/Torqvoice/torqvoice-sub001/internal/invoice/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/invoice/sequence"
	"github.com/Torqvoice/torqvoice-sub001/internal/money"
	organizationdomain "github.com/Torqvoice/torqvoice-sub001/internal/organization/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	"github.com/Torqvoice/torqvoice-sub001/internal/schedule"
	settingsdomain "github.com/Torqvoice/torqvoice-sub001/internal/settings/domain"
	vehicledomain "github.com/Torqvoice/torqvoice-sub001/internal/vehicle/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (noopAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	clk       *clock.FakeClock
	processor *billingrun.Processor
	orgID     snowflake.ID
	vehicleID snowflake.ID
}

var runTime = time.Date(2026, time.July, 1, 6, 0, 0, 0, time.UTC)

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&organizationdomain.Organization{},
		&settingsdomain.OrgSetting{},
		&vehicledomain.Vehicle{},
		&agreementdomain.Agreement{},
		&agreementdomain.AgreementPart{},
		&agreementdomain.AgreementLabor{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoicePart{},
		&invoicedomain.InvoiceLabor{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(14)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(runTime)

	org := organizationdomain.Organization{
		ID:        node.Generate(),
		Name:      "Main Shop",
		Slug:      fmt.Sprintf("main-%d", time.Now().UnixNano()),
		CreatedAt: runTime,
	}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}

	vehicle := vehicledomain.Vehicle{
		ID:           node.Generate(),
		OrgID:        org.ID,
		CustomerName: "Miguel Santos",
		Make:         "Toyota",
		Model:        "Tacoma",
		Year:         2020,
		CreatedAt:    runTime,
	}
	if err := db.Create(&vehicle).Error; err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}

	processor := billingrun.New(billingrun.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Seq: sequence.New(sequence.Param{
			Log:     zap.NewNop(),
			Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		}),
		AuditSvc:  noopAuditService{},
		Publisher: events.NewNoopPublisher(),
	})

	return &fixture{
		db:        db,
		node:      node,
		clk:       clk,
		processor: processor,
		orgID:     org.ID,
		vehicleID: vehicle.ID,
	}
}

type agreementOpts struct {
	frequency   schedule.Frequency
	nextRunDate time.Time
	endDate     *time.Time
	isActive    bool
	taxRateBps  int64
	orgID       snowflake.ID
}

func seedAgreement(t *testing.T, f *fixture, opts agreementOpts) agreementdomain.Agreement {
	t.Helper()

	if opts.orgID == 0 {
		opts.orgID = f.orgID
	}
	agreement := agreementdomain.Agreement{
		ID:           f.node.Generate(),
		OrgID:        opts.orgID,
		VehicleID:    f.vehicleID,
		Title:        "Monthly maintenance",
		ServiceType:  "maintenance",
		Frequency:    opts.frequency,
		NextRunDate:  opts.nextRunDate,
		EndDate:      opts.endDate,
		IsActive:     opts.isActive,
		DiscountKind: money.DiscountNone,
		TaxRateBps:   opts.taxRateBps,
		CreatedAt:    runTime.Add(-24 * time.Hour),
		UpdatedAt:    runTime.Add(-24 * time.Hour),
	}
	if err := f.db.Create(&agreement).Error; err != nil {
		t.Fatalf("seed agreement: %v", err)
	}
	if !opts.isActive {
		// gorm omits zero-value fields carrying a default tag on Create, so
		// is_active must be forced to false after the insert.
		if err := f.db.Model(&agreement).Update("is_active", false).Error; err != nil {
			t.Fatalf("seed agreement inactive: %v", err)
		}
	}

	lines := []agreementdomain.AgreementPart{
		{ID: f.node.Generate(), OrgID: agreement.OrgID, AgreementID: agreement.ID, Position: 0, Name: "Oil filter", Quantity: 1, UnitPrice: 1299},
		{ID: f.node.Generate(), OrgID: agreement.OrgID, AgreementID: agreement.ID, Position: 1, Name: "Synthetic oil (qt)", Quantity: 6, UnitPrice: 899},
	}
	if err := f.db.Create(&lines).Error; err != nil {
		t.Fatalf("seed parts: %v", err)
	}
	labor := agreementdomain.AgreementLabor{
		ID: f.node.Generate(), OrgID: agreement.OrgID, AgreementID: agreement.ID,
		Position: 0, Description: "Oil change", Hours: decimal.NewFromFloat(0.5), Rate: 9500,
	}
	if err := f.db.Create(&labor).Error; err != nil {
		t.Fatalf("seed labor: %v", err)
	}
	return agreement
}

func TestRunDueBillingMaterializesDueAgreement(t *testing.T) {
	f := setupFixture(t)
	agreement := seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Monthly,
		nextRunDate: runTime.Add(-time.Hour),
		isActive:    true,
		taxRateBps:  825,
	})

	result, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ProcessedCount != 1 || result.FailedCount != 0 {
		t.Fatalf("processed = %d, failed = %d; want 1, 0", result.ProcessedCount, result.FailedCount)
	}
	if len(result.Results) != 1 || result.Results[0].AgreementID != agreement.ID {
		t.Fatalf("results = %+v, want one entry for agreement %d", result.Results, agreement.ID)
	}

	var invoice invoicedomain.Invoice
	if err := f.db.First(&invoice, "id = ?", result.Results[0].InvoiceID).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if invoice.InvoiceNumber != "INV-2026-1001" {
		t.Fatalf("invoice number = %q, want INV-2026-1001", invoice.InvoiceNumber)
	}
	// parts 1299 + 5394, labor 0.5h x 9500 = 4750 -> subtotal 11443
	if invoice.Subtotal != 11443 {
		t.Fatalf("subtotal = %d, want 11443", invoice.Subtotal)
	}
	if got := invoice.Subtotal - invoice.DiscountAmount + invoice.TaxAmount; invoice.TotalAmount != got {
		t.Fatalf("total = %d, identity gives %d", invoice.TotalAmount, got)
	}
	if invoice.AgreementID == nil || *invoice.AgreementID != agreement.ID {
		t.Fatal("invoice should reference its agreement")
	}

	var partCount, laborCount int64
	f.db.Model(&invoicedomain.InvoicePart{}).Where("invoice_id = ?", invoice.ID).Count(&partCount)
	f.db.Model(&invoicedomain.InvoiceLabor{}).Where("invoice_id = ?", invoice.ID).Count(&laborCount)
	if partCount != 2 || laborCount != 1 {
		t.Fatalf("snapshot lines = %d parts, %d labor; want 2, 1", partCount, laborCount)
	}

	var advanced agreementdomain.Agreement
	if err := f.db.First(&advanced, "id = ?", agreement.ID).Error; err != nil {
		t.Fatalf("reload agreement: %v", err)
	}
	if advanced.RunCount != 1 {
		t.Fatalf("run count = %d, want 1", advanced.RunCount)
	}
	if advanced.LastRunAt == nil || !advanced.LastRunAt.Equal(runTime) {
		t.Fatalf("last run at = %v, want %s", advanced.LastRunAt, runTime)
	}
	wantNext := agreement.NextRunDate.UTC().AddDate(0, 1, 0)
	if !advanced.NextRunDate.UTC().Equal(wantNext) {
		t.Fatalf("next run date = %s, want %s", advanced.NextRunDate.UTC(), wantNext)
	}
	if !advanced.IsActive {
		t.Fatal("agreement should stay active")
	}
}

func TestRunDueBillingIsIdempotentAcrossInvocations(t *testing.T) {
	f := setupFixture(t)
	seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Monthly,
		nextRunDate: runTime.Add(-time.Hour),
		isActive:    true,
	})

	first, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.ProcessedCount != 1 {
		t.Fatalf("first run processed = %d, want 1", first.ProcessedCount)
	}

	// The agreement advanced past now; the second run naturally finds
	// nothing due.
	second, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.ProcessedCount != 0 || second.FailedCount != 0 {
		t.Fatalf("second run = %+v, want nothing processed", second)
	}

	var invoiceCount int64
	f.db.Model(&invoicedomain.Invoice{}).Count(&invoiceCount)
	if invoiceCount != 1 {
		t.Fatalf("invoice count = %d, want 1", invoiceCount)
	}
}

func TestRunDueBillingDeactivatesPastEndDate(t *testing.T) {
	f := setupFixture(t)
	endDate := runTime.AddDate(0, 0, 7)
	agreement := seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Monthly,
		nextRunDate: runTime.Add(-time.Hour),
		endDate:     &endDate,
		isActive:    true,
	})

	result, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ProcessedCount != 1 {
		t.Fatalf("processed = %d, want 1", result.ProcessedCount)
	}

	var advanced agreementdomain.Agreement
	if err := f.db.First(&advanced, "id = ?", agreement.ID).Error; err != nil {
		t.Fatalf("reload agreement: %v", err)
	}
	// The computed next run exceeds the end date: the final invoice was
	// still issued, and the agreement is deactivated rather than deleted.
	if advanced.IsActive {
		t.Fatal("agreement should be deactivated past its end date")
	}
	if advanced.RunCount != 1 {
		t.Fatalf("run count = %d, want 1", advanced.RunCount)
	}

	second, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.ProcessedCount != 0 {
		t.Fatal("deactivated agreement must not be billed again")
	}
}

func TestRunDueBillingSkipsInactiveAndFuture(t *testing.T) {
	f := setupFixture(t)
	seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Weekly,
		nextRunDate: runTime.Add(-time.Hour),
		isActive:    false,
	})
	seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Weekly,
		nextRunDate: runTime.AddDate(0, 0, 3),
		isActive:    true,
	})

	result, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ProcessedCount != 0 {
		t.Fatalf("processed = %d, want 0", result.ProcessedCount)
	}
}

func TestRunDueBillingIsolatesFailures(t *testing.T) {
	f := setupFixture(t)
	// A corrupt frequency makes schedule advancement fail for this one.
	bad := seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Frequency("EVERY_FULL_MOON"),
		nextRunDate: runTime.Add(-2 * time.Hour),
		isActive:    true,
	})
	good := seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Monthly,
		nextRunDate: runTime.Add(-time.Hour),
		isActive:    true,
	})

	result, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ProcessedCount != 1 || result.FailedCount != 1 {
		t.Fatalf("processed = %d, failed = %d; want 1, 1", result.ProcessedCount, result.FailedCount)
	}
	if result.Results[0].AgreementID != good.ID {
		t.Fatalf("processed agreement = %d, want %d", result.Results[0].AgreementID, good.ID)
	}

	// The failed unit rolled back whole: no orphan invoice, schedule state
	// untouched, still due next run.
	var badInvoices int64
	f.db.Model(&invoicedomain.Invoice{}).Where("agreement_id = ?", bad.ID).Count(&badInvoices)
	if badInvoices != 0 {
		t.Fatalf("orphan invoices = %d, want 0", badInvoices)
	}
	var reloaded agreementdomain.Agreement
	if err := f.db.First(&reloaded, "id = ?", bad.ID).Error; err != nil {
		t.Fatalf("reload bad agreement: %v", err)
	}
	if reloaded.RunCount != 0 || reloaded.LastRunAt != nil {
		t.Fatalf("failed agreement advanced: run_count=%d last_run_at=%v", reloaded.RunCount, reloaded.LastRunAt)
	}
	if !reloaded.NextRunDate.UTC().Equal(bad.NextRunDate.UTC()) {
		t.Fatal("failed agreement next_run_date must be unchanged")
	}
}

func TestRunDueBillingRollsBackOnWriteFailure(t *testing.T) {
	f := setupFixture(t)
	agreement := seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Monthly,
		nextRunDate: runTime.Add(-time.Hour),
		isActive:    true,
	})

	// Simulate a mid-transaction write failure: the labor snapshot insert
	// hits a missing table.
	if err := f.db.Exec(`DROP TABLE invoice_labor`).Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}

	result, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ProcessedCount != 0 || result.FailedCount != 1 {
		t.Fatalf("processed = %d, failed = %d; want 0, 1", result.ProcessedCount, result.FailedCount)
	}

	var invoiceCount int64
	f.db.Model(&invoicedomain.Invoice{}).Count(&invoiceCount)
	if invoiceCount != 0 {
		t.Fatalf("invoice rows = %d, want 0 after rollback", invoiceCount)
	}

	var reloaded agreementdomain.Agreement
	if err := f.db.First(&reloaded, "id = ?", agreement.ID).Error; err != nil {
		t.Fatalf("reload agreement: %v", err)
	}
	if reloaded.RunCount != 0 || !reloaded.NextRunDate.UTC().Equal(agreement.NextRunDate.UTC()) {
		t.Fatal("agreement must remain due after a failed materialization")
	}
}

func TestRunDueBillingScopedByContextOrganization(t *testing.T) {
	f := setupFixture(t)

	other := organizationdomain.Organization{
		ID:        f.node.Generate(),
		Name:      "Second Shop",
		Slug:      fmt.Sprintf("second-%d", time.Now().UnixNano()),
		CreatedAt: runTime,
	}
	if err := f.db.Create(&other).Error; err != nil {
		t.Fatalf("seed second org: %v", err)
	}

	seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Monthly,
		nextRunDate: runTime.Add(-time.Hour),
		isActive:    true,
	})
	seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Monthly,
		nextRunDate: runTime.Add(-time.Hour),
		isActive:    true,
		orgID:       other.ID,
	})

	ctx := orgcontext.WithOrgID(context.Background(), int64(f.orgID))
	result, err := f.processor.RunDueBilling(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ProcessedCount != 1 {
		t.Fatalf("processed = %d, want only the context org's agreement", result.ProcessedCount)
	}

	var otherInvoices int64
	f.db.Model(&invoicedomain.Invoice{}).Where("org_id = ?", other.ID).Count(&otherInvoices)
	if otherInvoices != 0 {
		t.Fatal("scoped run must not bill other organizations")
	}
}

func TestRunDueBillingNumbersStayUniquePerOrg(t *testing.T) {
	f := setupFixture(t)
	for i := 0; i < 5; i++ {
		seedAgreement(t, f, agreementOpts{
			frequency:   schedule.Monthly,
			nextRunDate: runTime.Add(-time.Duration(i+1) * time.Hour),
			isActive:    true,
		})
	}

	result, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ProcessedCount != 5 {
		t.Fatalf("processed = %d, want 5", result.ProcessedCount)
	}

	seen := map[string]bool{}
	for _, r := range result.Results {
		if seen[r.InvoiceNumber] {
			t.Fatalf("duplicate invoice number %q", r.InvoiceNumber)
		}
		seen[r.InvoiceNumber] = true
	}

	var distinct int64
	if err := f.db.Model(&invoicedomain.Invoice{}).
		Where("org_id = ?", f.orgID).
		Distinct("invoice_number").
		Count(&distinct).Error; err != nil {
		t.Fatalf("count distinct: %v", err)
	}
	if distinct != 5 {
		t.Fatalf("distinct numbers = %d, want 5", distinct)
	}
}

func seedInvoiceRow(t *testing.T, f *fixture, number string, createdAt time.Time) {
	t.Helper()

	row := invoicedomain.Invoice{
		ID:            f.node.Generate(),
		OrgID:         f.orgID,
		InvoiceNumber: number,
		VehicleID:     f.vehicleID,
		Title:         "Imported invoice",
		ServiceDate:   createdAt,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if err := f.db.Create(&row).Error; err != nil {
		t.Fatalf("seed invoice %s: %v", number, err)
	}
}

func TestRunDueBillingNumberConflictLeavesAgreementDue(t *testing.T) {
	f := setupFixture(t)

	// The most recent number trails an older one, so materialization
	// collides with a number already on file on both the first attempt and
	// the retry. The whole unit must roll back and stay due.
	seedInvoiceRow(t, f, "INV-2026-1300", runTime.Add(-48*time.Hour))
	seedInvoiceRow(t, f, "INV-2026-1299", runTime.Add(-24*time.Hour))

	agreement := seedAgreement(t, f, agreementOpts{
		frequency:   schedule.Monthly,
		nextRunDate: runTime.Add(-time.Hour),
		isActive:    true,
	})

	result, err := f.processor.RunDueBilling(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ProcessedCount != 0 || result.FailedCount != 1 {
		t.Fatalf("processed = %d, failed = %d; want 0 and 1", result.ProcessedCount, result.FailedCount)
	}

	var total int64
	f.db.Model(&invoicedomain.Invoice{}).Where("org_id = ?", f.orgID).Count(&total)
	if total != 2 {
		t.Fatalf("invoices = %d, want the 2 seeded rows and nothing else", total)
	}
	var clashes int64
	f.db.Model(&invoicedomain.Invoice{}).
		Where("org_id = ? AND invoice_number = ?", f.orgID, "INV-2026-1300").
		Count(&clashes)
	if clashes != 1 {
		t.Fatalf("rows with contested number = %d, want 1", clashes)
	}

	var current agreementdomain.Agreement
	if err := f.db.First(&current, "id = ?", agreement.ID).Error; err != nil {
		t.Fatalf("reload agreement: %v", err)
	}
	if current.RunCount != 0 || !current.NextRunDate.Equal(agreement.NextRunDate) {
		t.Fatalf("agreement advanced despite rollback: runCount=%d nextRunDate=%s", current.RunCount, current.NextRunDate)
	}
}

func TestRunDueBillingConcurrentRunsNeverDuplicate(t *testing.T) {
	f := setupFixture(t)
	for i := 0; i < 5; i++ {
		seedAgreement(t, f, agreementOpts{
			frequency:   schedule.Monthly,
			nextRunDate: runTime.Add(-time.Duration(i+1) * time.Hour),
			isActive:    true,
		})
	}

	// One pooled connection makes each materialization transaction an
	// atomic interleaving unit, the same shape as single-writer sqlite in
	// production. The in-transaction dueness re-check decides which run
	// bills each agreement.
	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	results := make([]billingrun.RunResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.processor.RunDueBilling(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	processed := results[0].ProcessedCount + results[1].ProcessedCount
	failed := results[0].FailedCount + results[1].FailedCount
	if processed != 5 || failed != 0 {
		t.Fatalf("processed = %d, failed = %d; want 5 and 0 across both runs", processed, failed)
	}

	seen := map[string]bool{}
	for _, result := range results {
		for _, r := range result.Results {
			if seen[r.InvoiceNumber] {
				t.Fatalf("duplicate invoice number %q", r.InvoiceNumber)
			}
			seen[r.InvoiceNumber] = true
		}
	}

	var total int64
	f.db.Model(&invoicedomain.Invoice{}).Where("org_id = ?", f.orgID).Count(&total)
	if total != 5 {
		t.Fatalf("invoices = %d, want exactly one per agreement", total)
	}
	var distinct int64
	f.db.Model(&invoicedomain.Invoice{}).
		Where("org_id = ?", f.orgID).
		Distinct("invoice_number").
		Count(&distinct)
	if distinct != 5 {
		t.Fatalf("distinct numbers = %d, want 5", distinct)
	}
}
