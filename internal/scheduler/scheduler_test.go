package scheduler_test

import (
	"context"
	"fmt"
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
	"github.com/Torqvoice/torqvoice-sub001/internal/schedule"
	"github.com/Torqvoice/torqvoice-sub001/internal/scheduler"
	settingsdomain "github.com/Torqvoice/torqvoice-sub001/internal/settings/domain"
	vehicledomain "github.com/Torqvoice/torqvoice-sub001/internal/vehicle/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
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

var runTime = time.Date(2026, time.August, 3, 7, 0, 0, 0, time.UTC)

func setupScheduler(t *testing.T) (*scheduler.Scheduler, *gorm.DB) {
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

	node, err := snowflake.NewNode(17)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(runTime)

	org := organizationdomain.Organization{
		ID:        node.Generate(),
		Name:      "Night Shift Garage",
		Slug:      fmt.Sprintf("night-shift-%d", time.Now().UnixNano()),
		CreatedAt: runTime,
	}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	vehicle := vehicledomain.Vehicle{
		ID:           node.Generate(),
		OrgID:        org.ID,
		CustomerName: "Dana Whitfield",
		Make:         "Subaru",
		Model:        "Outback",
		Year:         2019,
		CreatedAt:    runTime,
	}
	if err := db.Create(&vehicle).Error; err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}

	agreement := agreementdomain.Agreement{
		ID:           node.Generate(),
		OrgID:        org.ID,
		VehicleID:    vehicle.ID,
		Title:        "Weekly fleet check",
		ServiceType:  "inspection",
		Frequency:    schedule.Weekly,
		NextRunDate:  runTime.Add(-time.Hour),
		IsActive:     true,
		DiscountKind: money.DiscountNone,
		CreatedAt:    runTime.Add(-48 * time.Hour),
		UpdatedAt:    runTime.Add(-48 * time.Hour),
	}
	if err := db.Create(&agreement).Error; err != nil {
		t.Fatalf("seed agreement: %v", err)
	}
	part := agreementdomain.AgreementPart{
		ID:          node.Generate(),
		OrgID:       org.ID,
		AgreementID: agreement.ID,
		Position:    0,
		Name:        "Wiper blades",
		Quantity:    2,
		UnitPrice:   1850,
	}
	if err := db.Create(&part).Error; err != nil {
		t.Fatalf("seed part: %v", err)
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

	sched := scheduler.New(scheduler.Params{
		Log:       zap.NewNop(),
		Clock:     clk,
		Processor: processor,
	})
	return sched, db
}

func TestRunOnceMaterializesDueAgreements(t *testing.T) {
	sched, db := setupScheduler(t)

	result, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if result.ProcessedCount != 1 {
		t.Fatalf("expected 1 processed, got %d", result.ProcessedCount)
	}
	if result.FailedCount != 0 {
		t.Fatalf("expected 0 failed, got %d", result.FailedCount)
	}

	var count int64
	if err := db.Model(&invoicedomain.Invoice{}).Count(&count).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 invoice, got %d", count)
	}
}

func TestRunOnceIsIdempotentUntilNextDueDate(t *testing.T) {
	sched, db := setupScheduler(t)

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.ProcessedCount != 0 {
		t.Fatalf("expected 0 processed on second run, got %d", result.ProcessedCount)
	}

	var count int64
	if err := db.Model(&invoicedomain.Invoice{}).Count(&count).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 invoice after repeat run, got %d", count)
	}
}

func TestStartRejectsInvalidCronSpec(t *testing.T) {
	sched, _ := setupScheduler(t)

	if err := sched.Start("not a cron spec"); err == nil {
		t.Fatal("expected invalid cron spec to be rejected")
	}
}
