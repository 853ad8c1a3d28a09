package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	auditdomain "github.com/Torqvoice/torqvoice-sub001/internal/audit/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/events"
	invoicedomain "github.com/Torqvoice/torqvoice-sub001/internal/invoice/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	paymentdomain "github.com/Torqvoice/torqvoice-sub001/internal/payment/domain"
	paymentservice "github.com/Torqvoice/torqvoice-sub001/internal/payment/service"
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

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	paymentSvc paymentdomain.Service
	orgID      snowflake.ID
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(15)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	paymentSvc := paymentservice.NewService(paymentservice.ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2026, time.August, 2, 11, 0, 0, 0, time.UTC)),
		AuditSvc:  noopAuditService{},
		Publisher: events.NewNoopPublisher(),
	})

	return &fixture{
		db:         db,
		node:       node,
		paymentSvc: paymentSvc,
		orgID:      node.Generate(),
	}
}

func (f *fixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), int64(f.orgID))
}

func seedInvoice(t *testing.T, f *fixture, total int64) invoicedomain.Invoice {
	t.Helper()

	now := time.Now().UTC()
	invoice := invoicedomain.Invoice{
		ID:            f.node.Generate(),
		OrgID:         f.orgID,
		InvoiceNumber: fmt.Sprintf("INV-2026-%d", 1000+f.node.Generate()%1000),
		VehicleID:     f.node.Generate(),
		Title:         "Transmission service",
		ServiceDate:   now,
		Subtotal:      total,
		TotalAmount:   total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.db.Create(&invoice).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return invoice
}

func record(t *testing.T, f *fixture, invoiceID snowflake.ID, amount int64) paymentdomain.Ledger {
	t.Helper()

	ledger, err := f.paymentSvc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoiceID.String(),
		Amount:    amount,
		Method:    "cash",
	})
	if err != nil {
		t.Fatalf("record payment of %d: %v", amount, err)
	}
	return ledger
}

func TestLedgerPartialPayments(t *testing.T) {
	f := setupFixture(t)
	invoice := seedInvoice(t, f, 100)

	ledger := record(t, f, invoice.ID, 40)
	if ledger.Status != paymentdomain.StatusPartial || ledger.BalanceDue != 60 {
		t.Fatalf("after 40: status=%s balance=%d, want partial/60", ledger.Status, ledger.BalanceDue)
	}

	ledger = record(t, f, invoice.ID, 40)
	if ledger.Status != paymentdomain.StatusPartial || ledger.BalanceDue != 20 || ledger.TotalPaid != 80 {
		t.Fatalf("after 40+40: status=%s balance=%d paid=%d, want partial/20/80", ledger.Status, ledger.BalanceDue, ledger.TotalPaid)
	}
}

func TestLedgerExactPayment(t *testing.T) {
	f := setupFixture(t)
	invoice := seedInvoice(t, f, 100)

	ledger := record(t, f, invoice.ID, 100)
	if ledger.Status != paymentdomain.StatusPaid || ledger.BalanceDue != 0 {
		t.Fatalf("status=%s balance=%d, want paid/0", ledger.Status, ledger.BalanceDue)
	}
}

func TestLedgerOverpayment(t *testing.T) {
	f := setupFixture(t)
	invoice := seedInvoice(t, f, 100)

	ledger := record(t, f, invoice.ID, 120)
	if ledger.Status != paymentdomain.StatusPaid || ledger.BalanceDue != -20 {
		t.Fatalf("status=%s balance=%d, want paid/-20", ledger.Status, ledger.BalanceDue)
	}
}

func TestLedgerUnpaidByDefault(t *testing.T) {
	f := setupFixture(t)
	invoice := seedInvoice(t, f, 100)

	ledger, err := f.paymentSvc.LedgerFor(f.ctx(), invoice.ID.String())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.Status != paymentdomain.StatusUnpaid || ledger.BalanceDue != 100 || ledger.TotalPaid != 0 {
		t.Fatalf("ledger = %+v, want unpaid/100/0", ledger)
	}
}

func TestDeletePaymentRestoresBalance(t *testing.T) {
	f := setupFixture(t)
	invoice := seedInvoice(t, f, 100)

	record(t, f, invoice.ID, 40)
	ledger := record(t, f, invoice.ID, 60)
	if ledger.Status != paymentdomain.StatusPaid {
		t.Fatalf("status = %s, want paid", ledger.Status)
	}

	deleted, err := f.paymentSvc.Delete(f.ctx(), ledger.Payments[1].ID.String())
	if err != nil {
		t.Fatalf("delete payment: %v", err)
	}
	if deleted.Status != paymentdomain.StatusPartial || deleted.BalanceDue != 60 {
		t.Fatalf("after delete: status=%s balance=%d, want partial/60", deleted.Status, deleted.BalanceDue)
	}
	if len(deleted.Payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(deleted.Payments))
	}
}

func TestRecordPaymentValidation(t *testing.T) {
	f := setupFixture(t)
	invoice := seedInvoice(t, f, 100)

	if _, err := f.paymentSvc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    0,
	}); !errors.Is(err, paymentdomain.ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want %v", err, paymentdomain.ErrInvalidAmount)
	}

	if _, err := f.paymentSvc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    -50,
	}); !errors.Is(err, paymentdomain.ErrInvalidAmount) {
		t.Fatalf("negative amount err = %v, want %v", err, paymentdomain.ErrInvalidAmount)
	}

	if _, err := f.paymentSvc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    100,
		Method:    "barter",
	}); !errors.Is(err, paymentdomain.ErrInvalidMethod) {
		t.Fatalf("bad method err = %v, want %v", err, paymentdomain.ErrInvalidMethod)
	}

	if _, err := f.paymentSvc.Record(f.ctx(), paymentdomain.RecordPaymentRequest{
		InvoiceID: f.node.Generate().String(),
		Amount:    100,
	}); !errors.Is(err, paymentdomain.ErrInvoiceNotFound) {
		t.Fatalf("unknown invoice err = %v, want %v", err, paymentdomain.ErrInvoiceNotFound)
	}
}

func TestPaymentScopedToOrganization(t *testing.T) {
	f := setupFixture(t)
	invoice := seedInvoice(t, f, 100)

	otherCtx := orgcontext.WithOrgID(context.Background(), int64(f.node.Generate()))
	if _, err := f.paymentSvc.Record(otherCtx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    50,
	}); !errors.Is(err, paymentdomain.ErrInvoiceNotFound) {
		t.Fatalf("cross-org record err = %v, want %v", err, paymentdomain.ErrInvoiceNotFound)
	}
}
