package service

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/Torqvoice/torqvoice-sub001/internal/audit/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/events"
	invoicedomain "github.com/Torqvoice/torqvoice-sub001/internal/invoice/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	paymentdomain "github.com/Torqvoice/torqvoice-sub001/internal/payment/domain"
	"github.com/Torqvoice/torqvoice-sub001/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	AuditSvc  auditdomain.Service
	Publisher events.Publisher
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	invoiceRepo repository.Repository[invoicedomain.Invoice]
	paymentRepo repository.Repository[paymentdomain.Payment]

	auditSvc  auditdomain.Service
	publisher events.Publisher
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,

		invoiceRepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		paymentRepo: repository.ProvideStore[paymentdomain.Payment](p.DB),

		auditSvc:  p.AuditSvc,
		publisher: p.Publisher,
	}
}

// Record implements domain.Service. Overpayment is representable: the
// ledger's balance due simply goes negative.
func (s *Service) Record(ctx context.Context, req paymentdomain.RecordPaymentRequest) (paymentdomain.Ledger, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.Ledger{}, err
	}

	if req.Amount <= 0 {
		return paymentdomain.Ledger{}, paymentdomain.ErrInvalidAmount
	}

	method := paymentdomain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.Method)))
	if method == "" {
		method = paymentdomain.MethodOther
	}
	if !paymentdomain.ValidPaymentMethod(method) {
		return paymentdomain.Ledger{}, paymentdomain.ErrInvalidMethod
	}

	invoice, err := s.findInvoice(ctx, orgID, req.InvoiceID)
	if err != nil {
		return paymentdomain.Ledger{}, err
	}

	paidAt := s.clock.Now()
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	payment := paymentdomain.Payment{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		InvoiceID: invoice.ID,
		Amount:    req.Amount,
		PaidAt:    paidAt,
		Method:    method,
		Note:      req.Note,
		CreatedAt: s.clock.Now(),
	}
	if err := s.paymentRepo.Create(ctx, &payment); err != nil {
		return paymentdomain.Ledger{}, err
	}

	ledger, err := s.ledgerFor(ctx, invoice)
	if err != nil {
		return paymentdomain.Ledger{}, err
	}

	s.emitAudit(ctx, "payment.recorded", invoice, &payment, map[string]any{
		"balance_due": ledger.BalanceDue,
		"status":      string(ledger.Status),
	})
	s.publishChanged(ctx, invoice, &ledger)
	return ledger, nil
}

// Delete implements domain.Service.
func (s *Service) Delete(ctx context.Context, paymentID string) (paymentdomain.Ledger, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.Ledger{}, err
	}

	id, err := snowflake.ParseString(strings.TrimSpace(paymentID))
	if err != nil || id == 0 {
		return paymentdomain.Ledger{}, paymentdomain.ErrPaymentNotFound
	}

	payment, err := s.paymentRepo.FindOne(ctx, &paymentdomain.Payment{ID: id, OrgID: orgID})
	if err != nil {
		return paymentdomain.Ledger{}, err
	}
	if payment == nil {
		return paymentdomain.Ledger{}, paymentdomain.ErrPaymentNotFound
	}

	invoice, err := s.findInvoice(ctx, orgID, payment.InvoiceID.String())
	if err != nil {
		return paymentdomain.Ledger{}, err
	}

	if err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", payment.ID, orgID).
		Delete(&paymentdomain.Payment{}).Error; err != nil {
		return paymentdomain.Ledger{}, err
	}

	ledger, err := s.ledgerFor(ctx, invoice)
	if err != nil {
		return paymentdomain.Ledger{}, err
	}

	s.emitAudit(ctx, "payment.deleted", invoice, payment, map[string]any{
		"balance_due": ledger.BalanceDue,
		"status":      string(ledger.Status),
	})
	s.publishChanged(ctx, invoice, &ledger)
	return ledger, nil
}

// LedgerFor implements domain.Service.
func (s *Service) LedgerFor(ctx context.Context, invoiceID string) (paymentdomain.Ledger, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.Ledger{}, err
	}

	invoice, err := s.findInvoice(ctx, orgID, invoiceID)
	if err != nil {
		return paymentdomain.Ledger{}, err
	}
	return s.ledgerFor(ctx, invoice)
}

// ledgerFor derives totals on read. Status: unpaid when nothing received,
// paid once the balance reaches zero or below, partial in between.
func (s *Service) ledgerFor(ctx context.Context, invoice *invoicedomain.Invoice) (paymentdomain.Ledger, error) {
	var payments []paymentdomain.Payment
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("paid_at asc, id asc").
		Find(&payments).Error; err != nil {
		return paymentdomain.Ledger{}, err
	}

	var totalPaid int64
	for _, payment := range payments {
		totalPaid += payment.Amount
	}
	balanceDue := invoice.TotalAmount - totalPaid

	status := paymentdomain.StatusPartial
	switch {
	case totalPaid == 0:
		status = paymentdomain.StatusUnpaid
	case balanceDue <= 0:
		status = paymentdomain.StatusPaid
	}

	return paymentdomain.Ledger{
		InvoiceTotal: invoice.TotalAmount,
		TotalPaid:    totalPaid,
		BalanceDue:   balanceDue,
		Status:       status,
		Payments:     payments,
	}, nil
}

func (s *Service) findInvoice(ctx context.Context, orgID snowflake.ID, invoiceID string) (*invoicedomain.Invoice, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return nil, paymentdomain.ErrInvoiceNotFound
	}

	invoice, err := s.invoiceRepo.FindOne(ctx, &invoicedomain.Invoice{ID: id, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, paymentdomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, payment *paymentdomain.Payment, extra map[string]any) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"amount":         payment.Amount,
		"method":         string(payment.Method),
		"paid_at":        payment.PaidAt.Format(time.RFC3339),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := payment.ID.String()
	orgID := payment.OrgID
	_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "payment", &targetID, metadata)
}

func (s *Service) publishChanged(ctx context.Context, invoice *invoicedomain.Invoice, ledger *paymentdomain.Ledger) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, events.TopicPaymentChanged, map[string]any{
		"invoice_id":  invoice.ID.String(),
		"org_id":      invoice.OrgID.String(),
		"total_paid":  ledger.TotalPaid,
		"balance_due": ledger.BalanceDue,
		"status":      string(ledger.Status),
	})
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, paymentdomain.ErrInvalidOrganization
	}
	return orgID, nil
}
