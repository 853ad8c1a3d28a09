package service

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/Torqvoice/torqvoice-sub001/internal/audit/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/events"
	invoicedomain "github.com/Torqvoice/torqvoice-sub001/internal/invoice/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/invoice/sequence"
	"github.com/Torqvoice/torqvoice-sub001/internal/money"
	"github.com/Torqvoice/torqvoice-sub001/internal/observability/metrics"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	vehicledomain "github.com/Torqvoice/torqvoice-sub001/internal/vehicle/domain"
	"github.com/Torqvoice/torqvoice-sub001/pkg/db"
	"github.com/Torqvoice/torqvoice-sub001/pkg/db/option"
	"github.com/Torqvoice/torqvoice-sub001/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Seq     *sequence.Sequencer
	Metrics *metrics.BillingMetrics

	Vehiclesvc vehicledomain.Service
	AuditSvc   auditdomain.Service
	Publisher  events.Publisher
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	seq     *sequence.Sequencer
	metrics *metrics.BillingMetrics

	invoiceRepo repository.Repository[invoicedomain.Invoice]

	vehiclesvc vehicledomain.Service
	auditSvc   auditdomain.Service
	publisher  events.Publisher
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("invoice.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		seq:     p.Seq,
		metrics: p.Metrics,

		invoiceRepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),

		vehiclesvc: p.Vehiclesvc,
		auditSvc:   p.AuditSvc,
		publisher:  p.Publisher,
	}
}

// Create implements domain.Service. Number issuance and the invoice insert
// share one transaction; losing a number race surfaces as a duplicate-key
// error and the whole unit is retried once with a freshly read last number.
func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.InvoiceDetail, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.InvoiceDetail{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidTitle
	}

	vehicleID, err := snowflake.ParseString(strings.TrimSpace(req.VehicleID))
	if err != nil || vehicleID == 0 {
		return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidVehicle
	}
	exists, err := s.vehiclesvc.Exists(ctx, vehicleID.String())
	if err != nil {
		return invoicedomain.InvoiceDetail{}, err
	}
	if !exists {
		return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidVehicle
	}

	if req.FlatCost < 0 {
		return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidLineItem
	}

	discountKind := money.DiscountKind(strings.ToUpper(strings.TrimSpace(req.DiscountKind)))
	if discountKind == "" {
		discountKind = money.DiscountNone
	}
	if !money.ValidDiscountKind(discountKind) || req.DiscountValue < 0 {
		return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidDiscount
	}
	if discountKind == money.DiscountPercentage && req.DiscountValue > 10000 {
		return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidDiscount
	}

	var taxRateBps int64
	if req.TaxRateBps != nil {
		if *req.TaxRateBps < 0 {
			return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidTaxRate
		}
		taxRateBps = *req.TaxRateBps
	}

	moneyInput := money.Input{
		FlatCost:   req.FlatCost,
		Discount:   money.Discount{Kind: discountKind, Value: req.DiscountValue},
		TaxRateBps: taxRateBps,
	}
	for _, item := range req.Parts {
		if strings.TrimSpace(item.Name) == "" || item.Quantity < 1 || item.UnitPrice < 0 {
			return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidLineItem
		}
		moneyInput.Parts = append(moneyInput.Parts, money.PartInput{Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	for _, item := range req.Labor {
		if strings.TrimSpace(item.Description) == "" || item.Hours.IsNegative() || item.Rate < 0 {
			return invoicedomain.InvoiceDetail{}, invoicedomain.ErrInvalidLineItem
		}
		moneyInput.Labor = append(moneyInput.Labor, money.LaborInput{Hours: item.Hours, Rate: item.Rate})
	}
	totals := money.Compute(moneyInput)

	serviceDate := req.ServiceDate
	if serviceDate.IsZero() {
		serviceDate = s.clock.Now()
	}

	var detail invoicedomain.InvoiceDetail
	issue := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			invoiceNumber, err := s.seq.Next(ctx, tx, orgID, now)
			if err != nil {
				return err
			}

			invoice := invoicedomain.Invoice{
				ID:             s.genID.Generate(),
				OrgID:          orgID,
				InvoiceNumber:  invoiceNumber,
				VehicleID:      vehicleID,
				Title:          title,
				ServiceDate:    serviceDate.UTC(),
				Notes:          req.Notes,
				FlatCost:       req.FlatCost,
				Subtotal:       totals.Subtotal,
				DiscountKind:   discountKind,
				DiscountValue:  req.DiscountValue,
				DiscountAmount: totals.DiscountAmount,
				TaxRateBps:     taxRateBps,
				TaxAmount:      totals.TaxAmount,
				TotalAmount:    totals.TotalAmount,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(&invoice).Error; err != nil {
				return err
			}

			parts := make([]invoicedomain.InvoicePart, 0, len(req.Parts))
			for i, item := range req.Parts {
				parts = append(parts, invoicedomain.InvoicePart{
					ID:         s.genID.Generate(),
					OrgID:      orgID,
					InvoiceID:  invoice.ID,
					Position:   i,
					Name:       strings.TrimSpace(item.Name),
					PartNumber: item.PartNumber,
					Quantity:   item.Quantity,
					UnitPrice:  item.UnitPrice,
					Total:      money.PartLineTotal(item.Quantity, item.UnitPrice),
				})
			}
			if len(parts) > 0 {
				if err := tx.Create(&parts).Error; err != nil {
					return err
				}
			}

			labor := make([]invoicedomain.InvoiceLabor, 0, len(req.Labor))
			for i, item := range req.Labor {
				labor = append(labor, invoicedomain.InvoiceLabor{
					ID:          s.genID.Generate(),
					OrgID:       orgID,
					InvoiceID:   invoice.ID,
					Position:    i,
					Description: strings.TrimSpace(item.Description),
					Hours:       item.Hours,
					Rate:        item.Rate,
					Total:       money.LaborLineTotal(item.Hours, item.Rate),
				})
			}
			if len(labor) > 0 {
				if err := tx.Create(&labor).Error; err != nil {
					return err
				}
			}

			detail = invoicedomain.InvoiceDetail{Invoice: invoice, Parts: parts, Labor: labor}
			return nil
		})
	}

	if err := issue(); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return invoicedomain.InvoiceDetail{}, err
		}
		s.metrics.IncNumberConflict()
		s.log.Warn("invoice number conflict, retrying once", zap.Int64("org_id", int64(orgID)))
		if err := issue(); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return invoicedomain.InvoiceDetail{}, invoicedomain.ErrNumberConflict
			}
			return invoicedomain.InvoiceDetail{}, err
		}
	}

	s.emitAudit(ctx, "invoice.created", &detail.Invoice, nil)
	s.publishCreated(ctx, &detail.Invoice)
	return detail, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	query := invoicedomain.Invoice{OrgID: orgID}
	if vehicleID := strings.TrimSpace(req.VehicleID); vehicleID != "" {
		parsed, err := snowflake.ParseString(vehicleID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidVehicle
		}
		query.VehicleID = parsed
	}
	if agreementID := strings.TrimSpace(req.AgreementID); agreementID != "" {
		parsed, err := snowflake.ParseString(agreementID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrNotFound
		}
		query.AgreementID = &parsed
	}

	items, err := s.invoiceRepo.Find(ctx, &query,
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true, "service_date": true}}),
	)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}
	return invoicedomain.ListInvoiceResponse{Invoices: invoices}, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.InvoiceDetail, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.InvoiceDetail{}, err
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return invoicedomain.InvoiceDetail{}, invoicedomain.ErrNotFound
	}

	item, err := s.invoiceRepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return invoicedomain.InvoiceDetail{}, err
	}
	if item == nil {
		return invoicedomain.InvoiceDetail{}, invoicedomain.ErrNotFound
	}

	var parts []invoicedomain.InvoicePart
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("position asc").
		Find(&parts).Error; err != nil {
		return invoicedomain.InvoiceDetail{}, err
	}

	var labor []invoicedomain.InvoiceLabor
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("position asc").
		Find(&labor).Error; err != nil {
		return invoicedomain.InvoiceDetail{}, err
	}

	return invoicedomain.InvoiceDetail{Invoice: *item, Parts: parts, Labor: labor}, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"vehicle_id":     invoice.VehicleID.String(),
		"total_amount":   invoice.TotalAmount,
		"service_date":   invoice.ServiceDate.Format(time.RFC3339),
	}
	if invoice.AgreementID != nil {
		metadata["agreement_id"] = invoice.AgreementID.String()
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := invoice.ID.String()
	orgID := invoice.OrgID
	_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "invoice", &targetID, metadata)
}

func (s *Service) publishCreated(ctx context.Context, invoice *invoicedomain.Invoice) {
	if s.publisher == nil || invoice == nil {
		return
	}
	_ = s.publisher.Publish(ctx, events.TopicInvoiceCreated, map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"org_id":         invoice.OrgID.String(),
		"total_amount":   invoice.TotalAmount,
	})
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, invoicedomain.ErrInvalidOrganization
	}
	return orgID, nil
}
