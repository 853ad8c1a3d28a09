package service

import (
	"context"
	"strings"
	"time"

	agreementdomain "github.com/Torqvoice/torqvoice-sub001/internal/agreement/domain"
	auditdomain "github.com/Torqvoice/torqvoice-sub001/internal/audit/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/config"
	"github.com/Torqvoice/torqvoice-sub001/internal/events"
	"github.com/Torqvoice/torqvoice-sub001/internal/money"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	"github.com/Torqvoice/torqvoice-sub001/internal/schedule"
	settingsdomain "github.com/Torqvoice/torqvoice-sub001/internal/settings/domain"
	vehicledomain "github.com/Torqvoice/torqvoice-sub001/internal/vehicle/domain"
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
	Billing *config.BillingConfigHolder

	Vehiclesvc  vehicledomain.Service
	Settingssvc settingsdomain.Service
	AuditSvc    auditdomain.Service
	Publisher   events.Publisher
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder

	agreementRepo repository.Repository[agreementdomain.Agreement]
	partRepo      repository.Repository[agreementdomain.AgreementPart]
	laborRepo     repository.Repository[agreementdomain.AgreementLabor]

	vehiclesvc  vehicledomain.Service
	settingssvc settingsdomain.Service
	auditSvc    auditdomain.Service
	publisher   events.Publisher
}

func NewService(p ServiceParam) agreementdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("agreement.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,

		agreementRepo: repository.ProvideStore[agreementdomain.Agreement](p.DB),
		partRepo:      repository.ProvideStore[agreementdomain.AgreementPart](p.DB),
		laborRepo:     repository.ProvideStore[agreementdomain.AgreementLabor](p.DB),

		vehiclesvc:  p.Vehiclesvc,
		settingssvc: p.Settingssvc,
		auditSvc:    p.AuditSvc,
		publisher:   p.Publisher,
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req agreementdomain.CreateAgreementRequest) (agreementdomain.AgreementDetail, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidTitle
	}

	vehicleID, err := snowflake.ParseString(strings.TrimSpace(req.VehicleID))
	if err != nil || vehicleID == 0 {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidVehicle
	}
	exists, err := s.vehiclesvc.Exists(ctx, vehicleID.String())
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}
	if !exists {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidVehicle
	}

	frequency, err := schedule.ParseFrequency(req.Frequency)
	if err != nil {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidSchedule
	}

	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = s.clock.Now()
	}
	startDate = startDate.UTC()
	if req.EndDate != nil && req.EndDate.Before(startDate) {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidSchedule
	}

	if req.FlatCost < 0 {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidAgreement
	}

	discountKind, err := s.resolveDiscount(req.DiscountKind, req.DiscountValue)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	taxRateBps, err := s.resolveTaxRate(ctx, req.TaxRateBps)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	agreement := agreementdomain.Agreement{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		VehicleID:     vehicleID,
		Title:         title,
		Description:   req.Description,
		ServiceType:   strings.TrimSpace(req.ServiceType),
		Frequency:     frequency,
		NextRunDate:   startDate,
		EndDate:       req.EndDate,
		IsActive:      true,
		RunCount:      0,
		FlatCost:      req.FlatCost,
		DiscountKind:  discountKind,
		DiscountValue: req.DiscountValue,
		TaxRateBps:    taxRateBps,
		InvoiceNotes:  req.InvoiceNotes,
		CreatedAt:     s.clock.Now(),
		UpdatedAt:     s.clock.Now(),
	}

	parts, labor, err := s.buildLines(orgID, agreement.ID, req.Parts, req.Labor)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.agreementRepo.WithTrx(tx).Create(ctx, &agreement); err != nil {
			return err
		}
		if len(parts) > 0 {
			if err := s.partRepo.WithTrx(tx).BatchCreate(ctx, parts); err != nil {
				return err
			}
		}
		if len(labor) > 0 {
			if err := s.laborRepo.WithTrx(tx).BatchCreate(ctx, labor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	detail := agreementdomain.AgreementDetail{
		Agreement: agreement,
		Parts:     deref(parts),
		Labor:     deref(labor),
	}
	s.emitAudit(ctx, "agreement.created", &agreement, nil)
	s.publishChanged(ctx, &agreement)
	return detail, nil
}

// Update implements domain.Service. The template lines are replaced
// wholesale; invoices already materialized from the previous template keep
// their snapshotted lines.
func (s *Service) Update(ctx context.Context, req agreementdomain.UpdateAgreementRequest) (agreementdomain.AgreementDetail, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	existing, err := s.findAgreement(ctx, orgID, req.ID)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidTitle
	}

	frequency, err := schedule.ParseFrequency(req.Frequency)
	if err != nil {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidSchedule
	}

	if req.FlatCost < 0 {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidAgreement
	}

	discountKind, err := s.resolveDiscount(req.DiscountKind, req.DiscountValue)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	taxRateBps, err := s.resolveTaxRate(ctx, req.TaxRateBps)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	nextRunDate := existing.NextRunDate
	if req.NextRunDate != nil {
		nextRunDate = req.NextRunDate.UTC()
	}
	if req.EndDate != nil && req.EndDate.Before(nextRunDate) {
		return agreementdomain.AgreementDetail{}, agreementdomain.ErrInvalidSchedule
	}

	updated := *existing
	updated.Title = title
	updated.Description = req.Description
	updated.ServiceType = strings.TrimSpace(req.ServiceType)
	updated.Frequency = frequency
	updated.NextRunDate = nextRunDate
	updated.EndDate = req.EndDate
	updated.FlatCost = req.FlatCost
	updated.DiscountKind = discountKind
	updated.DiscountValue = req.DiscountValue
	updated.TaxRateBps = taxRateBps
	updated.InvoiceNotes = req.InvoiceNotes
	updated.UpdatedAt = s.clock.Now()

	parts, labor, err := s.buildLines(orgID, updated.ID, req.Parts, req.Labor)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		if err := tx.Where("agreement_id = ?", updated.ID).Delete(&agreementdomain.AgreementPart{}).Error; err != nil {
			return err
		}
		if err := tx.Where("agreement_id = ?", updated.ID).Delete(&agreementdomain.AgreementLabor{}).Error; err != nil {
			return err
		}
		if len(parts) > 0 {
			if err := s.partRepo.WithTrx(tx).BatchCreate(ctx, parts); err != nil {
				return err
			}
		}
		if len(labor) > 0 {
			if err := s.laborRepo.WithTrx(tx).BatchCreate(ctx, labor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	detail := agreementdomain.AgreementDetail{
		Agreement: updated,
		Parts:     deref(parts),
		Labor:     deref(labor),
	}
	s.emitAudit(ctx, "agreement.updated", &updated, nil)
	s.publishChanged(ctx, &updated)
	return detail, nil
}

// Delete implements domain.Service. Template lines go with the agreement;
// invoices it spawned are untouched.
func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}

	existing, err := s.findAgreement(ctx, orgID, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agreement_id = ?", existing.ID).Delete(&agreementdomain.AgreementPart{}).Error; err != nil {
			return err
		}
		if err := tx.Where("agreement_id = ?", existing.ID).Delete(&agreementdomain.AgreementLabor{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND org_id = ?", existing.ID, orgID).Delete(&agreementdomain.Agreement{}).Error
	})
	if err != nil {
		return err
	}

	s.emitAudit(ctx, "agreement.deleted", existing, nil)
	s.publishChanged(ctx, existing)
	return nil
}

// Toggle implements domain.Service. Resuming does not rewind the schedule:
// an agreement paused past its next run date becomes due immediately.
func (s *Service) Toggle(ctx context.Context, id string, active bool) (agreementdomain.Agreement, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return agreementdomain.Agreement{}, err
	}

	existing, err := s.findAgreement(ctx, orgID, id)
	if err != nil {
		return agreementdomain.Agreement{}, err
	}

	updated := *existing
	updated.IsActive = active
	updated.UpdatedAt = s.clock.Now()

	err = s.db.WithContext(ctx).
		Model(&agreementdomain.Agreement{}).
		Where("id = ? AND org_id = ?", updated.ID, orgID).
		Updates(map[string]any{
			"is_active":  updated.IsActive,
			"updated_at": updated.UpdatedAt,
		}).Error
	if err != nil {
		return agreementdomain.Agreement{}, err
	}

	action := "agreement.paused"
	if active {
		action = "agreement.resumed"
	}
	s.emitAudit(ctx, action, &updated, nil)
	s.publishChanged(ctx, &updated)
	return updated, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context) (agreementdomain.ListAgreementResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return agreementdomain.ListAgreementResponse{}, err
	}

	items, err := s.agreementRepo.Find(ctx, &agreementdomain.Agreement{OrgID: orgID},
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true, "next_run_date": true}}),
	)
	if err != nil {
		return agreementdomain.ListAgreementResponse{}, err
	}

	agreements := make([]agreementdomain.Agreement, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		agreements = append(agreements, *item)
	}
	return agreementdomain.ListAgreementResponse{Agreements: agreements}, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id string) (agreementdomain.AgreementDetail, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	existing, err := s.findAgreement(ctx, orgID, id)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}

	parts, labor, err := s.loadLines(ctx, existing.ID)
	if err != nil {
		return agreementdomain.AgreementDetail{}, err
	}
	return agreementdomain.AgreementDetail{
		Agreement: *existing,
		Parts:     parts,
		Labor:     labor,
	}, nil
}

func (s *Service) findAgreement(ctx context.Context, orgID snowflake.ID, id string) (*agreementdomain.Agreement, error) {
	agreementID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || agreementID == 0 {
		return nil, agreementdomain.ErrNotFound
	}

	item, err := s.agreementRepo.FindOne(ctx, &agreementdomain.Agreement{ID: agreementID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, agreementdomain.ErrNotFound
	}
	return item, nil
}

func (s *Service) loadLines(ctx context.Context, agreementID snowflake.ID) ([]agreementdomain.AgreementPart, []agreementdomain.AgreementLabor, error) {
	var parts []agreementdomain.AgreementPart
	if err := s.db.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("position asc").
		Find(&parts).Error; err != nil {
		return nil, nil, err
	}

	var labor []agreementdomain.AgreementLabor
	if err := s.db.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("position asc").
		Find(&labor).Error; err != nil {
		return nil, nil, err
	}
	return parts, labor, nil
}

func (s *Service) buildLines(orgID, agreementID snowflake.ID, parts []agreementdomain.PartItem, labor []agreementdomain.LaborItem) ([]*agreementdomain.AgreementPart, []*agreementdomain.AgreementLabor, error) {
	defaultLaborRate := s.billing.Get().DefaultLaborRate

	partRows := make([]*agreementdomain.AgreementPart, 0, len(parts))
	for i, item := range parts {
		name := strings.TrimSpace(item.Name)
		if name == "" || item.Quantity < 1 || item.UnitPrice < 0 {
			return nil, nil, agreementdomain.ErrInvalidLineItem
		}
		partRows = append(partRows, &agreementdomain.AgreementPart{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			AgreementID: agreementID,
			Position:    i,
			Name:        name,
			PartNumber:  item.PartNumber,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	laborRows := make([]*agreementdomain.AgreementLabor, 0, len(labor))
	for i, item := range labor {
		description := strings.TrimSpace(item.Description)
		if description == "" || item.Hours.IsNegative() || item.Rate < 0 {
			return nil, nil, agreementdomain.ErrInvalidLineItem
		}
		rate := item.Rate
		if rate == 0 {
			rate = defaultLaborRate
		}
		laborRows = append(laborRows, &agreementdomain.AgreementLabor{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			AgreementID: agreementID,
			Position:    i,
			Description: description,
			Hours:       item.Hours,
			Rate:        rate,
		})
	}
	return partRows, laborRows, nil
}

func (s *Service) resolveDiscount(kind string, value int64) (money.DiscountKind, error) {
	resolved := money.DiscountKind(strings.ToUpper(strings.TrimSpace(kind)))
	if resolved == "" {
		resolved = money.DiscountNone
	}
	if !money.ValidDiscountKind(resolved) {
		return "", agreementdomain.ErrInvalidDiscount
	}
	if value < 0 {
		return "", agreementdomain.ErrInvalidDiscount
	}
	if resolved == money.DiscountPercentage && value > 10000 {
		return "", agreementdomain.ErrInvalidDiscount
	}
	return resolved, nil
}

// resolveTaxRate falls back from the request to the org setting to the
// shop-wide default.
func (s *Service) resolveTaxRate(ctx context.Context, taxRateBps *int64) (int64, error) {
	if taxRateBps != nil {
		if *taxRateBps < 0 {
			return 0, agreementdomain.ErrInvalidTaxRate
		}
		return *taxRateBps, nil
	}

	rate, err := s.settingssvc.GetInt64(ctx, settingsdomain.KeyDefaultTaxRateBps, s.billing.Get().DefaultTaxRateBps)
	if err != nil {
		return 0, err
	}
	if rate < 0 {
		return 0, agreementdomain.ErrInvalidTaxRate
	}
	return rate, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, agreement *agreementdomain.Agreement, extra map[string]any) {
	if s.auditSvc == nil || agreement == nil {
		return
	}
	metadata := map[string]any{
		"vehicle_id":    agreement.VehicleID.String(),
		"frequency":     string(agreement.Frequency),
		"next_run_date": agreement.NextRunDate.Format(time.RFC3339),
		"is_active":     agreement.IsActive,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := agreement.ID.String()
	orgID := agreement.OrgID
	_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "agreement", &targetID, metadata)
}

func (s *Service) publishChanged(ctx context.Context, agreement *agreementdomain.Agreement) {
	if s.publisher == nil || agreement == nil {
		return
	}
	_ = s.publisher.Publish(ctx, events.TopicAgreementChanged, map[string]any{
		"agreement_id": agreement.ID.String(),
		"org_id":       agreement.OrgID.String(),
		"is_active":    agreement.IsActive,
	})
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, agreementdomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func deref[T any](items []*T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out
}
