package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	vehicledomain "github.com/Torqvoice/torqvoice-sub001/internal/vehicle/domain"
	"github.com/Torqvoice/torqvoice-sub001/pkg/db/option"
	"github.com/Torqvoice/torqvoice-sub001/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	vehiclerepo repository.Repository[vehicledomain.Vehicle]
}

func NewService(p ServiceParam) vehicledomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("vehicle.service"),

		genID:       p.GenID,
		vehiclerepo: repository.ProvideStore[vehicledomain.Vehicle](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req vehicledomain.CreateVehicleRequest) (vehicledomain.Vehicle, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return vehicledomain.Vehicle{}, err
	}

	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		return vehicledomain.Vehicle{}, vehicledomain.ErrInvalidCustomerName
	}
	if strings.TrimSpace(req.Make) == "" || strings.TrimSpace(req.Model) == "" {
		return vehicledomain.Vehicle{}, vehicledomain.ErrInvalidVehicle
	}

	vehicle := vehicledomain.Vehicle{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		CustomerName: customer,
		Make:         strings.TrimSpace(req.Make),
		Model:        strings.TrimSpace(req.Model),
		Year:         req.Year,
		VIN:          req.VIN,
		LicensePlate: req.LicensePlate,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.vehiclerepo.Create(ctx, &vehicle); err != nil {
		return vehicledomain.Vehicle{}, err
	}
	return vehicle, nil
}

func (s *Service) List(ctx context.Context) (vehicledomain.ListVehicleResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return vehicledomain.ListVehicleResponse{}, err
	}

	items, err := s.vehiclerepo.Find(ctx, &vehicledomain.Vehicle{OrgID: orgID},
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return vehicledomain.ListVehicleResponse{}, err
	}

	vehicles := make([]vehicledomain.Vehicle, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		vehicles = append(vehicles, *item)
	}
	return vehicledomain.ListVehicleResponse{Vehicles: vehicles}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (vehicledomain.Vehicle, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return vehicledomain.Vehicle{}, err
	}

	vehicleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return vehicledomain.Vehicle{}, vehicledomain.ErrNotFound
	}

	item, err := s.vehiclerepo.FindOne(ctx, &vehicledomain.Vehicle{ID: vehicleID, OrgID: orgID})
	if err != nil {
		return vehicledomain.Vehicle{}, err
	}
	if item == nil {
		return vehicledomain.Vehicle{}, vehicledomain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.GetByID(ctx, id)
	if err == vehicledomain.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, vehicledomain.ErrInvalidOrganization
	}
	return orgID, nil
}
