package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	settingsdomain "github.com/Torqvoice/torqvoice-sub001/internal/settings/domain"
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
	settingrepo repository.Repository[settingsdomain.OrgSetting]
}

func NewService(p ServiceParam) settingsdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("settings.service"),

		genID:       p.GenID,
		settingrepo: repository.ProvideStore[settingsdomain.OrgSetting](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return "", false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, settingsdomain.ErrInvalidKey
	}

	item, err := s.settingrepo.FindOne(ctx, &settingsdomain.OrgSetting{OrgID: orgID, Key: key})
	if err != nil {
		return "", false, err
	}
	if item == nil {
		return "", false, nil
	}
	return item.Value, true, nil
}

func (s *Service) GetInt64(ctx context.Context, key string, def int64) (int64, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return def, nil
	}
	return parsed, nil
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return settingsdomain.ErrInvalidKey
	}

	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing settingsdomain.OrgSetting
		err := tx.WithContext(ctx).
			Where("org_id = ? AND key = ?", orgID, key).
			First(&existing).Error
		if err == nil {
			return tx.WithContext(ctx).
				Model(&settingsdomain.OrgSetting{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{"value": value, "updated_at": now}).Error
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		return tx.WithContext(ctx).Create(&settingsdomain.OrgSetting{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			Key:       key,
			Value:     value,
			UpdatedAt: now,
		}).Error
	})
}

func (s *Service) Unset(ctx context.Context, key string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return settingsdomain.ErrInvalidKey
	}

	return s.db.WithContext(ctx).
		Where("org_id = ? AND key = ?", orgID, key).
		Delete(&settingsdomain.OrgSetting{}).Error
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, settingsdomain.ErrInvalidOrganization
	}
	return orgID, nil
}
