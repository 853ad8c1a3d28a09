package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	organizationdomain "github.com/Torqvoice/torqvoice-sub001/internal/organization/domain"
	"gorm.io/gorm"
)

const (
	defaultOrgName = "Main Shop"
	defaultOrgSlug = "main"
)

// EnsureMainOrg seeds the default organization for startup bootstrap.
func EnsureMainOrg(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	return ensureOrg(db, node.Generate())
}

// EnsureMainOrgWithID seeds the default organization under a fixed ID so
// self-hosted deployments can pin DEFAULT_ORG across restarts.
func EnsureMainOrgWithID(db *gorm.DB, orgID int64) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if orgID == 0 {
		return errors.New("seed org id is required")
	}

	return ensureOrg(db, snowflake.ID(orgID))
}

func ensureOrg(db *gorm.DB, orgID snowflake.ID) error {
	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing organizationdomain.Organization
		err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.WithContext(ctx).Create(&organizationdomain.Organization{
			ID:        orgID,
			Name:      defaultOrgName,
			Slug:      defaultOrgSlug,
			CreatedAt: time.Now().UTC(),
		}).Error
	})
}
