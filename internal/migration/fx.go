package migration

import (
	agreementdomain "github.com/Torqvoice/torqvoice-sub001/internal/agreement/domain"
	auditdomain "github.com/Torqvoice/torqvoice-sub001/internal/audit/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/config"
	invoicedomain "github.com/Torqvoice/torqvoice-sub001/internal/invoice/domain"
	organizationdomain "github.com/Torqvoice/torqvoice-sub001/internal/organization/domain"
	paymentdomain "github.com/Torqvoice/torqvoice-sub001/internal/payment/domain"
	"github.com/Torqvoice/torqvoice-sub001/internal/seed"
	settingsdomain "github.com/Torqvoice/torqvoice-sub001/internal/settings/domain"
	vehicledomain "github.com/Torqvoice/torqvoice-sub001/internal/vehicle/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite covers local development; AutoMigrate keeps it in
			// step with the versioned postgres schema.
			if err := conn.AutoMigrate(
				&organizationdomain.Organization{},
				&organizationdomain.OrganizationMember{},
				&settingsdomain.OrgSetting{},
				&vehicledomain.Vehicle{},
				&agreementdomain.Agreement{},
				&agreementdomain.AgreementPart{},
				&agreementdomain.AgreementLabor{},
				&invoicedomain.Invoice{},
				&invoicedomain.InvoicePart{},
				&invoicedomain.InvoiceLabor{},
				&paymentdomain.Payment{},
				&auditdomain.AuditLog{},
			); err != nil {
				return err
			}
		}

		if cfg.DefaultOrgID != 0 {
			return seed.EnsureMainOrgWithID(conn, cfg.DefaultOrgID)
		}
		return seed.EnsureMainOrg(conn)
	}),
)
