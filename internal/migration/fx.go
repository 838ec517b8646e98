package migration

import (
	"strings"

	auditdomain "github.com/nubera-hq/nubera/internal/audit/domain"
	governordomain "github.com/nubera-hq/nubera/internal/governor/domain"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if strings.EqualFold(conn.Dialector.Name(), "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres databases (sqlite in development and tests) fall
		// back to schema sync from the models.
		return conn.AutoMigrate(
			&identitydomain.Principal{},
			&governordomain.ModuleConfig{},
			&governordomain.OrganizationBudget{},
			&governordomain.UsageRecord{},
			&auditdomain.AuditLog{},
		)
	}),
)
