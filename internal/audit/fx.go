package audit

import (
	"github.com/nubera-hq/nubera/internal/audit/repository"
	"github.com/nubera-hq/nubera/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
