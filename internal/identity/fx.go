package identity

import (
	"github.com/nubera-hq/nubera/internal/identity/repository"
	"github.com/nubera-hq/nubera/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
