package settings

import (
	"github.com/Torqvoice/torqvoice-sub001/internal/settings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settings.service",
	fx.Provide(service.NewService),
)
