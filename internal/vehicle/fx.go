package vehicle

import (
	"github.com/Torqvoice/torqvoice-sub001/internal/vehicle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("vehicle",
	fx.Provide(service.NewService),
)
