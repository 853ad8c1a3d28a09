package agreement

import (
	"github.com/Torqvoice/torqvoice-sub001/internal/agreement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("agreement",
	fx.Provide(service.NewService),
)
