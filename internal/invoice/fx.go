package invoice

import (
	"github.com/Torqvoice/torqvoice-sub001/internal/invoice/sequence"
	"github.com/Torqvoice/torqvoice-sub001/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice",
	fx.Provide(sequence.New),
	fx.Provide(service.NewService),
)
