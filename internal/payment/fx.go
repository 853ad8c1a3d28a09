package payment

import (
	"github.com/Torqvoice/torqvoice-sub001/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(service.NewService),
)
