package main

import (
	"github.com/Torqvoice/torqvoice-sub001/internal/agreement"
	"github.com/Torqvoice/torqvoice-sub001/internal/audit"
	"github.com/Torqvoice/torqvoice-sub001/internal/authorization"
	"github.com/Torqvoice/torqvoice-sub001/internal/billingrun"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/config"
	"github.com/Torqvoice/torqvoice-sub001/internal/events"
	"github.com/Torqvoice/torqvoice-sub001/internal/invoice"
	"github.com/Torqvoice/torqvoice-sub001/internal/migration"
	"github.com/Torqvoice/torqvoice-sub001/internal/observability"
	"github.com/Torqvoice/torqvoice-sub001/internal/payment"
	"github.com/Torqvoice/torqvoice-sub001/internal/scheduler"
	"github.com/Torqvoice/torqvoice-sub001/internal/server"
	"github.com/Torqvoice/torqvoice-sub001/internal/settings"
	"github.com/Torqvoice/torqvoice-sub001/internal/vehicle"
	"github.com/Torqvoice/torqvoice-sub001/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		events.Module,
		audit.Module,
		authorization.Module,
		settings.Module,
		vehicle.Module,
		agreement.Module,
		invoice.Module,
		payment.Module,
		billingrun.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
