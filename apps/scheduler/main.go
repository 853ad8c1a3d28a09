package main

import (
	"github.com/Torqvoice/torqvoice-sub001/internal/audit"
	"github.com/Torqvoice/torqvoice-sub001/internal/billingrun"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/config"
	"github.com/Torqvoice/torqvoice-sub001/internal/events"
	"github.com/Torqvoice/torqvoice-sub001/internal/observability"
	"github.com/Torqvoice/torqvoice-sub001/internal/scheduler"
	"github.com/Torqvoice/torqvoice-sub001/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// Headless billing scheduler. No HTTP server; migrations are owned by the
// API binary so this process only needs the billing run pipeline.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		events.Module,
		audit.Module,
		billingrun.Module,
		scheduler.Module,
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
