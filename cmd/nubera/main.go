package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/nubera-hq/nubera/internal/clock"
	"github.com/nubera-hq/nubera/internal/config"
	"github.com/nubera-hq/nubera/internal/logger"
	"github.com/nubera-hq/nubera/internal/migration"
	obsmetrics "github.com/nubera-hq/nubera/internal/observability/metrics"
	"github.com/nubera-hq/nubera/internal/server"
	"github.com/nubera-hq/nubera/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		obsmetrics.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus the domain modules it serves
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
