package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gocart/internal/authorization"
	"github.com/smallbiznis/gocart/internal/clock"
	"github.com/smallbiznis/gocart/internal/config"
	"github.com/smallbiznis/gocart/internal/identity"
	"github.com/smallbiznis/gocart/internal/lock"
	"github.com/smallbiznis/gocart/internal/migration"
	"github.com/smallbiznis/gocart/internal/observability"
	"github.com/smallbiznis/gocart/internal/providers"
	"github.com/smallbiznis/gocart/internal/server"
	"github.com/smallbiznis/gocart/internal/settlement"
	"github.com/smallbiznis/gocart/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,

		// Settlement
		providers.Module,
		settlement.Module,
		identity.Module,
		authorization.Module,

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
