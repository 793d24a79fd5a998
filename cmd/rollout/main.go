package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollout/internal/config"
	"github.com/smallbiznis/rollout/internal/logger"
	"github.com/smallbiznis/rollout/internal/server"
	"github.com/smallbiznis/rollout/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
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
