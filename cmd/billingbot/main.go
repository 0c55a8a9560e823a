package main

import (
	"github.com/aicollections/billingbot/internal/account"
	"github.com/aicollections/billingbot/internal/catalog"
	"github.com/aicollections/billingbot/internal/clock"
	"github.com/aicollections/billingbot/internal/config"
	"github.com/aicollections/billingbot/internal/conversation"
	"github.com/aicollections/billingbot/internal/dialogue"
	"github.com/aicollections/billingbot/internal/ledger"
	"github.com/aicollections/billingbot/internal/logger"
	"github.com/aicollections/billingbot/internal/migration"
	"github.com/aicollections/billingbot/internal/providers"
	"github.com/aicollections/billingbot/internal/reconcile"
	"github.com/aicollections/billingbot/internal/scheduler"
	"github.com/aicollections/billingbot/internal/server"
	"github.com/aicollections/billingbot/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		providers.Module,
		catalog.Module,

		// Functional domains
		account.Module,
		ledger.Module,
		conversation.Module,
		reconcile.Module,
		dialogue.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
