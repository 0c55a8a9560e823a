package migration

import (
	"github.com/aicollections/billingbot/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func run(cfg config.Config, gdb *gorm.DB, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		// sqlite/mysql development databases are migrated by the caller
		// (tests use gorm AutoMigrate).
		log.Info("skipping migrations", zap.String("db_type", cfg.DBType))
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

// Module applies embedded migrations during startup.
var Module = fx.Module("migration",
	fx.Invoke(run),
)
