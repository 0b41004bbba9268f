package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/data/db"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

func openDB(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	var (
		theDB *gorm.DB
		err   error
	)
	switch cfg.DBDriver {
	case "sqlite":
		log.Info("Opening SQLite", "dsn", cfg.SQLiteDSN)
		theDB, err = db.OpenSQLite(cfg.SQLiteDSN)
	case "postgres", "":
		var pg *db.PostgresService
		pg, err = db.NewPostgresService(log)
		if err == nil {
			theDB = pg.DB()
		}
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrateAll(theDB); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return theDB, nil
}

func wireRepos(theDB *gorm.DB, log *logger.Logger) repos.Set {
	log.Info("Wiring repos...")
	return repos.NewSet(theDB, log)
}
