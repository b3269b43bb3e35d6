package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fastygo/identity/internal/config"
)

// RunMigrations applies pending migrations from cfg.Path. It is a no-op when disabled.
func RunMigrations(db config.DatabaseConfig, cfg config.MigrationsConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := sql.Open("postgres", db.URL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return err
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return err
	}

	sourceURL := fmt.Sprintf("file://%s", filepath.ToSlash(cfg.Path))
	m, err := migrate.NewWithDatabaseInstance(sourceURL, db.Name, driver)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	logger.Info("database migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
