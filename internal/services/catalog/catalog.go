// Package catalog defines the read-only view of a database's schema objects
// and opens the engine-specific implementation for a connection.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/sql2fs/sql2fs/internal/services/catalog/mysql"
	"github.com/sql2fs/sql2fs/internal/services/catalog/oracle"
	"github.com/sql2fs/sql2fs/internal/services/catalog/postgres"
	"github.com/sql2fs/sql2fs/internal/services/catalog/sqlserver"
)

// Service enumerates schema objects and renders their definitions.
type Service interface {
	// ListObjects returns every object of kind ordered by schema and name.
	ListObjects(ctx context.Context, kind models.ObjectKind) ([]models.SchemaObject, error)
	// GetObject looks up one object. Missing objects return ErrObjectNotFound.
	GetObject(ctx context.Context, kind models.ObjectKind, ref models.SchemaObjectRef) (*models.SchemaObject, error)
	// Script returns the object's own creation script.
	Script(ctx context.Context, obj models.SchemaObject) (string, error)
	// ScriptRelated returns one script per sub-object of kind rel.
	ScriptRelated(ctx context.Context, obj models.SchemaObject, rel models.RelatedKind) ([]string, error)
	Close() error
}

// Opener opens a catalog for a connection. Replaceable in tests.
type Opener func(ctx context.Context, cfg models.ConnectionConfig, logger zerolog.Logger) (Service, error)

var (
	_ Service = (*sqlserver.Impl)(nil)
	_ Service = (*postgres.Impl)(nil)
	_ Service = (*mysql.Impl)(nil)
	_ Service = (*oracle.Impl)(nil)
	_ Opener  = Open
)

// Drivers lists the accepted driver names.
func Drivers() []string {
	return []string{models.DriverSQLServer, models.DriverPostgres, models.DriverMySQL, models.DriverOracle}
}

// Open connects using the engine selected by cfg.Driver. An empty driver
// selects SQL Server.
func Open(ctx context.Context, cfg models.ConnectionConfig, logger zerolog.Logger) (Service, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	logger = logger.With().Str("driver", driverOrDefault(driver)).Logger()

	switch driver {
	case "", models.DriverSQLServer, "mssql":
		svc, err := sqlserver.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case models.DriverPostgres, "postgresql", "pg":
		svc, err := postgres.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case models.DriverMySQL, "mariadb":
		svc, err := mysql.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case models.DriverOracle:
		svc, err := oracle.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q (expected one of %s)",
			models.ErrConfig, cfg.Driver, strings.Join(Drivers(), ", "))
	}
}

// NormalizeDriver returns the canonical driver name, or "" if unknown.
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", models.DriverSQLServer, "mssql":
		return models.DriverSQLServer
	case models.DriverPostgres, "postgresql", "pg":
		return models.DriverPostgres
	case models.DriverMySQL, "mariadb":
		return models.DriverMySQL
	case models.DriverOracle:
		return models.DriverOracle
	}
	return ""
}

func driverOrDefault(driver string) string {
	if n := NormalizeDriver(driver); n != "" {
		return n
	}
	return driver
}
