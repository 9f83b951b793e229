// Package postgres implements the catalog for PostgreSQL 12 and later using
// pg_catalog and the pg_get_*def functions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/dbutil"
	"github.com/sql2fs/sql2fs/internal/models"
)

// DefaultPort is used when neither the server string nor the config name one.
const DefaultPort = 5432

const systemSchemaFilter = `n.nspname NOT IN ('pg_catalog', 'information_schema')
  AND n.nspname NOT LIKE 'pg\_toast%%' AND n.nspname NOT LIKE 'pg\_temp\_%%'`

const relationsQuery = `
SELECT c.oid::bigint, n.nspname, c.relname, 0
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN (%s) AND ` + systemSchemaFilter + `%s
ORDER BY n.nspname, c.relname`

// Overloads share one file, so routines are listed once per schema and name.
const routinesQuery = `
SELECT MIN(p.oid)::bigint, n.nspname, p.proname, 0
FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
WHERE p.prokind = '%s' AND ` + systemSchemaFilter + `%s
GROUP BY n.nspname, p.proname
ORDER BY n.nspname, p.proname`

var relationKinds = map[models.ObjectKind]string{
	models.KindTable: "'r', 'p'",
	models.KindView:  "'v', 'm'",
}

var routineKinds = map[models.ObjectKind]string{
	models.KindStoredProcedure:     "p",
	models.KindUserDefinedFunction: "f",
}

// Impl implements the catalog Service for PostgreSQL.
type Impl struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to the server described by cfg.
func Open(ctx context.Context, cfg models.ConnectionConfig, logger zerolog.Logger) (*Impl, error) {
	dsn := BuildDSN(cfg)
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connection settings: %w", models.ErrConfig, err)
	}

	db := sql.OpenDB(connector)
	if err := dbutil.Ping(ctx, db, cfg.Timeout); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}

	logger.Debug().
		Str("server", cfg.Server).
		Str("database", cfg.Database).
		Msg("connected to PostgreSQL")

	return NewWithDB(logger, db), nil
}

// NewWithDB creates a PostgreSQL catalog on an existing connection pool.
func NewWithDB(logger zerolog.Logger, db *sql.DB) *Impl {
	return &Impl{
		db:     db,
		logger: logger,
	}
}

// BuildDSN builds a postgres:// connection URL. Server accepts host or
// host:port.
func BuildDSN(cfg models.ConnectionConfig) string {
	host, port := splitHostPort(cfg.Server)
	if cfg.Port != 0 {
		port = cfg.Port
	}
	if port == 0 {
		port = DefaultPort
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}

	q := url.Values{}
	appName := cfg.AppName
	if appName == "" {
		appName = "sql2fs"
	}
	q.Set("application_name", appName)
	if mode := sslMode(cfg.Encrypt, cfg.TrustServerCertificate); mode != "" {
		q.Set("sslmode", mode)
	}
	if cfg.Timeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.Timeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func splitHostPort(server string) (string, int) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "localhost", 0
	}
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return server, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

// sslMode maps the generic encrypt setting onto a libpq sslmode.
func sslMode(encrypt string, trust bool) string {
	switch strings.ToLower(strings.TrimSpace(encrypt)) {
	case "":
		return ""
	case "disable", "false", "no", "optional":
		return "disable"
	case "true", "yes", "mandatory", "strict":
		if trust {
			return "require"
		}
		return "verify-full"
	default:
		return strings.ToLower(encrypt)
	}
}

// ListObjects returns every object of kind, ordered by schema and name.
func (s *Impl) ListObjects(ctx context.Context, kind models.ObjectKind) ([]models.SchemaObject, error) {
	query, err := listQuery(kind, "")
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list %s objects: %w", kind, err))
	}
	objects, err := dbutil.ScanObjects(rows, kind)
	if err != nil {
		return nil, classify(err)
	}

	s.logger.Debug().Str("kind", kind.String()).Int("count", len(objects)).Msg("objects listed")
	return objects, nil
}

// GetObject looks up a single object by schema and name.
func (s *Impl) GetObject(ctx context.Context, kind models.ObjectKind, ref models.SchemaObjectRef) (*models.SchemaObject, error) {
	nameCol := "c.relname"
	if _, ok := routineKinds[kind]; ok {
		nameCol = "p.proname"
	}
	query, err := listQuery(kind, " AND n.nspname = $1 AND "+nameCol+" = $2")
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, ref.Schema, ref.Name)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to look up %s %s: %w", kind, ref, err))
	}
	objects, err := dbutil.ScanObjects(rows, kind)
	if err != nil {
		return nil, classify(err)
	}
	return dbutil.FirstObject(objects, kind, ref)
}

func listQuery(kind models.ObjectKind, cond string) (string, error) {
	if relkinds, ok := relationKinds[kind]; ok {
		return fmt.Sprintf(relationsQuery, relkinds, cond), nil
	}
	if prokind, ok := routineKinds[kind]; ok {
		return fmt.Sprintf(routinesQuery, prokind, cond), nil
	}
	return "", fmt.Errorf("unsupported object kind %s", kind)
}

// Script returns the definition of obj.
func (s *Impl) Script(ctx context.Context, obj models.SchemaObject) (string, error) {
	var (
		script string
		err    error
	)
	switch obj.Kind {
	case models.KindTable:
		script, err = s.scriptTable(ctx, obj)
	case models.KindView:
		script, err = s.scriptView(ctx, obj)
	default:
		script, err = s.scriptRoutines(ctx, obj)
	}
	return script, classify(err)
}

// ScriptRelated returns the scripts of obj's sub-objects of kind rel.
func (s *Impl) ScriptRelated(ctx context.Context, obj models.SchemaObject, rel models.RelatedKind) ([]string, error) {
	var (
		scripts []string
		err     error
	)
	switch rel {
	case models.RelatedForeignKey:
		scripts, err = s.scriptForeignKeys(ctx, obj)
	case models.RelatedIndex:
		scripts, err = s.scriptIndexes(ctx, obj)
	case models.RelatedTrigger:
		scripts, err = s.scriptTriggers(ctx, obj)
	default:
		return nil, fmt.Errorf("unsupported related kind %s", rel)
	}
	return scripts, classify(err)
}

// Close releases the connection pool.
func (s *Impl) Close() error {
	return s.db.Close()
}

func classify(err error) error {
	if err == nil || models.Classify(err) != nil {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42501":
			return fmt.Errorf("%w: %w", models.ErrPermission, err)
		case "28000", "28P01", "3D000":
			return fmt.Errorf("%w: %w", models.ErrConnection, err)
		}
	}
	return err
}
