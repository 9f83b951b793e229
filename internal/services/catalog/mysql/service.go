// Package mysql implements the catalog for MySQL and MariaDB. Objects are
// listed from information_schema and scripted with SHOW CREATE. The schema of
// every object is the connected database.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/dbutil"
	"github.com/sql2fs/sql2fs/internal/models"
)

// DefaultPort is used when neither the server string nor the config name one.
const DefaultPort = 3306

const tablesQuery = `
SELECT 0, TABLE_SCHEMA, TABLE_NAME, 0
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = '%s'%s
ORDER BY TABLE_NAME`

const routinesQuery = `
SELECT 0, ROUTINE_SCHEMA, ROUTINE_NAME, 0
FROM information_schema.ROUTINES
WHERE ROUTINE_SCHEMA = DATABASE() AND ROUTINE_TYPE = '%s'%s
ORDER BY ROUTINE_NAME`

const triggersQuery = `
SELECT TRIGGER_NAME
FROM information_schema.TRIGGERS
WHERE EVENT_OBJECT_SCHEMA = ? AND EVENT_OBJECT_TABLE = ?
ORDER BY ACTION_TIMING, EVENT_MANIPULATION, ACTION_ORDER`

type showCreate struct {
	statement string
	column    string
}

var objectQueries = map[models.ObjectKind]struct {
	list   string
	filter string
	show   showCreate
}{
	models.KindTable: {
		list:   fmt.Sprintf(tablesQuery, "BASE TABLE", "%s"),
		filter: " AND TABLE_SCHEMA = ? AND TABLE_NAME = ?",
		show:   showCreate{"SHOW CREATE TABLE", "Create Table"},
	},
	models.KindView: {
		list:   fmt.Sprintf(tablesQuery, "VIEW", "%s"),
		filter: " AND TABLE_SCHEMA = ? AND TABLE_NAME = ?",
		show:   showCreate{"SHOW CREATE VIEW", "Create View"},
	},
	models.KindStoredProcedure: {
		list:   fmt.Sprintf(routinesQuery, "PROCEDURE", "%s"),
		filter: " AND ROUTINE_SCHEMA = ? AND ROUTINE_NAME = ?",
		show:   showCreate{"SHOW CREATE PROCEDURE", "Create Procedure"},
	},
	models.KindUserDefinedFunction: {
		list:   fmt.Sprintf(routinesQuery, "FUNCTION", "%s"),
		filter: " AND ROUTINE_SCHEMA = ? AND ROUTINE_NAME = ?",
		show:   showCreate{"SHOW CREATE FUNCTION", "Create Function"},
	},
}

// Impl implements the catalog Service for MySQL.
type Impl struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to the server described by cfg.
func Open(ctx context.Context, cfg models.ConnectionConfig, logger zerolog.Logger) (*Impl, error) {
	connector, err := mysql.NewConnector(BuildConfig(cfg))
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
		Msg("connected to MySQL")

	return NewWithDB(logger, db), nil
}

// NewWithDB creates a MySQL catalog on an existing connection pool.
func NewWithDB(logger zerolog.Logger, db *sql.DB) *Impl {
	return &Impl{
		db:     db,
		logger: logger,
	}
}

// BuildConfig translates the connection settings into a driver config.
func BuildConfig(cfg models.ConnectionConfig) *mysql.Config {
	host, port := cfg.Server, 0
	if h, p, err := net.SplitHostPort(cfg.Server); err == nil {
		host = h
		port, _ = strconv.Atoi(p)
	}
	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if cfg.Port != 0 {
		port = cfg.Port
	}
	if port == 0 {
		port = DefaultPort
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Timeout = cfg.Timeout
	mc.TLSConfig = tlsMode(cfg.Encrypt, cfg.TrustServerCertificate)

	appName := cfg.AppName
	if appName == "" {
		appName = "sql2fs"
	}
	mc.ConnectionAttributes = "program_name:" + appName
	return mc
}

func tlsMode(encrypt string, trust bool) string {
	switch strings.ToLower(strings.TrimSpace(encrypt)) {
	case "":
		return ""
	case "disable", "false", "no":
		return "false"
	case "optional", "preferred":
		return "preferred"
	default:
		if trust {
			return "skip-verify"
		}
		return "true"
	}
}

func quoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func qualify(ref models.SchemaObjectRef) string {
	return quoteName(ref.Schema) + "." + quoteName(ref.Name)
}

// ListObjects returns every object of kind, ordered by name.
func (s *Impl) ListObjects(ctx context.Context, kind models.ObjectKind) ([]models.SchemaObject, error) {
	q, ok := objectQueries[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported object kind %s", kind)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(q.list, ""))
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
	q, ok := objectQueries[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported object kind %s", kind)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(q.list, q.filter), ref.Schema, ref.Name)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to look up %s %s: %w", kind, ref, err))
	}
	objects, err := dbutil.ScanObjects(rows, kind)
	if err != nil {
		return nil, classify(err)
	}
	return dbutil.FirstObject(objects, kind, ref)
}

// Script returns the SHOW CREATE output for obj.
func (s *Impl) Script(ctx context.Context, obj models.SchemaObject) (string, error) {
	q, ok := objectQueries[obj.Kind]
	if !ok {
		return "", fmt.Errorf("unsupported object kind %s", obj.Kind)
	}
	script, err := s.showCreate(ctx, q.show, obj.Kind.String(), obj.Ref)
	return script, classify(err)
}

func (s *Impl) showCreate(ctx context.Context, sc showCreate, what string, ref models.SchemaObjectRef) (string, error) {
	def, err := dbutil.QueryColumn(ctx, s.db, sc.column, sc.statement+" "+qualify(ref))
	if err != nil {
		return "", dbutil.NotFound(err, fmt.Sprintf("%s %s", what, ref))
	}
	if !def.Valid {
		// Routine bodies are NULL without SHOW_ROUTINE or ownership.
		return "", fmt.Errorf("%w: definition of %s %s is not visible", models.ErrPermission, what, ref)
	}
	return dbutil.TrimDefinition(def.String), nil
}

// ScriptRelated returns trigger scripts. Keys and indexes are part of
// SHOW CREATE TABLE, so those return nothing.
func (s *Impl) ScriptRelated(ctx context.Context, obj models.SchemaObject, rel models.RelatedKind) ([]string, error) {
	switch rel {
	case models.RelatedForeignKey, models.RelatedIndex:
		return nil, nil
	case models.RelatedTrigger:
		if obj.Kind != models.KindTable {
			return nil, nil
		}
		scripts, err := s.scriptTriggers(ctx, obj)
		return scripts, classify(err)
	default:
		return nil, fmt.Errorf("unsupported related kind %s", rel)
	}
}

func (s *Impl) scriptTriggers(ctx context.Context, obj models.SchemaObject) ([]string, error) {
	names, err := dbutil.QueryStrings(ctx, s.db, triggersQuery, obj.Ref.Schema, obj.Ref.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers of %s: %w", obj.Ref, err)
	}

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		ref := models.SchemaObjectRef{Schema: obj.Ref.Schema, Name: name}
		script, err := s.showCreate(ctx, showCreate{"SHOW CREATE TRIGGER", "SQL Original Statement"}, "trigger", ref)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

// Close releases the connection pool.
func (s *Impl) Close() error {
	return s.db.Close()
}

var permissionErrors = map[uint16]bool{
	1044: true, // access denied to database
	1142: true, // command denied on table
	1143: true, // command denied on column
	1227: true, // specific privilege required
	1370: true, // command denied on routine
}

var connectionErrors = map[uint16]bool{
	1045: true, // access denied for user
	1049: true, // unknown database
}

func classify(err error) error {
	if err == nil || models.Classify(err) != nil {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch {
		case permissionErrors[myErr.Number]:
			return fmt.Errorf("%w: %w", models.ErrPermission, err)
		case connectionErrors[myErr.Number]:
			return fmt.Errorf("%w: %w", models.ErrConnection, err)
		}
	}
	return err
}
