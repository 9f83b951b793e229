// Package sqlserver implements the catalog for Microsoft SQL Server using the
// sys.* catalog views.
package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/dbutil"
	"github.com/sql2fs/sql2fs/internal/models"
)

// DefaultAppName is reported to the server as the client application.
const DefaultAppName = "sql2fs"

// objectTypes maps kinds to sys.objects.type codes.
var objectTypes = map[models.ObjectKind]string{
	models.KindTable:               "'U'",
	models.KindView:                "'V'",
	models.KindStoredProcedure:     "'P', 'PC'",
	models.KindUserDefinedFunction: "'FN', 'IF', 'TF', 'FS', 'FT'",
}

const listObjectsQuery = `
SELECT o.object_id, s.name, o.name,
       CAST(ISNULL(OBJECTPROPERTY(o.object_id, 'IsEncrypted'), 0) AS int)
FROM sys.objects o
JOIN sys.schemas s ON s.schema_id = o.schema_id
WHERE o.type IN (%s)%s
ORDER BY s.name, o.name`

// Impl implements the catalog Service for SQL Server.
type Impl struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to the server described by cfg.
func Open(ctx context.Context, cfg models.ConnectionConfig, logger zerolog.Logger) (*Impl, error) {
	connector, err := mssql.NewConnector(BuildDSN(cfg))
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
		Msg("connected to SQL Server")

	return NewWithDB(logger, db), nil
}

// NewWithDB creates a SQL Server catalog on an existing connection pool.
func NewWithDB(logger zerolog.Logger, db *sql.DB) *Impl {
	return &Impl{
		db:     db,
		logger: logger,
	}
}

// BuildDSN builds a sqlserver:// connection URL. Server accepts the forms
// host, host,port, host\instance and tcp:host,port.
func BuildDSN(cfg models.ConnectionConfig) string {
	host, instance, port := splitServer(cfg.Server)
	if cfg.Port != 0 {
		port = cfg.Port
	}

	u := &url.URL{Scheme: "sqlserver", Host: host}
	if port != 0 {
		u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if instance != "" {
		u.Path = instance
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}

	q := url.Values{}
	q.Set("database", cfg.Database)
	appName := cfg.AppName
	if appName == "" {
		appName = DefaultAppName
	}
	q.Set("app name", appName)
	if cfg.Encrypt != "" {
		q.Set("encrypt", cfg.Encrypt)
	}
	if cfg.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	if cfg.Timeout > 0 {
		q.Set("connection timeout", strconv.Itoa(int(cfg.Timeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func splitServer(server string) (host, instance string, port int) {
	host = strings.TrimPrefix(strings.TrimSpace(server), "tcp:")

	if i := strings.LastIndex(host, ","); i >= 0 {
		if p, err := strconv.Atoi(strings.TrimSpace(host[i+1:])); err == nil {
			port = p
		}
		host = host[:i]
	}
	if i := strings.Index(host, `\`); i >= 0 {
		instance = host[i+1:]
		host = host[:i]
	}
	if host == "." || strings.EqualFold(host, "(local)") {
		host = "localhost"
	}
	return host, instance, port
}

// ListObjects returns every object of kind, ordered by schema and name.
func (s *Impl) ListObjects(ctx context.Context, kind models.ObjectKind) ([]models.SchemaObject, error) {
	types, ok := objectTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported object kind %s", kind)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(listObjectsQuery, types, ""))
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
	types, ok := objectTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported object kind %s", kind)
	}

	query := fmt.Sprintf(listObjectsQuery, types, " AND s.name = @p1 AND o.name = @p2")
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

// Script returns the definition of obj.
func (s *Impl) Script(ctx context.Context, obj models.SchemaObject) (string, error) {
	if obj.Kind == models.KindTable {
		script, err := s.scriptTable(ctx, obj)
		return script, classify(err)
	}
	script, err := s.scriptModule(ctx, obj)
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

func (s *Impl) scriptModule(ctx context.Context, obj models.SchemaObject) (string, error) {
	var def sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT m.definition FROM sys.sql_modules m WHERE m.object_id = @p1`, obj.ID).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		// CLR modules have no T-SQL body.
		return s.scriptAssemblyModule(ctx, obj)
	}
	if err != nil {
		return "", dbutil.NotFound(err, fmt.Sprintf("%s %s", obj.Kind, obj.Ref))
	}
	if !def.Valid {
		if obj.IsEncrypted {
			return "", fmt.Errorf("%w: %s %s", models.ErrEncrypted, obj.Kind, obj.Ref)
		}
		return "", fmt.Errorf("%w: no VIEW DEFINITION on %s %s", models.ErrPermission, obj.Kind, obj.Ref)
	}
	return dbutil.TrimDefinition(def.String), nil
}

// permissionErrors are SQL Server error numbers raised for missing rights.
var permissionErrors = map[int32]bool{
	229:   true, // permission denied on object
	230:   true, // permission denied on column
	262:   true, // permission denied in database
	297:   true, // user does not have permission
	300:   true, // VIEW DEFINITION denied
	916:   true, // server principal cannot access database
	15151: true, // cannot find object or no permission
}

// connectionErrors are raised while opening the session.
var connectionErrors = map[int32]bool{
	4060:  true, // cannot open database
	18456: true, // login failed
}

func classify(err error) error {
	if err == nil || models.Classify(err) != nil {
		return err
	}

	var numbered interface{ SQLErrorNumber() int32 }
	if errors.As(err, &numbered) {
		switch n := numbered.SQLErrorNumber(); {
		case permissionErrors[n]:
			return fmt.Errorf("%w: %w", models.ErrPermission, err)
		case connectionErrors[n]:
			return fmt.Errorf("%w: %w", models.ErrConnection, err)
		}
	}
	return err
}
