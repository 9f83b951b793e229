// Package oracle implements the catalog for Oracle Database 12c and later.
// Objects are listed from the ALL_* dictionary views and scripted with
// DBMS_METADATA. Oracle-maintained schemas are never listed.
package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	goora "github.com/sijms/go-ora/v2"
	"github.com/sijms/go-ora/v2/network"
	"github.com/sql2fs/sql2fs/internal/dbutil"
	"github.com/sql2fs/sql2fs/internal/models"
)

// DefaultPort is used when neither the server string nor the config name one.
const DefaultPort = 1521

// A routine is reported as encrypted when its first source line carries the
// "wrapped" marker.
const listObjectsQuery = `
SELECT o.object_id, o.owner, o.object_name,
       CASE WHEN EXISTS (
         SELECT 1 FROM all_source s
         WHERE s.owner = o.owner AND s.name = o.object_name AND s.type = o.object_type
           AND s.line = 1 AND LOWER(s.text) LIKE '%%wrapped%%'
       ) THEN 1 ELSE 0 END
FROM all_objects o
JOIN all_users u ON u.username = o.owner
WHERE u.oracle_maintained = 'N'
  AND o.object_type = '%s'
  AND o.generated = 'N' AND o.secondary = 'N'
  AND o.object_name NOT LIKE 'BIN$%%'
  AND NOT EXISTS (SELECT 1 FROM all_mviews mv WHERE mv.owner = o.owner AND mv.mview_name = o.object_name)%s
ORDER BY o.owner, o.object_name`

const foreignKeysQuery = `
SELECT constraint_name FROM all_constraints
WHERE owner = :1 AND table_name = :2 AND constraint_type = 'R'
ORDER BY constraint_name`

const indexesQuery = `
SELECT i.index_name FROM all_indexes i
WHERE i.table_owner = :1 AND i.table_name = :2
  AND i.index_type <> 'LOB' AND i.generated = 'N'
  AND NOT EXISTS (
    SELECT 1 FROM all_constraints c
    WHERE c.owner = i.table_owner AND c.table_name = i.table_name
      AND c.index_name = i.index_name AND c.constraint_type IN ('P', 'U'))
ORDER BY i.index_name`

const triggersQuery = `
SELECT trigger_name FROM all_triggers
WHERE table_owner = :1 AND table_name = :2
ORDER BY trigger_name`

const getDDLQuery = `SELECT DBMS_METADATA.GET_DDL(:1, :2, :3) FROM dual`

// sessionTransforms keep constraints but drop storage clauses and inline
// foreign keys, which are scripted as related objects instead.
const sessionTransforms = `
BEGIN
  DBMS_METADATA.SET_TRANSFORM_PARAM(DBMS_METADATA.SESSION_TRANSFORM, 'SEGMENT_ATTRIBUTES', FALSE);
  DBMS_METADATA.SET_TRANSFORM_PARAM(DBMS_METADATA.SESSION_TRANSFORM, 'STORAGE', FALSE);
  DBMS_METADATA.SET_TRANSFORM_PARAM(DBMS_METADATA.SESSION_TRANSFORM, 'REF_CONSTRAINTS', FALSE);
  DBMS_METADATA.SET_TRANSFORM_PARAM(DBMS_METADATA.SESSION_TRANSFORM, 'SQLTERMINATOR', FALSE);
  DBMS_METADATA.SET_TRANSFORM_PARAM(DBMS_METADATA.SESSION_TRANSFORM, 'PRETTY', TRUE);
END;`

var objectTypes = map[models.ObjectKind]string{
	models.KindTable:               "TABLE",
	models.KindView:                "VIEW",
	models.KindStoredProcedure:     "PROCEDURE",
	models.KindUserDefinedFunction: "FUNCTION",
}

// Impl implements the catalog Service for Oracle.
type Impl struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to the service described by cfg. Database is the service name.
func Open(ctx context.Context, cfg models.ConnectionConfig, logger zerolog.Logger) (*Impl, error) {
	db, err := sql.Open("oracle", BuildURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connection settings: %w", models.ErrConfig, err)
	}
	// Transform parameters are per session, so all work shares one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := dbutil.Ping(ctx, db, cfg.Timeout); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	if _, err := db.ExecContext(ctx, sessionTransforms); err != nil {
		_ = db.Close()
		return nil, classify(fmt.Errorf("failed to set metadata transforms: %w", err))
	}

	logger.Debug().
		Str("server", cfg.Server).
		Str("service", cfg.Database).
		Msg("connected to Oracle")

	return NewWithDB(logger, db), nil
}

// NewWithDB creates an Oracle catalog on an existing connection pool. The
// pool must be limited to a single connection with the transforms applied.
func NewWithDB(logger zerolog.Logger, db *sql.DB) *Impl {
	return &Impl{
		db:     db,
		logger: logger,
	}
}

// BuildURL builds a go-ora connection URL. Server accepts host or host:port.
func BuildURL(cfg models.ConnectionConfig) string {
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

	options := map[string]string{}
	appName := cfg.AppName
	if appName == "" {
		appName = "sql2fs"
	}
	options["PROGRAM"] = appName
	if cfg.Timeout > 0 {
		options["TIMEOUT"] = strconv.Itoa(int(cfg.Timeout.Seconds()))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Encrypt)) {
	case "true", "yes", "mandatory", "strict":
		options["SSL"] = "true"
		if cfg.TrustServerCertificate {
			options["SSL VERIFY"] = "false"
		}
	}

	return goora.BuildUrl(host, port, cfg.Database, cfg.User, cfg.Password, options)
}

// ListObjects returns every object of kind, ordered by owner and name.
func (s *Impl) ListObjects(ctx context.Context, kind models.ObjectKind) ([]models.SchemaObject, error) {
	objType, ok := objectTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported object kind %s", kind)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(listObjectsQuery, objType, ""))
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

// GetObject looks up a single object by owner and name.
func (s *Impl) GetObject(ctx context.Context, kind models.ObjectKind, ref models.SchemaObjectRef) (*models.SchemaObject, error) {
	objType, ok := objectTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported object kind %s", kind)
	}

	query := fmt.Sprintf(listObjectsQuery, objType, "\n  AND o.owner = :1 AND o.object_name = :2")
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

// Script returns the DBMS_METADATA DDL of obj. Wrapped routines fail with
// ErrEncrypted.
func (s *Impl) Script(ctx context.Context, obj models.SchemaObject) (string, error) {
	objType, ok := objectTypes[obj.Kind]
	if !ok {
		return "", fmt.Errorf("unsupported object kind %s", obj.Kind)
	}
	if obj.IsEncrypted {
		return "", fmt.Errorf("%w: %s %s is wrapped", models.ErrEncrypted, obj.Kind, obj.Ref)
	}
	script, err := s.ddl(ctx, objType, obj.Ref.Name, obj.Ref.Schema)
	return script, classify(err)
}

// ScriptRelated returns the DDL of obj's sub-objects of kind rel.
func (s *Impl) ScriptRelated(ctx context.Context, obj models.SchemaObject, rel models.RelatedKind) ([]string, error) {
	var (
		query   string
		ddlType string
	)
	switch rel {
	case models.RelatedForeignKey:
		query, ddlType = foreignKeysQuery, "REF_CONSTRAINT"
	case models.RelatedIndex:
		query, ddlType = indexesQuery, "INDEX"
	case models.RelatedTrigger:
		query, ddlType = triggersQuery, "TRIGGER"
	default:
		return nil, fmt.Errorf("unsupported related kind %s", rel)
	}

	names, err := dbutil.QueryStrings(ctx, s.db, query, obj.Ref.Schema, obj.Ref.Name)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list %s objects of %s: %w", rel, obj.Ref, err))
	}

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		script, err := s.ddl(ctx, ddlType, name, obj.Ref.Schema)
		if err != nil {
			return nil, classify(err)
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

func (s *Impl) ddl(ctx context.Context, objType, name, owner string) (string, error) {
	var def sql.NullString
	if err := s.db.QueryRowContext(ctx, getDDLQuery, objType, name, owner).Scan(&def); err != nil {
		return "", dbutil.NotFound(err, fmt.Sprintf("%s %s.%s", strings.ToLower(objType), owner, name))
	}
	if !def.Valid {
		return "", fmt.Errorf("%w: %s %s.%s", models.ErrObjectNotFound, strings.ToLower(objType), owner, name)
	}
	return strings.TrimLeft(dbutil.TrimDefinition(def.String), " \t\r\n"), nil
}

// Close releases the connection.
func (s *Impl) Close() error {
	return s.db.Close()
}

var permissionErrors = map[int]bool{
	1031:  true, // insufficient privileges
}

var notFoundErrors = map[int]bool{
	942:   true, // table or view does not exist
	31603: true, // object not found in schema
}

var connectionErrors = map[int]bool{
	1017:  true, // invalid username/password
	28000: true, // account locked
	12514: true, // listener does not know service
	12541: true, // no listener
}

func classify(err error) error {
	if err == nil || models.Classify(err) != nil {
		return err
	}

	var oraErr *network.OracleError
	if errors.As(err, &oraErr) {
		switch {
		case permissionErrors[oraErr.ErrCode]:
			return fmt.Errorf("%w: %w", models.ErrPermission, err)
		case notFoundErrors[oraErr.ErrCode]:
			return fmt.Errorf("%w: %w", models.ErrObjectNotFound, err)
		case connectionErrors[oraErr.ErrCode]:
			return fmt.Errorf("%w: %w", models.ErrConnection, err)
		}
	}
	return err
}
