// Package dbutil holds database/sql helpers shared by the catalog engines.
package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sql2fs/sql2fs/internal/models"
)

// DefaultTimeout bounds the initial connection check when none is configured.
const DefaultTimeout = 30 * time.Second

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ping verifies the connection within timeout and wraps failures as
// connection errors.
func Ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", models.ErrConnection, err)
	}
	return nil
}

// ScanObjects reads rows of (id, schema, name, encrypted) into schema objects.
func ScanObjects(rows *sql.Rows, kind models.ObjectKind) ([]models.SchemaObject, error) {
	defer rows.Close()

	var objects []models.SchemaObject
	for rows.Next() {
		var (
			id        int64
			schema    string
			name      string
			encrypted int64
		)
		if err := rows.Scan(&id, &schema, &name, &encrypted); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		objects = append(objects, models.SchemaObject{
			Ref:         models.SchemaObjectRef{Schema: schema, Name: name},
			Kind:        kind,
			ID:          id,
			IsEncrypted: encrypted != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s list: %w", kind, err)
	}
	return objects, nil
}

// FirstObject returns the only object of a lookup, or ErrObjectNotFound.
func FirstObject(objects []models.SchemaObject, kind models.ObjectKind, ref models.SchemaObjectRef) (*models.SchemaObject, error) {
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: %s %s", models.ErrObjectNotFound, kind, ref)
	}
	return &objects[0], nil
}

// QueryStrings runs query and returns the first column of every row. NULL
// values are returned as empty strings.
func QueryStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s.String)
	}
	return out, rows.Err()
}

// QueryColumn runs a query returning a single row and returns the named
// column. Used for SHOW CREATE statements whose column count varies.
func QueryColumn(ctx context.Context, q Querier, column string, query string, args ...any) (sql.NullString, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return sql.NullString{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return sql.NullString{}, err
	}
	idx := -1
	for i, c := range cols {
		if strings.EqualFold(c, column) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return sql.NullString{}, fmt.Errorf("column %q not in result", column)
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return sql.NullString{}, err
		}
		return sql.NullString{}, sql.ErrNoRows
	}

	vals := make([]sql.NullString, len(cols))
	dests := make([]any, len(cols))
	for i := range vals {
		dests[i] = &vals[i]
	}
	if err := rows.Scan(dests...); err != nil {
		return sql.NullString{}, err
	}
	return vals[idx], rows.Err()
}

// NotFound converts sql.ErrNoRows into ErrObjectNotFound.
func NotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrObjectNotFound, what)
	}
	return err
}

// TrimDefinition strips trailing blank space from a stored definition.
func TrimDefinition(def string) string {
	return strings.TrimRight(def, " \t\r\n")
}
