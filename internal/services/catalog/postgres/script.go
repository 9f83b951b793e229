package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/sql2fs/sql2fs/internal/dbutil"
	"github.com/sql2fs/sql2fs/internal/models"
)

type column struct {
	Name      string
	Type      string
	NotNull   bool
	Default   string
	Identity  string // 'a' always, 'd' by default, empty otherwise
	Generated string // 's' stored, empty otherwise
}

type constraint struct {
	Name       string
	Definition string
}

type tableInfo struct {
	Partitioned bool
	Unlogged    bool
	PartKey     string
}

const tableInfoQuery = `
SELECT c.relkind = 'p', c.relpersistence = 'u', COALESCE(pg_get_partkeydef(c.oid), '')
FROM pg_class c
WHERE c.oid = $1`

const columnsQuery = `
SELECT a.attname, format_type(a.atttypid, a.atttypmod), a.attnotnull,
       COALESCE(pg_get_expr(d.adbin, d.adrelid), ''), a.attidentity::text, a.attgenerated::text
FROM pg_attribute a
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE a.attrelid = $1 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

const inlineConstraintsQuery = `
SELECT conname, pg_get_constraintdef(oid, true)
FROM pg_constraint
WHERE conrelid = $1 AND contype IN ('p', 'u', 'c', 'x') AND conislocal
ORDER BY CASE contype WHEN 'p' THEN 0 WHEN 'u' THEN 1 WHEN 'c' THEN 2 ELSE 3 END, conname`

const foreignKeysQuery = `
SELECT conname, pg_get_constraintdef(oid, true)
FROM pg_constraint
WHERE conrelid = $1 AND contype = 'f'
ORDER BY conname`

const indexesQuery = `
SELECT pg_get_indexdef(i.indexrelid)
FROM pg_index i
JOIN pg_class ic ON ic.oid = i.indexrelid
WHERE i.indrelid = $1
  AND NOT EXISTS (
    SELECT 1 FROM pg_constraint c
    WHERE c.conrelid = i.indrelid AND c.conindid = i.indexrelid AND c.contype IN ('p', 'u', 'x'))
ORDER BY ic.relname`

const triggersQuery = `
SELECT t.tgname, pg_get_triggerdef(t.oid, true), t.tgenabled = 'D'
FROM pg_trigger t
WHERE t.tgrelid = $1 AND NOT t.tgisinternal
ORDER BY t.tgname`

const viewQuery = `
SELECT c.relkind = 'm', c.relispopulated, pg_get_viewdef(c.oid, true)
FROM pg_class c
WHERE c.oid = $1`

const routinesDefQuery = `
SELECT pg_get_functiondef(p.oid)
FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
WHERE n.nspname = $1 AND p.proname = $2 AND p.prokind = $3
ORDER BY p.oid`

func qualify(ref models.SchemaObjectRef) string {
	return pq.QuoteIdentifier(ref.Schema) + "." + pq.QuoteIdentifier(ref.Name)
}

func (s *Impl) scriptTable(ctx context.Context, obj models.SchemaObject) (string, error) {
	var info tableInfo
	err := s.db.QueryRowContext(ctx, tableInfoQuery, obj.ID).Scan(&info.Partitioned, &info.Unlogged, &info.PartKey)
	if err != nil {
		return "", dbutil.NotFound(err, fmt.Sprintf("%s %s", obj.Kind, obj.Ref))
	}

	rows, err := s.db.QueryContext(ctx, columnsQuery, obj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read columns of %s: %w", obj.Ref, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &c.Default, &c.Identity, &c.Generated); err != nil {
			return "", err
		}
		c.Identity = strings.TrimRight(c.Identity, "\x00")
		c.Generated = strings.TrimRight(c.Generated, "\x00")
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	constraints, err := s.constraints(ctx, inlineConstraintsQuery, obj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read constraints of %s: %w", obj.Ref, err)
	}

	return renderTable(obj.Ref, info, cols, constraints), nil
}

func (s *Impl) constraints(ctx context.Context, query string, id int64) ([]constraint, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []constraint
	for rows.Next() {
		var c constraint
		if err := rows.Scan(&c.Name, &c.Definition); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Impl) scriptView(ctx context.Context, obj models.SchemaObject) (string, error) {
	var (
		materialized, populated bool
		def                     string
	)
	err := s.db.QueryRowContext(ctx, viewQuery, obj.ID).Scan(&materialized, &populated, &def)
	if err != nil {
		return "", dbutil.NotFound(err, fmt.Sprintf("%s %s", obj.Kind, obj.Ref))
	}
	return renderView(obj.Ref, materialized, populated, def), nil
}

func (s *Impl) scriptRoutines(ctx context.Context, obj models.SchemaObject) (string, error) {
	prokind, ok := routineKinds[obj.Kind]
	if !ok {
		return "", fmt.Errorf("unsupported object kind %s", obj.Kind)
	}

	defs, err := dbutil.QueryStrings(ctx, s.db, routinesDefQuery, obj.Ref.Schema, obj.Ref.Name, prokind)
	if err != nil {
		return "", err
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("%w: %s %s", models.ErrObjectNotFound, obj.Kind, obj.Ref)
	}
	for i, d := range defs {
		defs[i] = dbutil.TrimDefinition(d)
	}
	if len(defs) > 1 {
		s.logger.Debug().Str("object", obj.Ref.String()).Int("overloads", len(defs)).Msg("merging overloads")
	}
	return strings.Join(defs, "\n\n"), nil
}

func (s *Impl) scriptForeignKeys(ctx context.Context, obj models.SchemaObject) ([]string, error) {
	fks, err := s.constraints(ctx, foreignKeysQuery, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", obj.Ref, err)
	}

	scripts := make([]string, 0, len(fks))
	for _, fk := range fks {
		scripts = append(scripts, fmt.Sprintf("ALTER TABLE ONLY %s\n    ADD CONSTRAINT %s %s",
			qualify(obj.Ref), pq.QuoteIdentifier(fk.Name), fk.Definition))
	}
	return scripts, nil
}

func (s *Impl) scriptIndexes(ctx context.Context, obj models.SchemaObject) ([]string, error) {
	defs, err := dbutil.QueryStrings(ctx, s.db, indexesQuery, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes of %s: %w", obj.Ref, err)
	}
	return defs, nil
}

func (s *Impl) scriptTriggers(ctx context.Context, obj models.SchemaObject) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, triggersQuery, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read triggers of %s: %w", obj.Ref, err)
	}
	defer rows.Close()

	var scripts []string
	for rows.Next() {
		var (
			name, def string
			disabled  bool
		)
		if err := rows.Scan(&name, &def, &disabled); err != nil {
			return nil, err
		}
		scripts = append(scripts, def)
		if disabled {
			scripts = append(scripts, fmt.Sprintf("ALTER TABLE %s DISABLE TRIGGER %s",
				qualify(obj.Ref), pq.QuoteIdentifier(name)))
		}
	}
	return scripts, rows.Err()
}

func columnDefinition(c column) string {
	def := pq.QuoteIdentifier(c.Name) + " " + c.Type
	switch {
	case c.Generated == "s":
		def += " GENERATED ALWAYS AS (" + c.Default + ") STORED"
	case c.Identity == "a":
		def += " GENERATED ALWAYS AS IDENTITY"
	case c.Identity == "d":
		def += " GENERATED BY DEFAULT AS IDENTITY"
	case c.Default != "":
		def += " DEFAULT " + c.Default
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	return def
}

func renderTable(ref models.SchemaObjectRef, info tableInfo, cols []column, constraints []constraint) string {
	lines := make([]string, 0, len(cols)+len(constraints))
	for _, c := range cols {
		lines = append(lines, "    "+columnDefinition(c))
	}
	for _, c := range constraints {
		lines = append(lines, "    CONSTRAINT "+pq.QuoteIdentifier(c.Name)+" "+c.Definition)
	}

	create := "CREATE TABLE "
	if info.Unlogged {
		create = "CREATE UNLOGGED TABLE "
	}

	var b strings.Builder
	b.WriteString(create + qualify(ref) + " (\n")
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	if info.Partitioned && info.PartKey != "" {
		b.WriteString("\nPARTITION BY " + info.PartKey)
	}
	return b.String()
}

func renderView(ref models.SchemaObjectRef, materialized, populated bool, def string) string {
	def = strings.TrimSuffix(dbutil.TrimDefinition(def), ";")
	if !materialized {
		return "CREATE OR REPLACE VIEW " + qualify(ref) + " AS\n" + def
	}
	script := "CREATE MATERIALIZED VIEW " + qualify(ref) + " AS\n" + def
	if !populated {
		script += "\nWITH NO DATA"
	}
	return script
}
