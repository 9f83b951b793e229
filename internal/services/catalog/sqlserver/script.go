package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sql2fs/sql2fs/internal/dbutil"
	"github.com/sql2fs/sql2fs/internal/models"
)

type column struct {
	Name        string
	TypeName    string
	TypeSchema  string
	UserDefined bool
	MaxLength   int64
	Precision   int64
	Scale       int64
	Nullable    bool
	Identity    bool
	Seed        int64
	Increment   int64
	Computed    string
	Persisted   bool
}

type indexColumn struct {
	Name       string
	Descending bool
	Included   bool
}

type keyConstraint struct {
	Name      string
	Primary   bool
	Clustered bool
	Columns   []indexColumn
}

type defaultConstraint struct {
	Name       string
	Column     string
	Definition string
}

type checkConstraint struct {
	Name       string
	Definition string
	Disabled   bool
	NotTrusted bool
}

type foreignKey struct {
	Name       string
	RefSchema  string
	RefTable   string
	Columns    []string
	RefColumns []string
	OnDelete   string
	OnUpdate   string
	Disabled   bool
	NotTrusted bool
}

type index struct {
	ID        int64
	Name      string
	Unique    bool
	Clustered bool
	Filter    string
	Columns   []indexColumn
}

type trigger struct {
	Name       string
	Definition sql.NullString
	Disabled   bool
}

const columnsQuery = `
SELECT c.name, t.name, SCHEMA_NAME(t.schema_id), t.is_user_defined,
       c.max_length, c.precision, c.scale, c.is_nullable, c.is_identity,
       ISNULL(CAST(ic.seed_value AS bigint), 0), ISNULL(CAST(ic.increment_value AS bigint), 0),
       ISNULL(cc.definition, ''), ISNULL(cc.is_persisted, 0)
FROM sys.columns c
JOIN sys.types t ON t.user_type_id = c.user_type_id
LEFT JOIN sys.identity_columns ic ON ic.object_id = c.object_id AND ic.column_id = c.column_id
LEFT JOIN sys.computed_columns cc ON cc.object_id = c.object_id AND cc.column_id = c.column_id
WHERE c.object_id = @p1
ORDER BY c.column_id`

const keyConstraintsQuery = `
SELECT kc.name, kc.type, i.type_desc, col.name, ic.is_descending_key
FROM sys.key_constraints kc
JOIN sys.indexes i ON i.object_id = kc.parent_object_id AND i.index_id = kc.unique_index_id
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
WHERE kc.parent_object_id = @p1
ORDER BY kc.type, kc.name, ic.key_ordinal`

const defaultConstraintsQuery = `
SELECT dc.name, col.name, dc.definition
FROM sys.default_constraints dc
JOIN sys.columns col ON col.object_id = dc.parent_object_id AND col.column_id = dc.parent_column_id
WHERE dc.parent_object_id = @p1
ORDER BY col.column_id`

const checkConstraintsQuery = `
SELECT cc.name, cc.definition, cc.is_disabled, cc.is_not_trusted
FROM sys.check_constraints cc
WHERE cc.parent_object_id = @p1
ORDER BY cc.name`

const foreignKeysQuery = `
SELECT fk.name, rs.name, rt.name, pc.name, rc.name,
       fk.delete_referential_action_desc, fk.update_referential_action_desc,
       fk.is_disabled, fk.is_not_trusted
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
JOIN sys.objects rt ON rt.object_id = fk.referenced_object_id
JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
WHERE fk.parent_object_id = @p1
ORDER BY fk.name, fkc.constraint_column_id`

const indexesQuery = `
SELECT i.index_id, i.name, i.is_unique, i.type_desc, ISNULL(i.filter_definition, ''),
       col.name, ic.is_descending_key, ic.is_included_column
FROM sys.indexes i
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
WHERE i.object_id = @p1
  AND i.is_primary_key = 0 AND i.is_unique_constraint = 0
  AND i.is_hypothetical = 0 AND i.type IN (1, 2)
ORDER BY i.index_id, ic.is_included_column, ic.key_ordinal, ic.index_column_id`

const triggersQuery = `
SELECT tr.name, m.definition, tr.is_disabled
FROM sys.triggers tr
LEFT JOIN sys.sql_modules m ON m.object_id = tr.object_id
WHERE tr.parent_id = @p1
ORDER BY tr.name`

func (s *Impl) scriptTable(ctx context.Context, obj models.SchemaObject) (string, error) {
	cols, err := s.columns(ctx, obj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read columns of %s: %w", obj.Ref, err)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("%w: table %s has no visible columns", models.ErrObjectNotFound, obj.Ref)
	}
	keys, err := s.keyConstraints(ctx, obj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read keys of %s: %w", obj.Ref, err)
	}
	defaults, err := s.defaultConstraints(ctx, obj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read defaults of %s: %w", obj.Ref, err)
	}
	checks, err := s.checkConstraints(ctx, obj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read check constraints of %s: %w", obj.Ref, err)
	}

	return renderTable(obj.Ref, cols, keys, defaults, checks), nil
}

func (s *Impl) columns(ctx context.Context, id int64) ([]column, error) {
	rows, err := s.db.QueryContext(ctx, columnsQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Name, &c.TypeName, &c.TypeSchema, &c.UserDefined,
			&c.MaxLength, &c.Precision, &c.Scale, &c.Nullable, &c.Identity,
			&c.Seed, &c.Increment, &c.Computed, &c.Persisted); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *Impl) keyConstraints(ctx context.Context, id int64) ([]keyConstraint, error) {
	rows, err := s.db.QueryContext(ctx, keyConstraintsQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []keyConstraint
	for rows.Next() {
		var (
			name, kind, typeDesc, col string
			desc                      bool
		)
		if err := rows.Scan(&name, &kind, &typeDesc, &col, &desc); err != nil {
			return nil, err
		}
		if len(keys) == 0 || keys[len(keys)-1].Name != name {
			keys = append(keys, keyConstraint{
				Name:      name,
				Primary:   strings.TrimSpace(kind) == "PK",
				Clustered: typeDesc == "CLUSTERED",
			})
		}
		k := &keys[len(keys)-1]
		k.Columns = append(k.Columns, indexColumn{Name: col, Descending: desc})
	}
	return keys, rows.Err()
}

func (s *Impl) defaultConstraints(ctx context.Context, id int64) ([]defaultConstraint, error) {
	rows, err := s.db.QueryContext(ctx, defaultConstraintsQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []defaultConstraint
	for rows.Next() {
		var d defaultConstraint
		if err := rows.Scan(&d.Name, &d.Column, &d.Definition); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Impl) checkConstraints(ctx context.Context, id int64) ([]checkConstraint, error) {
	rows, err := s.db.QueryContext(ctx, checkConstraintsQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []checkConstraint
	for rows.Next() {
		var c checkConstraint
		if err := rows.Scan(&c.Name, &c.Definition, &c.Disabled, &c.NotTrusted); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Impl) scriptForeignKeys(ctx context.Context, obj models.SchemaObject) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, foreignKeysQuery, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", obj.Ref, err)
	}
	defer rows.Close()

	var fks []foreignKey
	for rows.Next() {
		var (
			name, refSchema, refTable, col, refCol, onDelete, onUpdate string
			disabled, notTrusted                                      bool
		)
		if err := rows.Scan(&name, &refSchema, &refTable, &col, &refCol,
			&onDelete, &onUpdate, &disabled, &notTrusted); err != nil {
			return nil, err
		}
		if len(fks) == 0 || fks[len(fks)-1].Name != name {
			fks = append(fks, foreignKey{
				Name:       name,
				RefSchema:  refSchema,
				RefTable:   refTable,
				OnDelete:   onDelete,
				OnUpdate:   onUpdate,
				Disabled:   disabled,
				NotTrusted: notTrusted,
			})
		}
		fk := &fks[len(fks)-1]
		fk.Columns = append(fk.Columns, col)
		fk.RefColumns = append(fk.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return renderForeignKeys(obj.Ref, fks), nil
}

func (s *Impl) scriptIndexes(ctx context.Context, obj models.SchemaObject) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, indexesQuery, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes of %s: %w", obj.Ref, err)
	}
	defer rows.Close()

	var idxs []index
	for rows.Next() {
		var (
			id                   int64
			name, typeDesc, filt string
			unique               bool
			col                  string
			desc, included       bool
		)
		if err := rows.Scan(&id, &name, &unique, &typeDesc, &filt, &col, &desc, &included); err != nil {
			return nil, err
		}
		if len(idxs) == 0 || idxs[len(idxs)-1].ID != id {
			idxs = append(idxs, index{
				ID:        id,
				Name:      name,
				Unique:    unique,
				Clustered: typeDesc == "CLUSTERED",
				Filter:    filt,
			})
		}
		ix := &idxs[len(idxs)-1]
		ix.Columns = append(ix.Columns, indexColumn{Name: col, Descending: desc, Included: included})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scripts := make([]string, 0, len(idxs))
	for _, ix := range idxs {
		scripts = append(scripts, renderIndex(obj.Ref, ix))
	}
	return scripts, nil
}

func (s *Impl) scriptTriggers(ctx context.Context, obj models.SchemaObject) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, triggersQuery, obj.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read triggers of %s: %w", obj.Ref, err)
	}
	defer rows.Close()

	var triggers []trigger
	for rows.Next() {
		var tr trigger
		if err := rows.Scan(&tr.Name, &tr.Definition, &tr.Disabled); err != nil {
			return nil, err
		}
		triggers = append(triggers, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var scripts []string
	for _, tr := range triggers {
		if !tr.Definition.Valid {
			s.logger.Warn().
				Str("object", obj.Ref.String()).
				Str("trigger", tr.Name).
				Msg("trigger definition is not readable, skipping")
			continue
		}
		scripts = append(scripts, dbutil.TrimDefinition(tr.Definition.String))
		if tr.Disabled {
			scripts = append(scripts, fmt.Sprintf("DISABLE TRIGGER %s.%s ON %s",
				quoteName(obj.Ref.Schema), quoteName(tr.Name), qualify(obj.Ref)))
		}
	}
	return scripts, nil
}

func quoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func qualify(ref models.SchemaObjectRef) string {
	return quoteName(ref.Schema) + "." + quoteName(ref.Name)
}

func formatType(c column) string {
	if c.UserDefined {
		return quoteName(c.TypeSchema) + "." + quoteName(c.TypeName)
	}

	t := quoteName(c.TypeName)
	switch strings.ToLower(c.TypeName) {
	case "varchar", "char", "varbinary", "binary":
		return t + "(" + formatLength(c.MaxLength, 1) + ")"
	case "nvarchar", "nchar":
		return t + "(" + formatLength(c.MaxLength, 2) + ")"
	case "decimal", "numeric":
		return fmt.Sprintf("%s(%d, %d)", t, c.Precision, c.Scale)
	case "datetime2", "time", "datetimeoffset":
		return fmt.Sprintf("%s(%d)", t, c.Scale)
	case "float":
		if c.Precision != 53 {
			return fmt.Sprintf("%s(%d)", t, c.Precision)
		}
	}
	return t
}

func formatLength(maxLength int64, bytesPerChar int64) string {
	if maxLength == -1 {
		return "max"
	}
	return fmt.Sprintf("%d", maxLength/bytesPerChar)
}

func columnDefinition(c column) string {
	if c.Computed != "" {
		def := quoteName(c.Name) + " AS " + c.Computed
		if c.Persisted {
			def += " PERSISTED"
		}
		return def
	}

	def := quoteName(c.Name) + " " + formatType(c)
	if c.Identity {
		def += fmt.Sprintf(" IDENTITY(%d,%d)", c.Seed, c.Increment)
	}
	if c.Nullable {
		def += " NULL"
	} else {
		def += " NOT NULL"
	}
	return def
}

func indexColumnList(cols []indexColumn) string {
	var parts []string
	for _, c := range cols {
		if c.Included {
			continue
		}
		dir := "ASC"
		if c.Descending {
			dir = "DESC"
		}
		parts = append(parts, "\t"+quoteName(c.Name)+" "+dir)
	}
	return "(\n" + strings.Join(parts, ",\n") + "\n)"
}

func clusteredKeyword(clustered bool) string {
	if clustered {
		return "CLUSTERED"
	}
	return "NONCLUSTERED"
}

func renderTable(ref models.SchemaObjectRef, cols []column, keys []keyConstraint, defaults []defaultConstraint, checks []checkConstraint) string {
	name := qualify(ref)

	lines := make([]string, 0, len(cols)+len(keys))
	for _, c := range cols {
		lines = append(lines, "\t"+columnDefinition(c))
	}
	for _, k := range keys {
		kind := "UNIQUE"
		if k.Primary {
			kind = "PRIMARY KEY"
		}
		lines = append(lines, fmt.Sprintf(" CONSTRAINT %s %s %s \n%s",
			quoteName(k.Name), kind, clusteredKeyword(k.Clustered), indexColumnList(k.Columns)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s(\n%s\n)", name, strings.Join(lines, ",\n"))

	for _, d := range defaults {
		fmt.Fprintf(&b, "\nALTER TABLE %s ADD CONSTRAINT %s DEFAULT %s FOR %s",
			name, quoteName(d.Name), d.Definition, quoteName(d.Column))
	}
	for _, c := range checks {
		check := "WITH CHECK"
		if c.NotTrusted {
			check = "WITH NOCHECK"
		}
		fmt.Fprintf(&b, "\nALTER TABLE %s %s ADD CONSTRAINT %s CHECK %s",
			name, check, quoteName(c.Name), c.Definition)
		if c.Disabled {
			fmt.Fprintf(&b, "\nALTER TABLE %s NOCHECK CONSTRAINT %s", name, quoteName(c.Name))
		}
	}
	return b.String()
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteName(n)
	}
	return strings.Join(quoted, ", ")
}

func referentialAction(desc string) string {
	return strings.ReplaceAll(desc, "_", " ")
}

func renderForeignKeys(ref models.SchemaObjectRef, fks []foreignKey) []string {
	name := qualify(ref)
	scripts := make([]string, 0, len(fks))
	for _, fk := range fks {
		check := "WITH CHECK"
		if fk.NotTrusted {
			check = "WITH NOCHECK"
		}

		var b strings.Builder
		fmt.Fprintf(&b, "ALTER TABLE %s %s ADD CONSTRAINT %s FOREIGN KEY(%s)\nREFERENCES %s.%s (%s)",
			name, check, quoteName(fk.Name), quoteList(fk.Columns),
			quoteName(fk.RefSchema), quoteName(fk.RefTable), quoteList(fk.RefColumns))
		if fk.OnDelete != "" && fk.OnDelete != "NO_ACTION" {
			b.WriteString("\nON DELETE " + referentialAction(fk.OnDelete))
		}
		if fk.OnUpdate != "" && fk.OnUpdate != "NO_ACTION" {
			b.WriteString("\nON UPDATE " + referentialAction(fk.OnUpdate))
		}
		if fk.Disabled {
			fmt.Fprintf(&b, "\nALTER TABLE %s NOCHECK CONSTRAINT %s", name, quoteName(fk.Name))
		}
		scripts = append(scripts, b.String())
	}
	return scripts
}

func renderIndex(ref models.SchemaObjectRef, ix index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if ix.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "%s INDEX %s ON %s\n%s", clusteredKeyword(ix.Clustered), quoteName(ix.Name), qualify(ref), indexColumnList(ix.Columns))

	var included []string
	for _, c := range ix.Columns {
		if c.Included {
			included = append(included, c.Name)
		}
	}
	if len(included) > 0 {
		b.WriteString("\nINCLUDE(" + quoteList(included) + ")")
	}
	if ix.Filter != "" {
		b.WriteString("\nWHERE " + ix.Filter)
	}
	return b.String()
}
