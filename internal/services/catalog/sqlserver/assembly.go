package sqlserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/sql2fs/sql2fs/internal/dbutil"
	"github.com/sql2fs/sql2fs/internal/models"
)

// CLR module types in sys.objects.
const (
	typeCLRProcedure     = "PC"
	typeCLRScalarFunc    = "FS"
	typeCLRTableFunction = "FT"
)

type assemblyModule struct {
	Type     string
	Assembly string
	Class    string
	Method   string
}

// parameter is a routine parameter; ID 0 is a scalar function's return value.
type parameter struct {
	ID     int64
	Type   column
	Output bool
}

const assemblyModuleQuery = `
SELECT RTRIM(o.type), a.name, ISNULL(am.assembly_class, ''), ISNULL(am.assembly_method, '')
FROM sys.assembly_modules am
JOIN sys.assemblies a ON a.assembly_id = am.assembly_id
JOIN sys.objects o ON o.object_id = am.object_id
WHERE am.object_id = @p1`

const parametersQuery = `
SELECT p.parameter_id, p.name, t.name, SCHEMA_NAME(t.schema_id), t.is_user_defined,
       p.max_length, p.precision, p.scale, p.is_output
FROM sys.parameters p
JOIN sys.types t ON t.user_type_id = p.user_type_id
WHERE p.object_id = @p1
ORDER BY p.parameter_id`

func (s *Impl) scriptAssemblyModule(ctx context.Context, obj models.SchemaObject) (string, error) {
	var m assemblyModule
	err := s.db.QueryRowContext(ctx, assemblyModuleQuery, obj.ID).
		Scan(&m.Type, &m.Assembly, &m.Class, &m.Method)
	if err != nil {
		return "", dbutil.NotFound(err, fmt.Sprintf("%s %s", obj.Kind, obj.Ref))
	}

	params, err := s.parameters(ctx, obj.ID)
	if err != nil {
		return "", err
	}

	var cols []column
	if m.Type == typeCLRTableFunction {
		if cols, err = s.columns(ctx, obj.ID); err != nil {
			return "", err
		}
	}

	s.logger.Debug().Str("object", obj.Ref.String()).Str("assembly", m.Assembly).Msg("scripting CLR module")
	return renderAssemblyModule(obj.Ref, m, params, cols), nil
}

func (s *Impl) parameters(ctx context.Context, id int64) ([]parameter, error) {
	rows, err := s.db.QueryContext(ctx, parametersQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []parameter
	for rows.Next() {
		var p parameter
		if err := rows.Scan(&p.ID, &p.Type.Name, &p.Type.TypeName, &p.Type.TypeSchema, &p.Type.UserDefined,
			&p.Type.MaxLength, &p.Type.Precision, &p.Type.Scale, &p.Output); err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

func externalName(m assemblyModule) string {
	return quoteName(m.Assembly) + "." + quoteName(m.Class) + "." + quoteName(m.Method)
}

func renderAssemblyModule(ref models.SchemaObjectRef, m assemblyModule, params []parameter, cols []column) string {
	var (
		args    []string
		returns string
	)
	for _, p := range params {
		if p.ID == 0 {
			returns = formatType(p.Type)
			continue
		}
		arg := p.Type.Name + " " + formatType(p.Type)
		if p.Output {
			arg += " OUTPUT"
		}
		args = append(args, arg)
	}

	var b strings.Builder
	switch m.Type {
	case typeCLRProcedure:
		b.WriteString("CREATE PROCEDURE " + qualify(ref))
		if len(args) > 0 {
			b.WriteString("\n\t" + strings.Join(args, ",\n\t"))
		}
		b.WriteString("\n")
	default:
		b.WriteString("CREATE FUNCTION " + qualify(ref) + "(" + strings.Join(args, ", ") + ")\n")
		if m.Type == typeCLRTableFunction {
			defs := make([]string, 0, len(cols))
			for _, c := range cols {
				defs = append(defs, columnDefinition(c))
			}
			b.WriteString("RETURNS TABLE (\n\t" + strings.Join(defs, ",\n\t") + "\n)\n")
		} else {
			b.WriteString("RETURNS " + returns + "\n")
		}
	}
	b.WriteString("WITH EXECUTE AS CALLER\nAS\nEXTERNAL NAME " + externalName(m))
	return b.String()
}
