package sqlserver

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(models.ConnectionConfig{
		Server:                 `db01\SQLEXPRESS`,
		Database:               "Sales",
		User:                   "exporter",
		Password:               "p@ss;word",
		Encrypt:                "disable",
		TrustServerCertificate: true,
		Timeout:                15 * time.Second,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "db01", u.Host)
	assert.Equal(t, "SQLEXPRESS", u.Path)
	assert.Equal(t, "exporter", u.User.Username())
	pass, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss;word", pass)

	q := u.Query()
	assert.Equal(t, "Sales", q.Get("database"))
	assert.Equal(t, DefaultAppName, q.Get("app name"))
	assert.Equal(t, "disable", q.Get("encrypt"))
	assert.Equal(t, "true", q.Get("TrustServerCertificate"))
	assert.Equal(t, "15", q.Get("connection timeout"))
}

func TestBuildDSN_IntegratedAuthAndPort(t *testing.T) {
	dsn := BuildDSN(models.ConnectionConfig{
		Server:   "tcp:sql.internal,1533",
		Database: "master",
		AppName:  "nightly",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Nil(t, u.User)
	assert.Equal(t, "sql.internal:1533", u.Host)
	assert.Equal(t, "nightly", u.Query().Get("app name"))
	assert.Empty(t, u.Query().Get("encrypt"))
	assert.Empty(t, u.Query().Get("TrustServerCertificate"))
}

func TestBuildDSN_PortOverride(t *testing.T) {
	u, err := url.Parse(BuildDSN(models.ConnectionConfig{Server: "db,1433", Port: 2000}))

	require.NoError(t, err)
	assert.Equal(t, "db:2000", u.Host)
}

func TestSplitServer(t *testing.T) {
	tests := []struct {
		server   string
		host     string
		instance string
		port     int
	}{
		{"localhost", "localhost", "", 0},
		{".", "localhost", "", 0},
		{`(local)\SQL2019`, "localhost", "SQL2019", 0},
		{"db01,1444", "db01", "", 1444},
		{"tcp:db01, 1444", "db01", "", 1444},
		{`db01\INST`, "db01", "INST", 0},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			host, instance, port := splitServer(tt.server)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.instance, instance)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestQuoteName(t *testing.T) {
	assert.Equal(t, "[Customers]", quoteName("Customers"))
	assert.Equal(t, "[odd]]name]", quoteName("odd]name"))
	assert.Equal(t, "[dbo].[Orders]", qualify(models.SchemaObjectRef{Schema: "dbo", Name: "Orders"}))
}

func TestFormatType(t *testing.T) {
	tests := []struct {
		name     string
		col      column
		expected string
	}{
		{"int", column{TypeName: "int"}, "[int]"},
		{"varchar", column{TypeName: "varchar", MaxLength: 50}, "[varchar](50)"},
		{"varchar max", column{TypeName: "varchar", MaxLength: -1}, "[varchar](max)"},
		{"nvarchar", column{TypeName: "nvarchar", MaxLength: 200}, "[nvarchar](100)"},
		{"nvarchar max", column{TypeName: "nvarchar", MaxLength: -1}, "[nvarchar](max)"},
		{"decimal", column{TypeName: "decimal", Precision: 18, Scale: 2}, "[decimal](18, 2)"},
		{"datetime2", column{TypeName: "datetime2", Scale: 7}, "[datetime2](7)"},
		{"float default", column{TypeName: "float", Precision: 53}, "[float]"},
		{"float real", column{TypeName: "float", Precision: 24}, "[float](24)"},
		{"user type", column{TypeName: "Phone", TypeSchema: "dbo", UserDefined: true}, "[dbo].[Phone]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatType(tt.col))
		})
	}
}

func TestRenderTable(t *testing.T) {
	ref := models.SchemaObjectRef{Schema: "dbo", Name: "Customers"}
	cols := []column{
		{Name: "Id", TypeName: "int", Identity: true, Seed: 1, Increment: 1},
		{Name: "Name", TypeName: "nvarchar", MaxLength: 100, Nullable: true},
		{Name: "Upper", Computed: "(upper([Name]))"},
	}
	keys := []keyConstraint{
		{Name: "PK_Customers", Primary: true, Clustered: true, Columns: []indexColumn{{Name: "Id"}}},
	}
	defaults := []defaultConstraint{{Name: "DF_Name", Column: "Name", Definition: "('x')"}}
	checks := []checkConstraint{{Name: "CK_Name", Definition: "([Name]<>'')", NotTrusted: true, Disabled: true}}

	script := renderTable(ref, cols, keys, defaults, checks)

	expected := "CREATE TABLE [dbo].[Customers](\n" +
		"\t[Id] [int] IDENTITY(1,1) NOT NULL,\n" +
		"\t[Name] [nvarchar](50) NULL,\n" +
		"\t[Upper] AS (upper([Name])),\n" +
		" CONSTRAINT [PK_Customers] PRIMARY KEY CLUSTERED \n(\n\t[Id] ASC\n)\n)" +
		"\nALTER TABLE [dbo].[Customers] ADD CONSTRAINT [DF_Name] DEFAULT ('x') FOR [Name]" +
		"\nALTER TABLE [dbo].[Customers] WITH NOCHECK ADD CONSTRAINT [CK_Name] CHECK ([Name]<>'')" +
		"\nALTER TABLE [dbo].[Customers] NOCHECK CONSTRAINT [CK_Name]"
	assert.Equal(t, expected, script)
}

func TestRenderForeignKeys(t *testing.T) {
	ref := models.SchemaObjectRef{Schema: "sales", Name: "Orders"}
	fks := []foreignKey{
		{
			Name: "FK_Orders_Customers", RefSchema: "dbo", RefTable: "Customers",
			Columns: []string{"CustomerId"}, RefColumns: []string{"Id"},
			OnDelete: "CASCADE", OnUpdate: "NO_ACTION",
		},
		{
			Name: "FK_Orders_Regions", RefSchema: "dbo", RefTable: "Regions",
			Columns: []string{"Country", "Region"}, RefColumns: []string{"Country", "Code"},
			OnDelete: "SET_NULL", Disabled: true, NotTrusted: true,
		},
	}

	scripts := renderForeignKeys(ref, fks)

	require.Len(t, scripts, 2)
	assert.Equal(t, "ALTER TABLE [sales].[Orders] WITH CHECK ADD CONSTRAINT [FK_Orders_Customers] FOREIGN KEY([CustomerId])\n"+
		"REFERENCES [dbo].[Customers] ([Id])\nON DELETE CASCADE", scripts[0])
	assert.Contains(t, scripts[1], "WITH NOCHECK ADD CONSTRAINT [FK_Orders_Regions] FOREIGN KEY([Country], [Region])")
	assert.Contains(t, scripts[1], "ON DELETE SET NULL")
	assert.Contains(t, scripts[1], "ALTER TABLE [sales].[Orders] NOCHECK CONSTRAINT [FK_Orders_Regions]")
}

func TestRenderIndex(t *testing.T) {
	ref := models.SchemaObjectRef{Schema: "dbo", Name: "Orders"}
	ix := index{
		Name:   "IX_Orders_Date",
		Unique: true,
		Filter: "([Deleted]=(0))",
		Columns: []indexColumn{
			{Name: "OrderDate", Descending: true},
			{Name: "Total", Included: true},
		},
	}

	expected := "CREATE UNIQUE NONCLUSTERED INDEX [IX_Orders_Date] ON [dbo].[Orders]\n" +
		"(\n\t[OrderDate] DESC\n)\nINCLUDE([Total])\nWHERE ([Deleted]=(0))"
	assert.Equal(t, expected, renderIndex(ref, ix))
}

type numberedError struct{ n int32 }

func (e numberedError) Error() string          { return fmt.Sprintf("mssql: error %d", e.n) }
func (e numberedError) SQLErrorNumber() int32 { return e.n }

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(fmt.Errorf("query: %w", numberedError{229})), models.ErrPermission)
	assert.ErrorIs(t, classify(numberedError{18456}), models.ErrConnection)

	plain := errors.New("syntax")
	assert.Equal(t, plain, classify(plain))

	already := fmt.Errorf("%w: x", models.ErrEncrypted)
	assert.Equal(t, already, classify(already))
}
