//go:build integration

package integration

import (
	"context"
	"os"
	"testing"

	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/sql2fs/sql2fs/internal/services/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresCatalog_ListAndScript_Integration(t *testing.T) {
	conn := getConnectionConfig(t, "POSTGRES", models.DriverPostgres, "postgres")

	cat, err := catalog.Open(context.Background(), conn, testLogger())
	require.NoError(t, err)
	defer func() { _ = cat.Close() }()

	tables, err := cat.ListObjects(context.Background(), models.KindTable)
	require.NoError(t, err)
	for _, obj := range tables {
		assert.NotEqual(t, "pg_catalog", obj.Ref.Schema)
		assert.NotEqual(t, "information_schema", obj.Ref.Schema)
	}
	if len(tables) == 0 {
		t.Skip("database has no tables")
	}

	script, err := cat.Script(context.Background(), tables[0])
	require.NoError(t, err)
	assert.Contains(t, script, "TABLE")
}

func TestPostgresExport_Integration(t *testing.T) {
	conn := getConnectionConfig(t, "POSTGRES", models.DriverPostgres, "postgres")

	dir := runExport(t, conn)

	for _, file := range listSQLFiles(t, dir, "Tables") {
		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "CREATE")
	}
}

func TestPostgres_InvalidCredentials_Integration(t *testing.T) {
	conn := getConnectionConfig(t, "POSTGRES", models.DriverPostgres, "postgres")
	conn.Password = "definitely-not-the-password"
	conn.User = "sql2fs_no_such_user"

	_, err := catalog.Open(context.Background(), conn, testLogger())

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConnection)
}
