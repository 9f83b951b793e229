//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/sql2fs/sql2fs/internal/services/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// getConnectionConfig reads TEST_<PREFIX>_* variables and skips the test
// when the server or database is not set.
func getConnectionConfig(t *testing.T, prefix, driver, defaultUser string) models.ConnectionConfig {
	t.Helper()

	host := os.Getenv("TEST_" + prefix + "_HOST")
	if host == "" {
		t.Skipf("TEST_%s_HOST not set", prefix)
	}

	database := os.Getenv("TEST_" + prefix + "_DB")
	if database == "" {
		t.Skipf("TEST_%s_DB not set", prefix)
	}

	var port int
	if portStr := os.Getenv("TEST_" + prefix + "_PORT"); portStr != "" {
		var err error
		port, err = strconv.Atoi(portStr)
		require.NoError(t, err)
	}

	user := os.Getenv("TEST_" + prefix + "_USER")
	if user == "" {
		user = defaultUser
	}

	return models.ConnectionConfig{
		Driver:                 driver,
		Server:                 host,
		Port:                   port,
		Database:               database,
		User:                   user,
		Password:               os.Getenv("TEST_" + prefix + "_PASSWORD"),
		Encrypt:                os.Getenv("TEST_" + prefix + "_ENCRYPT"),
		TrustServerCertificate: true,
		Timeout:                30 * time.Second,
	}
}

// runExport exports every category of conn into a fresh directory twice and
// checks the second run neither fails nor prunes anything.
func runExport(t *testing.T, conn models.ConnectionConfig) string {
	t.Helper()

	cfg := models.ExportConfig{
		Connection:       conn,
		Directory:        t.TempDir(),
		Types:            models.AllKinds(),
		Prune:            true,
		IgnoreEncryption: true,
		Script:           models.ScriptOptions{Encoding: models.EncodingUTF8},
	}
	svc := runner.New(testLogger(), os.Stdout)

	summaries, err := svc.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, summaries, 4)

	summaries, err = svc.Run(context.Background(), cfg)
	require.NoError(t, err)
	for _, sum := range summaries {
		assert.Zero(t, sum.Pruned, sum.Folder)
	}

	return cfg.Directory
}

func listSQLFiles(t *testing.T, dir, folder string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, folder, "*.sql"))
	require.NoError(t, err)
	return matches
}
