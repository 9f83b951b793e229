package mysql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfig(t *testing.T) {
	mc := BuildConfig(models.ConnectionConfig{
		Server:                 "mysql.internal:3307",
		Database:               "shop",
		User:                   "reader",
		Password:               "secret",
		Encrypt:                "true",
		TrustServerCertificate: true,
		Timeout:                5 * time.Second,
	})

	assert.Equal(t, "tcp", mc.Net)
	assert.Equal(t, "mysql.internal:3307", mc.Addr)
	assert.Equal(t, "shop", mc.DBName)
	assert.Equal(t, "reader", mc.User)
	assert.Equal(t, "secret", mc.Passwd)
	assert.Equal(t, 5*time.Second, mc.Timeout)
	assert.Equal(t, "skip-verify", mc.TLSConfig)

	dsn := mc.FormatDSN()
	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "shop", parsed.DBName)
}

func TestBuildConfig_Defaults(t *testing.T) {
	mc := BuildConfig(models.ConnectionConfig{Database: "shop"})

	assert.Equal(t, "localhost:3306", mc.Addr)
	assert.Empty(t, mc.TLSConfig)
}

func TestBuildConfig_PortOverride(t *testing.T) {
	mc := BuildConfig(models.ConnectionConfig{Server: "db", Port: 3310})

	assert.Equal(t, "db:3310", mc.Addr)
}

func TestTLSMode(t *testing.T) {
	assert.Equal(t, "", tlsMode("", false))
	assert.Equal(t, "false", tlsMode("disable", false))
	assert.Equal(t, "preferred", tlsMode("optional", false))
	assert.Equal(t, "true", tlsMode("mandatory", false))
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "`shop`.`odd``name`", qualify(models.SchemaObjectRef{Schema: "shop", Name: "odd`name"}))
}

func TestObjectQueries(t *testing.T) {
	for _, kind := range models.AllKinds() {
		q, ok := objectQueries[kind]
		require.True(t, ok, kind.String())
		assert.NotContains(t, fmt.Sprintf(q.list, ""), "%!")
		assert.Contains(t, fmt.Sprintf(q.list, q.filter), "= ?")
	}
	assert.Contains(t, objectQueries[models.KindView].list, "TABLE_TYPE = 'VIEW'")
	assert.Contains(t, objectQueries[models.KindUserDefinedFunction].list, "ROUTINE_TYPE = 'FUNCTION'")
}

func TestScriptRelated_KeysAndIndexesAreInline(t *testing.T) {
	svc := NewWithDB(zerolog.New(io.Discard), nil)
	obj := models.SchemaObject{Kind: models.KindTable, Ref: models.SchemaObjectRef{Schema: "shop", Name: "orders"}}

	for _, rel := range []models.RelatedKind{models.RelatedForeignKey, models.RelatedIndex} {
		scripts, err := svc.ScriptRelated(context.Background(), obj, rel)
		require.NoError(t, err)
		assert.Empty(t, scripts)
	}

	view := models.SchemaObject{Kind: models.KindView, Ref: obj.Ref}
	scripts, err := svc.ScriptRelated(context.Background(), view, models.RelatedTrigger)
	require.NoError(t, err)
	assert.Empty(t, scripts)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(fmt.Errorf("q: %w", &mysql.MySQLError{Number: 1142})), models.ErrPermission)
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: 1045}), models.ErrConnection)

	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
}
