package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/sql2fs/sql2fs/internal/services/dirsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations.
type mockCatalog struct {
	objects map[models.ObjectKind][]models.SchemaObject
	related map[models.RelatedKind][]string

	listFunc    func(ctx context.Context, kind models.ObjectKind) ([]models.SchemaObject, error)
	scriptFunc  func(ctx context.Context, obj models.SchemaObject) (string, error)
	relatedFunc func(ctx context.Context, obj models.SchemaObject, rel models.RelatedKind) ([]string, error)

	relatedCalls []models.RelatedKind
}

func (m *mockCatalog) ListObjects(ctx context.Context, kind models.ObjectKind) ([]models.SchemaObject, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, kind)
	}
	return m.objects[kind], nil
}

func (m *mockCatalog) GetObject(_ context.Context, kind models.ObjectKind, ref models.SchemaObjectRef) (*models.SchemaObject, error) {
	for _, obj := range m.objects[kind] {
		if obj.Ref == ref {
			found := obj
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", models.ErrObjectNotFound, kind, ref)
}

func (m *mockCatalog) Script(ctx context.Context, obj models.SchemaObject) (string, error) {
	if m.scriptFunc != nil {
		return m.scriptFunc(ctx, obj)
	}
	return fmt.Sprintf("CREATE %s %s", obj.Kind, obj.Ref), nil
}

func (m *mockCatalog) ScriptRelated(ctx context.Context, obj models.SchemaObject, rel models.RelatedKind) ([]string, error) {
	m.relatedCalls = append(m.relatedCalls, rel)
	if m.relatedFunc != nil {
		return m.relatedFunc(ctx, obj, rel)
	}
	return m.related[rel], nil
}

func (m *mockCatalog) Close() error {
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func object(kind models.ObjectKind, schema, name string, encrypted bool) models.SchemaObject {
	return models.SchemaObject{
		Kind:        kind,
		Ref:         models.SchemaObjectRef{Schema: schema, Name: name},
		IsEncrypted: encrypted,
	}
}

func testConfig(t *testing.T) models.ExportConfig {
	t.Helper()
	return models.ExportConfig{
		Directory:        t.TempDir(),
		Types:            models.AllKinds(),
		Prune:            true,
		IgnoreEncryption: true,
		Script:           models.ScriptOptions{Encoding: models.EncodingUTF8},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestExport_WritesOneFilePerObject(t *testing.T) {
	cfg := testConfig(t)
	cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
		models.KindStoredProcedure: {
			object(models.KindStoredProcedure, "dbo", "GetOrders", false),
			object(models.KindStoredProcedure, "app", "Sync", false),
		},
	}}
	var out bytes.Buffer

	svc := New(testLogger(), &out)
	summary, err := svc.Export(context.Background(), models.KindStoredProcedure, cfg, cat)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 2, summary.Exported)
	assert.Equal(t, "[1 of 2] app.Sync\n[2 of 2] dbo.GetOrders\n", out.String())

	folder := filepath.Join(cfg.Directory, "Stored Procedures")
	assert.Equal(t, "CREATE stored procedure dbo.GetOrders\n", readFile(t, filepath.Join(folder, "dbo.GetOrders.sql")))
	assert.FileExists(t, filepath.Join(folder, "app.Sync.sql"))
}

func TestExport_NameExcludePrefix(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filter.NameExclude = []string{"sp_"}
	cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
		models.KindStoredProcedure: {
			object(models.KindStoredProcedure, "dbo", "sp_Helper", false),
			object(models.KindStoredProcedure, "dbo", "GetOrders", false),
		},
	}}

	svc := New(testLogger(), io.Discard)
	summary, err := svc.Export(context.Background(), models.KindStoredProcedure, cfg, cat)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Exported)
	entries, err := os.ReadDir(filepath.Join(cfg.Directory, "Stored Procedures"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dbo.GetOrders.sql", entries[0].Name())
}

func TestExport_EncryptedObjects(t *testing.T) {
	for _, kind := range []models.ObjectKind{models.KindView, models.KindStoredProcedure, models.KindUserDefinedFunction} {
		t.Run(kind.String()+" ignored", func(t *testing.T) {
			cfg := testConfig(t)
			cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
				kind: {object(kind, "dbo", "Secret", true)},
			}}

			summary, err := New(testLogger(), io.Discard).Export(context.Background(), kind, cfg, cat)

			require.NoError(t, err)
			assert.Equal(t, 1, summary.Skipped)
			assert.NoFileExists(t, filepath.Join(cfg.Directory, kind.Folder(), "dbo.Secret.sql"))
		})

		t.Run(kind.String()+" included", func(t *testing.T) {
			cfg := testConfig(t)
			cfg.IgnoreEncryption = false
			cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
				kind: {object(kind, "dbo", "Secret", true)},
			}}

			summary, err := New(testLogger(), io.Discard).Export(context.Background(), kind, cfg, cat)

			require.NoError(t, err)
			assert.Equal(t, 1, summary.Exported)
			assert.FileExists(t, filepath.Join(cfg.Directory, kind.Folder(), "dbo.Secret.sql"))
		})
	}
}

func TestExport_TablesNeverSkippedForEncryption(t *testing.T) {
	cfg := testConfig(t)
	cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
		models.KindTable: {object(models.KindTable, "dbo", "Customers", true)},
	}}

	summary, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindTable, cfg, cat)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Exported)
	assert.Zero(t, summary.Skipped)
}

func TestExport_RelatedScriptsInOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Script.BatchTerminator = "GO"
	cat := &mockCatalog{
		objects: map[models.ObjectKind][]models.SchemaObject{
			models.KindTable: {object(models.KindTable, "dbo", "Orders", false)},
		},
		related: map[models.RelatedKind][]string{
			models.RelatedForeignKey: {"ALTER TABLE fk1", "ALTER TABLE fk2"},
			models.RelatedIndex:      {"CREATE INDEX ix1"},
			models.RelatedTrigger:    {"CREATE TRIGGER tr1\n"},
		},
	}

	_, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindTable, cfg, cat)

	require.NoError(t, err)
	assert.Equal(t, []models.RelatedKind{models.RelatedForeignKey, models.RelatedIndex, models.RelatedTrigger}, cat.relatedCalls)
	expected := "CREATE table dbo.Orders\nGO\n" +
		"ALTER TABLE fk1\nGO\nALTER TABLE fk2\nGO\n" +
		"CREATE INDEX ix1\nGO\n" +
		"CREATE TRIGGER tr1\nGO\n"
	assert.Equal(t, expected, readFile(t, filepath.Join(cfg.Directory, "Tables", "dbo.Orders.sql")))
}

func TestExport_ViewsScriptIndexesAndTriggersOnly(t *testing.T) {
	cfg := testConfig(t)
	cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
		models.KindView: {object(models.KindView, "dbo", "Active", false)},
	}}

	_, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindView, cfg, cat)

	require.NoError(t, err)
	assert.Equal(t, []models.RelatedKind{models.RelatedIndex, models.RelatedTrigger}, cat.relatedCalls)
}

func TestExport_FailedObjectDoesNotStopCategory(t *testing.T) {
	cfg := testConfig(t)
	cat := &mockCatalog{
		objects: map[models.ObjectKind][]models.SchemaObject{
			models.KindStoredProcedure: {
				object(models.KindStoredProcedure, "dbo", "A", false),
				object(models.KindStoredProcedure, "dbo", "B", false),
				object(models.KindStoredProcedure, "dbo", "C", false),
			},
		},
		scriptFunc: func(_ context.Context, obj models.SchemaObject) (string, error) {
			if obj.Ref.Name == "B" {
				return "", fmt.Errorf("%w: VIEW DEFINITION denied", models.ErrPermission)
			}
			return "CREATE PROCEDURE " + obj.Ref.Name, nil
		},
	}

	summary, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindStoredProcedure, cfg, cat)

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Exported)
	assert.Equal(t, 1, summary.Failed)

	failed := summary.Results[1]
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.ErrorIs(t, failed.Err, models.ErrPermission)
	var objErr *models.ObjectError
	require.True(t, errors.As(failed.Err, &objErr))
	assert.Equal(t, models.KindStoredProcedure, objErr.Kind)
	assert.Equal(t, "B", objErr.Ref.Name)

	assert.FileExists(t, filepath.Join(cfg.Directory, "Stored Procedures", "dbo.C.sql"))
}

func TestExport_FailFastStopsAtFirstFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.FailFast = true
	cat := &mockCatalog{
		objects: map[models.ObjectKind][]models.SchemaObject{
			models.KindView: {
				object(models.KindView, "dbo", "A", false),
				object(models.KindView, "dbo", "B", false),
			},
		},
		scriptFunc: func(context.Context, models.SchemaObject) (string, error) {
			return "", errors.New("scripting failed")
		},
	}

	summary, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindView, cfg, cat)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "view dbo.A")
	assert.Equal(t, 1, summary.Attempted)
}

func TestExport_ListFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cat := &mockCatalog{
		listFunc: func(context.Context, models.ObjectKind) ([]models.SchemaObject, error) {
			return nil, fmt.Errorf("%w: connection reset", models.ErrConnection)
		},
	}

	_, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindTable, cfg, cat)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConnection)
}

func TestExport_EncodingFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Script.Encoding = models.EncodingANSI
	cat := &mockCatalog{
		objects: map[models.ObjectKind][]models.SchemaObject{
			models.KindUserDefinedFunction: {object(models.KindUserDefinedFunction, "dbo", "Greek", false)},
		},
		scriptFunc: func(context.Context, models.SchemaObject) (string, error) {
			return "SELECT N'αβγ'", nil
		},
	}

	summary, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindUserDefinedFunction, cfg, cat)

	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.Results[0].Err, models.ErrEncoding)
	assert.NoFileExists(t, filepath.Join(cfg.Directory, "User-Defined Functions", "dbo.Greek.sql"))
}

func TestExport_PathSeparatorInName(t *testing.T) {
	cfg := testConfig(t)
	cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
		models.KindTable: {object(models.KindTable, "dbo", "a/b", false)},
	}}

	summary, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindTable, cfg, cat)

	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.Results[0].Err, models.ErrIO)
}

func TestExport_WriteFailure(t *testing.T) {
	cfg := testConfig(t)
	cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
		models.KindTable: {object(models.KindTable, "dbo", "T", false)},
	}}
	write := func(string, []byte) error { return errors.New("disk full") }

	svc := NewWithServices(testLogger(), io.Discard, dirsync.New(testLogger()), write)
	summary, err := svc.Export(context.Background(), models.KindTable, cfg, cat)

	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.Results[0].Err, models.ErrIO)
	assert.Contains(t, summary.Results[0].Err.Error(), "disk full")
}

func TestExport_PrunesOrphansAndSkipsEmptyFolder(t *testing.T) {
	cfg := testConfig(t)
	folder := filepath.Join(cfg.Directory, "Tables")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "dbo.Old.sql"), []byte("x"), 0o600))
	cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
		models.KindTable: {object(models.KindTable, "dbo", "New", false)},
	}}

	summary, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindTable, cfg, cat)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pruned)
	assert.NoFileExists(t, filepath.Join(folder, "dbo.Old.sql"))
	assert.FileExists(t, filepath.Join(folder, "dbo.New.sql"))

	_, err = New(testLogger(), io.Discard).Export(context.Background(), models.KindView, cfg, cat)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(cfg.Directory, "Views"))
}

func TestExport_SystemSchemasExcluded(t *testing.T) {
	cfg := testConfig(t)
	cat := &mockCatalog{objects: map[models.ObjectKind][]models.SchemaObject{
		models.KindView: {
			object(models.KindView, "sys", "objects", false),
			object(models.KindView, "INFORMATION_SCHEMA", "TABLES", false),
		},
	}}

	summary, err := New(testLogger(), io.Discard).Export(context.Background(), models.KindView, cfg, cat)

	require.NoError(t, err)
	assert.Zero(t, summary.Attempted)
	assert.NoDirExists(t, filepath.Join(cfg.Directory, "Views"))
}
