package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/app"
	"github.com/bulkimport/bulkimport/internal/config"
	"github.com/bulkimport/bulkimport/internal/importer"
	"github.com/bulkimport/bulkimport/internal/serializer"
	"github.com/bulkimport/bulkimport/internal/state"
)

const batch = "title,publication_date,resource_type.id,creators.type,creators.family_name,creators.given_name,filenames,publisher\n" +
	"Ocean data,2024-01-15,dataset,personal,Doe,Jane,data.csv,Acme Press\n" +
	"Sky data,2024-02,dataset,personal,Roe,Rich,missing.csv,Acme Press\n"

func newApp(t *testing.T) *app.App {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Importer.Workers = 2

	a, err := app.New(context.Background(), cfg, app.Options{Checkers: &app.Checkers{}}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_InMemory(t *testing.T) {
	a := newApp(t)

	assert.NotNil(t, a.Memory)
	assert.NotNil(t, a.Pool)
	assert.False(t, a.Reporter.Enabled())
	assert.Equal(t, []string{"rdm"}, a.RecordTypes.Names())
}

func TestApp_RunsImportInProcess(t *testing.T) {
	a := newApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	a.Memory.PutObject("bkt-1", "data.csv", []byte("a,b\n1,2\n"))
	tsk, err := a.Service.CreateTask(ctx, importer.CreateTaskInput{
		Title:      "Batch",
		RecordType: "rdm",
		Serializer: serializer.CSVName,
		BucketID:   "bkt-1",
	})
	require.NoError(t, err)
	_, err = a.Service.AttachSourceFile(ctx, tsk.ID, "batch.csv", []byte(batch))
	require.NoError(t, err)

	require.NoError(t, a.Service.BeginValidation(ctx, tsk.ID))
	a.Pool.Wait()

	got, err := a.Service.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskValidatedWithFailure, got.Status)

	require.NoError(t, a.Service.BeginImport(ctx, tsk.ID))
	a.Pool.Wait()

	got, err = a.Service.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskImportedWithFailure, got.Status)
	assert.Len(t, a.Memory.SearchPublished("Ocean data"), 1)

	snapshot := a.Metrics.Snapshot()
	assert.Positive(t, snapshot["total_jobs"])
	assert.Equal(t, int64(0), snapshot["failed_jobs"])
}

func TestNew_CustomRecordTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record_types.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
record_types:
  rdm:
    serializers: [csv]
    custom_fields:
      - field: "imprint:imprint"
        transformer: imprint
        schema: '{"type": "object"}'
  thesis:
    serializers: [csv]
    community_required: true
`), 0o600))
	t.Setenv("IMPORTER_RECORD_TYPES_FILE", path)

	a := newApp(t)
	assert.Equal(t, []string{"rdm", "thesis"}, a.RecordTypes.Names())
}

func TestNew_UnknownTransformer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record_types.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
record_types:
  rdm:
    serializers: [csv]
    custom_fields:
      - field: "thesis:university"
        transformer: university
`), 0o600))

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Importer.RecordTypesFile = path

	_, err = app.New(context.Background(), cfg, app.Options{Checkers: &app.Checkers{}}, zerolog.Nop())
	assert.ErrorContains(t, err, "university")
}
