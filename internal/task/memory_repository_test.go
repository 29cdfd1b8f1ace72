package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/grouping"
	"github.com/bulkimport/bulkimport/internal/state"
	"github.com/bulkimport/bulkimport/internal/task"
)

func seedTask(t *testing.T, repo task.Repository, created time.Time) *task.ImportTask {
	t.Helper()
	tk := &task.ImportTask{
		ID:        task.NewTaskID(),
		Title:     "Import",
		Status:    state.TaskCreated,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, repo.CreateTask(context.Background(), tk))
	return tk
}

func seedRecord(t *testing.T, repo task.Repository, taskID string, status state.RecordState) *task.ImportRecord {
	t.Helper()
	rec := &task.ImportRecord{
		ID:      task.NewRecordID(),
		TaskID:  taskID,
		Status:  status,
		SrcData: grouping.Row{"title": "x"},
	}
	require.NoError(t, repo.CreateRecord(context.Background(), rec))
	return rec
}

func TestInMemoryRepository_Tasks(t *testing.T) {
	repo := task.NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	older := seedTask(t, repo, now.Add(-time.Hour))
	newer := seedTask(t, repo, now)

	got, err := repo.GetTask(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Import", got.Title)

	got.Title = "Changed"
	got2, err := repo.GetTask(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Import", got2.Title, "returned tasks must be copies")

	require.NoError(t, repo.UpdateTask(ctx, got))
	got, err = repo.GetTask(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Changed", got.Title)

	page, err := repo.ListTasks(ctx, task.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, newer.ID, page.Items[0].ID)
	assert.Equal(t, newer.ID, page.NextCursor)

	page, err = repo.ListTasks(ctx, task.ListOptions{Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, older.ID, page.Items[0].ID)
	assert.Empty(t, page.NextCursor)

	_, err = repo.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
	assert.ErrorIs(t, repo.UpdateTask(ctx, &task.ImportTask{ID: "missing"}), task.ErrTaskNotFound)
}

func TestInMemoryRepository_SourceFile(t *testing.T) {
	repo := task.NewInMemoryRepository()
	ctx := context.Background()
	tk := seedTask(t, repo, time.Now())

	_, err := repo.GetSourceFile(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrSourceFileNotFound)

	require.NoError(t, repo.PutSourceFile(ctx, tk.ID, &task.SourceFile{Name: "a.csv", ContentType: "text/csv", Data: []byte("title\nx\n")}))

	f, err := repo.GetSourceFile(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "title\nx\n", string(f.Data))
	assert.Equal(t, int64(8), f.Size)

	got, err := repo.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SourceFile)
	assert.Equal(t, "a.csv", got.SourceFile.Name)
	assert.Nil(t, got.SourceFile.Data)

	assert.ErrorIs(t, repo.PutSourceFile(ctx, "missing", &task.SourceFile{}), task.ErrTaskNotFound)
}

func TestInMemoryRepository_Records(t *testing.T) {
	repo := task.NewInMemoryRepository()
	ctx := context.Background()
	tk := seedTask(t, repo, time.Now())

	a := seedRecord(t, repo, tk.ID, state.RecordValidated)
	b := seedRecord(t, repo, tk.ID, state.RecordValidationFailed)
	c := seedRecord(t, repo, tk.ID, state.RecordValidated)

	ids, err := repo.RecordIDs(ctx, tk.ID, state.RecordValidated)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID}, ids)

	ids, err = repo.RecordIDs(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids)

	page, err := repo.ListRecords(ctx, tk.ID, task.RecordListOptions{ListOptions: task.ListOptions{Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, b.ID, page.NextCursor)

	filtered, err := repo.ListRecords(ctx, tk.ID, task.RecordListOptions{Statuses: []state.RecordState{state.RecordValidationFailed}})
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, "x", filtered.Items[0].SrcData["title"])

	counts, err := repo.StatusCounts(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total())
	assert.Equal(t, 2, counts.Get(state.RecordValidated))

	b.Status = state.RecordValidated
	require.NoError(t, repo.UpdateRecord(ctx, b))
	got, err := repo.GetRecord(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, state.RecordValidated, got.Status)

	require.NoError(t, repo.DeleteRecords(ctx, tk.ID))
	counts, err = repo.StatusCounts(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())
	_, err = repo.GetRecord(ctx, a.ID)
	assert.ErrorIs(t, err, task.ErrRecordNotFound)

	assert.ErrorIs(t, repo.CreateRecord(ctx, &task.ImportRecord{ID: "x", TaskID: "missing"}), task.ErrTaskNotFound)
}
