package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bulkimport/bulkimport/internal/state"
)

// PostgresRepository is a PostgreSQL implementation of Repository. Tasks and
// records are stored as JSONB documents next to the columns queries filter
// on.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL task repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// CreateTask stores a new task.
func (r *PostgresRepository) CreateTask(ctx context.Context, t *ImportTask) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	query := `
		INSERT INTO import_tasks (id, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, query, t.ID, string(t.Status), doc, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask retrieves a task.
func (r *PostgresRepository) GetTask(ctx context.Context, id string) (*ImportTask, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM import_tasks WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return decodeTask(doc)
}

// UpdateTask overwrites a task.
func (r *PostgresRepository) UpdateTask(ctx context.Context, t *ImportTask) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	query := `
		UPDATE import_tasks SET
			status = $2,
			data = $3,
			updated_at = $4
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, t.ID, string(t.Status), doc, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListTasks lists tasks, newest first.
func (r *PostgresRepository) ListTasks(ctx context.Context, opts ListOptions) (*TaskListResult, error) {
	limit := limitOrDefault(opts.Limit)
	// Fetch one extra to determine if there are more results
	fetchLimit := limit + 1

	query := `
		SELECT data FROM import_tasks
		WHERE $1 = '' OR (created_at, id) < (SELECT created_at, id FROM import_tasks WHERE id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, opts.Cursor, fetchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ImportTask
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		t, err := decodeTask(doc)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &TaskListResult{Items: tasks}
	if len(tasks) > limit {
		result.Items = tasks[:limit]
		result.NextCursor = tasks[limit-1].ID
	}
	return result, nil
}

// PutSourceFile attaches the raw source file to a task.
func (r *PostgresRepository) PutSourceFile(ctx context.Context, taskID string, f *SourceFile) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT data FROM import_tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		return err
	}
	t, err := decodeTask(doc)
	if err != nil {
		return err
	}

	size := int64(len(f.Data))
	query := `
		INSERT INTO import_task_files (task_id, name, content_type, size, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO UPDATE SET
			name = EXCLUDED.name,
			content_type = EXCLUDED.content_type,
			size = EXCLUDED.size,
			data = EXCLUDED.data
	`
	if _, err := tx.Exec(ctx, query, taskID, f.Name, f.ContentType, size, f.Data); err != nil {
		return err
	}

	t.SourceFile = &SourceFile{Name: f.Name, ContentType: f.ContentType, Size: size}
	if doc, err = json.Marshal(t); err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE import_tasks SET data = $2 WHERE id = $1`, taskID, doc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetSourceFile returns the raw source file of a task.
func (r *PostgresRepository) GetSourceFile(ctx context.Context, taskID string) (*SourceFile, error) {
	var f SourceFile
	query := `SELECT name, content_type, size, data FROM import_task_files WHERE task_id = $1`
	err := r.pool.QueryRow(ctx, query, taskID).Scan(&f.Name, &f.ContentType, &f.Size, &f.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSourceFileNotFound
		}
		return nil, err
	}
	return &f, nil
}

// CreateRecord stores a new record.
func (r *PostgresRepository) CreateRecord(ctx context.Context, rec *ImportRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query := `
		INSERT INTO import_records (id, task_id, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query, rec.ID, rec.TaskID, string(rec.Status), doc, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// GetRecord retrieves a record.
func (r *PostgresRepository) GetRecord(ctx context.Context, id string) (*ImportRecord, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM import_records WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return decodeRecord(doc)
}

// UpdateRecord overwrites a record.
func (r *PostgresRepository) UpdateRecord(ctx context.Context, rec *ImportRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query := `
		UPDATE import_records SET
			status = $2,
			data = $3,
			updated_at = $4
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, rec.ID, string(rec.Status), doc, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListRecords lists the records of a task in creation order.
func (r *PostgresRepository) ListRecords(ctx context.Context, taskID string, opts RecordListOptions) (*RecordListResult, error) {
	limit := limitOrDefault(opts.Limit)
	fetchLimit := limit + 1

	query := `
		SELECT data FROM import_records
		WHERE task_id = $1
			AND (cardinality($2::text[]) = 0 OR status = ANY($2))
			AND ($3 = '' OR seq > (SELECT seq FROM import_records WHERE id = $3))
		ORDER BY seq
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, taskID, statusStrings(opts.Statuses), opts.Cursor, fetchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ImportRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &RecordListResult{Items: records}
	if len(records) > limit {
		result.Items = records[:limit]
		result.NextCursor = records[limit-1].ID
	}
	return result, nil
}

// RecordIDs returns the ids of a task's records in the given states.
func (r *PostgresRepository) RecordIDs(ctx context.Context, taskID string, statuses ...state.RecordState) ([]string, error) {
	query := `
		SELECT id FROM import_records
		WHERE task_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY seq
	`
	rows, err := r.pool.Query(ctx, query, taskID, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DeleteRecords removes every record of a task.
func (r *PostgresRepository) DeleteRecords(ctx context.Context, taskID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM import_records WHERE task_id = $1`, taskID)
	return err
}

// StatusCounts returns per-state record counts of a task.
func (r *PostgresRepository) StatusCounts(ctx context.Context, taskID string) (state.Counts, error) {
	query := `
		SELECT status, count(*) FROM import_records
		WHERE task_id = $1
		GROUP BY status
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perState := make(map[state.RecordState]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		perState[state.RecordState(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return state.NewCounts(perState), nil
}

func statusStrings(statuses []state.RecordState) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func decodeTask(doc []byte) (*ImportTask, error) {
	var t ImportTask
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

func decodeRecord(doc []byte) (*ImportRecord, error) {
	var rec ImportRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
