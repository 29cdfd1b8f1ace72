package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/bulkimport/bulkimport/internal/state"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu      sync.RWMutex
	tasks   map[string]*ImportTask
	files   map[string]*SourceFile
	records map[string]*ImportRecord
	order   map[string][]string
}

// NewInMemoryRepository creates a new in-memory task repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		tasks:   make(map[string]*ImportTask),
		files:   make(map[string]*SourceFile),
		records: make(map[string]*ImportRecord),
		order:   make(map[string][]string),
	}
}

// CreateTask stores a new task.
func (r *InMemoryRepository) CreateTask(_ context.Context, t *ImportTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[t.ID] = copyTask(t)
	return nil
}

// GetTask retrieves a task.
func (r *InMemoryRepository) GetTask(_ context.Context, id string) (*ImportTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return copyTask(t), nil
}

// UpdateTask overwrites a task.
func (r *InMemoryRepository) UpdateTask(_ context.Context, t *ImportTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; !ok {
		return ErrTaskNotFound
	}
	r.tasks[t.ID] = copyTask(t)
	return nil
}

// ListTasks lists tasks, newest first.
func (r *InMemoryRepository) ListTasks(_ context.Context, opts ListOptions) (*TaskListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*ImportTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, copyTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	if opts.Cursor != "" {
		for i, t := range tasks {
			if t.ID == opts.Cursor {
				tasks = tasks[i+1:]
				break
			}
		}
	}

	limit := limitOrDefault(opts.Limit)
	result := &TaskListResult{Items: tasks}
	if len(tasks) > limit {
		result.Items = tasks[:limit]
		result.NextCursor = tasks[limit-1].ID
	}
	return result, nil
}

// PutSourceFile attaches the raw source file to a task.
func (r *InMemoryRepository) PutSourceFile(_ context.Context, taskID string, f *SourceFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	cpy := *f
	cpy.Data = append([]byte(nil), f.Data...)
	cpy.Size = int64(len(cpy.Data))
	r.files[taskID] = &cpy

	meta := cpy
	meta.Data = nil
	t.SourceFile = &meta
	return nil
}

// GetSourceFile returns the raw source file of a task.
func (r *InMemoryRepository) GetSourceFile(_ context.Context, taskID string) (*SourceFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[taskID]
	if !ok {
		return nil, ErrSourceFileNotFound
	}
	cpy := *f
	cpy.Data = append([]byte(nil), f.Data...)
	return &cpy, nil
}

// CreateRecord stores a new record.
func (r *InMemoryRepository) CreateRecord(_ context.Context, rec *ImportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[rec.TaskID]; !ok {
		return ErrTaskNotFound
	}
	cpy, err := copyRecord(rec)
	if err != nil {
		return err
	}
	r.records[rec.ID] = cpy
	r.order[rec.TaskID] = append(r.order[rec.TaskID], rec.ID)
	return nil
}

// GetRecord retrieves a record.
func (r *InMemoryRepository) GetRecord(_ context.Context, id string) (*ImportRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(rec)
}

// UpdateRecord overwrites a record.
func (r *InMemoryRepository) UpdateRecord(_ context.Context, rec *ImportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; !ok {
		return ErrRecordNotFound
	}
	cpy, err := copyRecord(rec)
	if err != nil {
		return err
	}
	r.records[rec.ID] = cpy
	return nil
}

// ListRecords lists the records of a task in creation order.
func (r *InMemoryRepository) ListRecords(_ context.Context, taskID string, opts RecordListOptions) (*RecordListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.order[taskID]
	if opts.Cursor != "" {
		for i, id := range ids {
			if id == opts.Cursor {
				ids = ids[i+1:]
				break
			}
		}
	}

	var items []*ImportRecord
	for _, id := range ids {
		rec := r.records[id]
		if !matchesStatus(rec.Status, opts.Statuses) {
			continue
		}
		cpy, err := copyRecord(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, cpy)
	}

	limit := limitOrDefault(opts.Limit)
	result := &RecordListResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		result.NextCursor = items[limit-1].ID
	}
	return result, nil
}

// RecordIDs returns the ids of a task's records in the given states.
func (r *InMemoryRepository) RecordIDs(_ context.Context, taskID string, statuses ...state.RecordState) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order[taskID] {
		if matchesStatus(r.records[id].Status, statuses) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DeleteRecords removes every record of a task.
func (r *InMemoryRepository) DeleteRecords(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order[taskID] {
		delete(r.records, id)
	}
	delete(r.order, taskID)
	return nil
}

// StatusCounts returns per-state record counts of a task.
func (r *InMemoryRepository) StatusCounts(_ context.Context, taskID string) (state.Counts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perState := make(map[state.RecordState]int)
	for _, id := range r.order[taskID] {
		perState[r.records[id].Status]++
	}
	return state.NewCounts(perState), nil
}

func matchesStatus(s state.RecordState, statuses []state.RecordState) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func copyTask(t *ImportTask) *ImportTask {
	cpy := *t
	if t.RecordsStatus != nil {
		cpy.RecordsStatus = make(state.Counts, len(t.RecordsStatus))
		for k, v := range t.RecordsStatus {
			cpy.RecordsStatus[k] = v
		}
	}
	if t.SourceFile != nil {
		f := *t.SourceFile
		f.Data = nil
		cpy.SourceFile = &f
	}
	return &cpy
}

// copyRecord deep-copies a record through its JSON form, which is also its
// persisted form.
func copyRecord(rec *ImportRecord) (*ImportRecord, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var cpy ImportRecord
	if err := json.Unmarshal(raw, &cpy); err != nil {
		return nil, err
	}
	return &cpy, nil
}
