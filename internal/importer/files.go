package importer

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/bulkimport/bulkimport/internal/repository"
	"github.com/bulkimport/bulkimport/internal/task"
)

// UploadTaskFile stores an ancillary file in the bucket of a task, where the
// local file origin resolves it. A task without a bucket gets one named
// after the task.
func (s *Service) UploadTaskFile(ctx context.Context, taskID, key string, r io.Reader) (*repository.Object, error) {
	if s.buckets == nil {
		return nil, ErrNoBuckets
	}
	key, err := cleanFileKey(key)
	if err != nil {
		return nil, err
	}
	t, err := s.bucketTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	obj, err := s.buckets.WriteObject(ctx, t.BucketID, key, r)
	if err != nil {
		return nil, fmt.Errorf("storing task file: %w", err)
	}

	s.logger.Debug().
		Str("task_id", taskID).
		Str("bucket_id", t.BucketID).
		Str("file", key).
		Int64("size", obj.Size).
		Msg("task file uploaded")
	return &obj, nil
}

// ListTaskFiles lists the ancillary files of a task.
func (s *Service) ListTaskFiles(ctx context.Context, taskID string) ([]repository.Object, error) {
	if s.buckets == nil {
		return nil, ErrNoBuckets
	}
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.BucketID == "" {
		return []repository.Object{}, nil
	}
	objects, err := s.buckets.ListObjects(ctx, t.BucketID)
	if err != nil {
		return nil, fmt.Errorf("listing task files: %w", err)
	}
	return objects, nil
}

func (s *Service) bucketTask(ctx context.Context, taskID string) (*task.ImportTask, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.BucketID != "" {
		return t, nil
	}
	t.BucketID = t.ID
	t.UpdatedAt = time.Now()
	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	return t, nil
}

func cleanFileKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileKey, key)
	}
	return clean, nil
}
