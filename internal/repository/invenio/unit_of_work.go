package invenio

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/bulkimport/bulkimport/internal/repository"
)

type journalKey struct{}

// journal lists the drafts opened inside a unit of work.
type journal struct {
	mu     sync.Mutex
	drafts []string
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

func (j *journal) add(id string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.drafts = append(j.drafts, id)
}

// Do runs fn. When fn fails the drafts it opened are discarded, newest
// first. Publications and accepted requests cannot be undone over the API.
func (c *Client) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &journal{}
	fnErr := run(context.WithValue(ctx, journalKey{}, j), fn)
	if fnErr == nil {
		return nil
	}

	// Rollback must run even when ctx was cancelled.
	cleanup := context.WithoutCancel(ctx)
	for i := len(j.drafts) - 1; i >= 0; i-- {
		id := j.drafts[i]
		if err := c.discardDraft(cleanup, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
			c.logger.Warn().Err(err).Str("draft_id", id).Msg("failed to discard draft")
		}
	}
	return fnErr
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &repository.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn(ctx)
}
