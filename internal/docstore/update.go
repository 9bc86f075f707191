package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/storeerr"
)

const DefaultUpdateAttempts = 5

// ErrSkipWrite returned by a mutate func ends Update without writing.
var ErrSkipWrite = errors.New("skip write")

// MutateFunc receives the current collection and returns the records to
// write. It may be called more than once and must not keep cur.
type MutateFunc func(cur *Collection) ([]json.RawMessage, error)

type updateConfig struct {
	attempts int
}

type UpdateOption func(*updateConfig)

func WithAttempts(n int) UpdateOption {
	return func(c *updateConfig) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// Update runs an optimistic read-modify-write loop. On a version conflict it
// re-reads and calls fn again, up to a bounded number of attempts. Other
// errors end the loop.
func (s *Store) Update(ctx context.Context, name string, fn MutateFunc, opts ...UpdateOption) (*Collection, error) {
	cfg := updateConfig{attempts: DefaultUpdateAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &storeerr.APIError{Kind: storeerr.ErrTransport, Op: "update", Path: s.Path(name), Err: err}
		}

		cur, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}

		records, err := fn(cur.Clone())
		if errors.Is(err, ErrSkipWrite) {
			return cur, nil
		} else if err != nil {
			return nil, fmt.Errorf("update collection %s: %w", name, err)
		}

		next, err := s.CompareAndPut(ctx, name, records, cur.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, storeerr.ErrConflict) {
			return nil, err
		}

		slog.Debug("docstore update conflict, retrying", "collection", name, "attempt", attempt)
		lastErr = err
	}

	return nil, fmt.Errorf("update collection %s: gave up after %d attempts: %w", name, cfg.attempts, lastErr)
}
