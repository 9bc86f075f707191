// Package syncengine keeps the local cache and the remote document store
// loosely consistent according to the selected mode.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/docstore"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/storeerr"
	"github.com/provtrack/repostore/internal/utils"
)

const DefaultBackupInterval = 15 * time.Minute

type options struct {
	backupInterval time.Duration
	archive        bool
	backoff        utils.Backoff
	collections    []string
}

type Option func(*options)

// WithBackupInterval sets the period of Run. Zero disables periodic backups.
func WithBackupInterval(d time.Duration) Option {
	return func(o *options) { o.backupInterval = d }
}

// WithArchive also writes a timestamped snapshot on every push and backup.
func WithArchive(on bool) Option {
	return func(o *options) { o.archive = on }
}

func WithBackoff(b utils.Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithCollections sets the known collection names or glob patterns used by
// the bulk operations.
func WithCollections(patterns ...string) Option {
	return func(o *options) { o.collections = patterns }
}

type Engine struct {
	docs  Documents
	cache Cache
	opts  options
	now   func() time.Time

	mu       sync.RWMutex
	mode     Mode
	lastErrs map[string]string
}

// New restores the persisted mode, defaulting to Hybrid.
func New(docs Documents, cache Cache, opts ...Option) (*Engine, error) {
	o := options{backupInterval: DefaultBackupInterval, backoff: utils.DefaultBackoff}
	for _, opt := range opts {
		opt(&o)
	}
	for _, p := range o.collections {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid collection pattern %q", p)
		}
	}

	state, err := cache.State()
	if err != nil {
		return nil, err
	}
	mode := DefaultMode
	if state.Mode != "" {
		if mode, err = ParseMode(state.Mode); err != nil {
			slog.Warn("ignoring persisted sync mode", "mode", state.Mode, "error", err)
			mode = DefaultMode
		}
	}

	return &Engine{
		docs:     docs,
		cache:    cache,
		opts:     o,
		now:      time.Now,
		mode:     mode,
		lastErrs: make(map[string]string),
	}, nil
}

func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetMode persists and applies a new mode.
func (e *Engine) SetMode(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	if err := e.cache.SetMode(string(mode)); err != nil {
		return err
	}

	e.mu.Lock()
	prev := e.mode
	e.mode = mode
	e.mu.Unlock()

	slog.Info("sync mode changed", "from", prev, "to", mode)
	return nil
}

// Get reads a collection from the authoritative copy for the current mode.
func (e *Engine) Get(ctx context.Context, name string) (*docstore.Collection, error) {
	if err := docstore.ValidateName(name); err != nil {
		return nil, err
	}
	if e.Mode() != RemotePrimary {
		return e.local(name)
	}

	col, err := retry(ctx, e, func() (*docstore.Collection, error) { return e.docs.Get(ctx, name) })
	if err != nil {
		e.recordError(name, err)
		return nil, err
	}
	// an absent remote leaves whatever is cached alone
	if !col.Version.IsAbsent() {
		if err := e.markSynced(col); err != nil {
			return nil, err
		}
	}
	return col, nil
}

// Put writes a collection according to the current mode. In remote-primary
// mode the cache is only updated after the remote write succeeded.
func (e *Engine) Put(ctx context.Context, name string, records []json.RawMessage) (*docstore.Collection, error) {
	if err := docstore.ValidateName(name); err != nil {
		return nil, err
	}
	content, err := docstore.EncodeRecords(records)
	if err != nil {
		return nil, err
	}

	if e.Mode() != RemotePrimary {
		if err := e.cache.Put(name, content); err != nil {
			return nil, err
		}
		return e.local(name)
	}

	col, err := retry(ctx, e, func() (*docstore.Collection, error) { return e.docs.Put(ctx, name, records) })
	if err != nil {
		e.recordError(name, err)
		return nil, err
	}
	if err := e.markSynced(col); err != nil {
		return nil, err
	}
	return col, nil
}

// Pull copies the remote collection into the cache. An empty or missing
// remote leaves the cache untouched and is reported as skipped.
func (e *Engine) Pull(ctx context.Context, name string) (*Result, error) {
	if err := e.networked(name); err != nil {
		return nil, err
	}

	col, err := retry(ctx, e, func() (*docstore.Collection, error) { return e.docs.Get(ctx, name) })
	if err != nil {
		e.recordError(name, err)
		return nil, fmt.Errorf("pull %s: %w", name, err)
	}

	res := &Result{Collection: name, Records: col.Len(), Version: col.Version}
	if col.Len() == 0 {
		res.Skipped = true
		slog.Info("pull skipped, remote collection is empty", "collection", name)
		return res, nil
	}
	if err := e.markSynced(col); err != nil {
		return nil, err
	}
	slog.Info("pulled collection", "collection", name, "records", col.Len(), "version", col.Version)
	return res, nil
}

// Push writes the cached collection to the remote, replacing whatever is
// there. An empty local collection is refused.
func (e *Engine) Push(ctx context.Context, name string) (*Result, error) {
	res, err := e.push(ctx, name)
	if errors.Is(err, ErrEmptyCollection) {
		return nil, fmt.Errorf("push %s: %w", name, err)
	}
	return res, err
}

// Backup pushes the cached collection as a best-effort snapshot. Failures
// are returned but never touch the local copy. Empty collections are
// skipped.
func (e *Engine) Backup(ctx context.Context, name string) (*Result, error) {
	res, err := e.push(ctx, name)
	if errors.Is(err, ErrEmptyCollection) {
		return &Result{Collection: name, Skipped: true}, nil
	}
	return res, err
}

func (e *Engine) push(ctx context.Context, name string) (*Result, error) {
	if err := e.networked(name); err != nil {
		return nil, err
	}

	local, revision, err := e.snapshot(name)
	if err != nil {
		return nil, err
	}
	if local.Len() == 0 {
		return nil, ErrEmptyCollection
	}

	// refresh the version on conflict; the local copy wins
	col, err := retry(ctx, e, func() (*docstore.Collection, error) {
		return e.docs.Update(ctx, name, func(*docstore.Collection) ([]json.RawMessage, error) {
			return local.Records, nil
		})
	})
	if err != nil {
		e.recordError(name, err)
		slog.Warn("backup failed, local copy kept", "collection", name, "error", err)
		return nil, fmt.Errorf("push %s: %w", name, err)
	}
	// only sync metadata is recorded; a write that landed meanwhile stays dirty
	applied, err := e.cache.MarkPushed(name, string(col.Version), revision, e.now())
	if err != nil {
		return nil, err
	}
	e.clearError(name)
	if !applied {
		slog.Info("local copy changed during push, kept for the next backup", "collection", name)
	}

	res := &Result{Collection: name, Records: col.Len(), Version: col.Version}
	if e.opts.archive {
		obj, err := retry(ctx, e, func() (*ghapi.Object, error) { return e.docs.Snapshot(ctx, name, local.Records) })
		if err != nil {
			// the collection itself is safe; report the missing archive
			e.recordError(name, err)
			res.Error = err.Error()
		} else {
			res.Archive = obj.Path
		}
	}

	slog.Info("pushed collection", "collection", name, "records", res.Records, "version", res.Version)
	return res, nil
}

// BackupAll backs up every cached collection that matches the configured
// patterns. Every collection is attempted; errors are joined.
func (e *Engine) BackupAll(ctx context.Context) ([]*Result, error) {
	if !e.Mode().Networked() {
		return nil, ErrLocalOnly
	}
	names, err := e.Collections()
	if err != nil {
		return nil, err
	}

	var (
		results []*Result
		errs    []error
	)
	for _, name := range names {
		res, err := e.Backup(ctx, name)
		if err != nil {
			errs = append(errs, err)
			results = append(results, &Result{Collection: name, Error: err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Collections returns the cached collections matching the configured
// patterns, plus configured literal names that are not cached yet.
func (e *Engine) Collections() ([]string, error) {
	cached, err := e.cache.Names()
	if err != nil {
		return nil, err
	}
	if len(e.opts.collections) == 0 {
		return cached, nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, name := range cached {
		for _, p := range e.opts.collections {
			if ok, _ := doublestar.Match(p, name); ok && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	for _, p := range e.opts.collections {
		if !hasMeta(p) && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Run backs up all collections periodically while the engine is in hybrid
// mode. It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if e.opts.backupInterval <= 0 {
		slog.Info("periodic backup disabled")
		<-ctx.Done()
		return nil
	}

	slog.Info("periodic backup started", "interval", e.opts.backupInterval)
	// a timer and not a ticker, so a slow backup does not queue ticks
	timer := time.NewTimer(e.opts.backupInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("periodic backup stopped")
			return nil
		case <-timer.C:
			if e.Mode() == Hybrid {
				results, err := e.BackupAll(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("periodic backup", "error", err)
				}
				slog.Debug("periodic backup done", "collections", len(results))
			}
			timer.Reset(e.opts.backupInterval)
		}
	}
}

// Status reports the mode and the state of every cached collection.
func (e *Engine) Status() (*Status, error) {
	state, err := e.cache.State()
	if err != nil {
		return nil, err
	}
	names, err := e.cache.Names()
	if err != nil {
		return nil, err
	}

	st := &Status{Mode: e.Mode(), LastSyncAt: state.LastSyncAt, Collections: make([]*CollectionStatus, 0, len(names))}
	for _, name := range names {
		entry, err := e.cache.Get(name)
		if err != nil || entry == nil {
			continue
		}
		cs := &CollectionStatus{
			Name:         name,
			SizeBytes:    len(entry.Content),
			Version:      entry.Version,
			UpdatedAt:    entry.UpdatedAt,
			LastSyncedAt: entry.LastSyncedAt,
			Dirty:        !entry.Synced() || entry.UpdatedAt.After(entry.LastSyncedAt),
			LastError:    e.lastError(name),
		}
		if records, err := docstore.DecodeRecords(entry.Content); err == nil {
			cs.Records = len(records)
		}
		st.Collections = append(st.Collections, cs)
	}
	return st, nil
}

// ClearCache drops every cached collection.
func (e *Engine) ClearCache() (int64, error) {
	e.mu.Lock()
	clear(e.lastErrs)
	e.mu.Unlock()
	return e.cache.Clear()
}

func (e *Engine) local(name string) (*docstore.Collection, error) {
	col, _, err := e.snapshot(name)
	return col, err
}

// snapshot returns the cached collection with the cache revision it was read at.
func (e *Engine) snapshot(name string) (*docstore.Collection, int64, error) {
	entry, err := e.cache.Get(name)
	if err != nil {
		return nil, 0, err
	}
	if entry == nil {
		return &docstore.Collection{Name: name, Records: []json.RawMessage{}, Version: ghapi.Absent}, 0, nil
	}
	records, err := docstore.DecodeRecords(entry.Content)
	if err != nil {
		return nil, 0, fmt.Errorf("cached collection %s: %w", name, err)
	}
	return &docstore.Collection{Name: name, Records: records, Version: ghapi.Version(entry.Version)}, entry.Revision, nil
}

func (e *Engine) markSynced(col *docstore.Collection) error {
	content, err := docstore.EncodeRecords(col.Records)
	if err != nil {
		return err
	}
	if err := e.cache.MarkSynced(col.Name, content, string(col.Version), e.now()); err != nil {
		return err
	}
	e.clearError(col.Name)
	return nil
}

func (e *Engine) clearError(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastErrs, name)
}

func (e *Engine) networked(name string) error {
	if err := docstore.ValidateName(name); err != nil {
		return err
	}
	if !e.Mode().Networked() {
		return ErrLocalOnly
	}
	return nil
}

func (e *Engine) recordError(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErrs[name] = fmt.Sprintf("%s: %v", storeerr.Code(err), err)
}

func (e *Engine) lastError(name string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErrs[name]
}

func retry[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	return utils.Retry(ctx, e.opts.backoff, storeerr.IsRetryable, fn)
}

func hasMeta(p string) bool {
	for _, c := range p {
		switch c {
		case '*', '?', '[', '{', '\\':
			return true
		}
	}
	return false
}
