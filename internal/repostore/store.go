// Package repostore wires the remote client, the document store, the file
// gateway, the local cache and the sync engine into the single surface used
// by the CLI and the control plane.
package repostore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/blobtier"
	"github.com/provtrack/repostore/internal/config"
	"github.com/provtrack/repostore/internal/docstore"
	"github.com/provtrack/repostore/internal/filegw"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/localcache"
	"github.com/provtrack/repostore/internal/migration"
	"github.com/provtrack/repostore/internal/syncengine"
	"github.com/provtrack/repostore/internal/utils"
)

type options struct {
	cachePath   string
	backoff     *utils.Backoff
	concurrency int
}

type Option func(*options)

// WithCachePath overrides the cache database location. An empty path keeps
// the cache in memory.
func WithCachePath(path string) Option {
	return func(o *options) { o.cachePath = path }
}

func WithBackoff(b utils.Backoff) Option {
	return func(o *options) { o.backoff = &b }
}

// WithMigrationConcurrency bounds the parallel uploads of Migrate.
func WithMigrationConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

type Store struct {
	cfg      *config.Config
	client   *ghapi.Client
	policy   *blobtier.Policy
	docs     *docstore.Store
	files    *filegw.Gateway
	cache    *localcache.Cache
	engine   *syncengine.Engine
	migrator *migration.Runner
}

// Open builds a store for cfg. The config must already be validated.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	o := options{cachePath: cfg.CachePath()}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := ghapi.New(&ghapi.Config{
		BaseURL: cfg.APIURL,
		Owner:   cfg.Owner,
		Repo:    cfg.Repo,
		Branch:  cfg.Branch,
		Token:   cfg.Token,
		Timeout: cfg.RequestTimeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	policy, err := blobtier.New(cfg.InlineCeiling, cfg.RemoteCeiling, cfg.AllowedExtensions)
	if err != nil {
		return nil, fmt.Errorf("failed to create tiering policy: %w", err)
	}

	if o.cachePath != "" {
		if err := utils.EnsureParent(o.cachePath); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}
	cache, err := localcache.Open(o.cachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	docs := docstore.New(client, docstore.WithDataPath(cfg.DataPath), docstore.WithBackupsPath(cfg.BackupsPath))
	files := filegw.New(client, policy, filegw.WithUploadsPath(cfg.UploadsPath))

	engineOpts := []syncengine.Option{
		syncengine.WithBackupInterval(cfg.BackupInterval.Std()),
		syncengine.WithArchive(cfg.ArchiveBackups),
		syncengine.WithCollections(cfg.Collections...),
	}
	runnerOpts := []migration.Option{migration.WithConcurrency(o.concurrency)}
	if o.backoff != nil {
		engineOpts = append(engineOpts, syncengine.WithBackoff(*o.backoff))
		runnerOpts = append(runnerOpts, migration.WithBackoff(*o.backoff))
	}

	engine, err := syncengine.New(docs, cache, engineOpts...)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}

	slog.Debug("repostore open", "repo", cfg.Owner+"/"+cfg.Repo, "branch", cfg.Branch, "mode", engine.Mode(), "cache", o.cachePath)
	return &Store{
		cfg:      cfg,
		client:   client,
		policy:   policy,
		docs:     docs,
		files:    files,
		cache:    cache,
		engine:   engine,
		migrator: migration.New(files, docs, runnerOpts...),
	}, nil
}

func (s *Store) Close() error {
	return s.cache.Close()
}

func (s *Store) Config() *config.Config { return s.cfg }

func (s *Store) Policy() *blobtier.Policy { return s.policy }

// GetCollection reads a collection from the copy the current mode trusts.
func (s *Store) GetCollection(ctx context.Context, name string) (*docstore.Collection, error) {
	return s.engine.Get(ctx, name)
}

// PutCollection replaces a collection.
func (s *Store) PutCollection(ctx context.Context, name string, records []json.RawMessage) (*docstore.Collection, error) {
	return s.engine.Put(ctx, name, records)
}

// UploadFile stores src under logicalName and returns the record to embed in
// the owning collection.
func (s *Store) UploadFile(ctx context.Context, src filegw.BlobSource, logicalName string) (*filegw.FileRecord, error) {
	return s.files.Upload(ctx, src, logicalName)
}

func (s *Store) DownloadFile(ctx context.Context, rec *filegw.FileRecord) ([]byte, error) {
	return s.files.Download(ctx, rec)
}

func (s *Store) DeleteFile(ctx context.Context, rec *filegw.FileRecord) error {
	return s.files.Delete(ctx, rec)
}

func (s *Store) ListFiles(ctx context.Context, logicalName string) ([]*filegw.BlobInfo, error) {
	return s.files.List(ctx, logicalName)
}

func (s *Store) SyncMode() syncengine.Mode { return s.engine.Mode() }

func (s *Store) SetSyncMode(mode syncengine.Mode) error {
	return s.engine.SetMode(mode)
}

// BackupNow backs up every known collection right away.
func (s *Store) BackupNow(ctx context.Context) ([]*syncengine.Result, error) {
	return s.engine.BackupAll(ctx)
}

func (s *Store) Pull(ctx context.Context, name string) (*syncengine.Result, error) {
	return s.engine.Pull(ctx, name)
}

func (s *Store) Push(ctx context.Context, name string) (*syncengine.Result, error) {
	return s.engine.Push(ctx, name)
}

// Migrate moves the inline files of a remote collection to remote blobs.
// Unsynced local changes are pushed first and the migrated collection is
// pulled back afterwards, so the cache never keeps stale inline copies.
func (s *Store) Migrate(ctx context.Context, name string) (*migration.Result, error) {
	mode := s.engine.Mode()
	if !mode.Networked() {
		return nil, syncengine.ErrLocalOnly
	}

	if mode == syncengine.Hybrid {
		dirty, err := s.dirty(name)
		if err != nil {
			return nil, err
		}
		if dirty {
			if _, err := s.engine.Push(ctx, name); err != nil {
				return nil, fmt.Errorf("migrate %s: %w", name, err)
			}
		}
	}

	res, err := s.migrator.Run(ctx, name)
	if err != nil {
		return res, err
	}

	if res.Converted > 0 && mode == syncengine.Hybrid {
		if _, err := s.engine.Pull(ctx, name); err != nil {
			return res, fmt.Errorf("migrate %s: refresh cache: %w", name, err)
		}
	}
	return res, nil
}

func (s *Store) dirty(name string) (bool, error) {
	st, err := s.engine.Status()
	if err != nil {
		return false, err
	}
	for _, cs := range st.Collections {
		if cs.Name == name {
			return cs.Dirty && cs.Records > 0, nil
		}
	}
	return false, nil
}

// Status reports the repository coordinates, the mode and every cached
// collection.
type Status struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	*syncengine.Status
}

func (s *Store) Status() (*Status, error) {
	st, err := s.engine.Status()
	if err != nil {
		return nil, err
	}
	return &Status{Repository: s.cfg.Owner + "/" + s.cfg.Repo, Branch: s.client.Branch(), Status: st}, nil
}

// Probe checks that the repository is reachable with the configured
// credential.
func (s *Store) Probe(ctx context.Context) (*ghapi.RepoInfo, error) {
	return s.client.Probe(ctx)
}

func (s *Store) ClearCache() (int64, error) {
	return s.engine.ClearCache()
}

// Run performs the periodic backups until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	return s.engine.Run(ctx)
}
