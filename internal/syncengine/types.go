package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/docstore"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/localcache"
)

var (
	ErrLocalOnly       = errors.New("sync: remote disabled in local-only mode")
	ErrEmptyCollection = errors.New("sync: local collection is empty")
)

// Documents is the remote side of the engine.
type Documents interface {
	Get(ctx context.Context, name string) (*docstore.Collection, error)
	Put(ctx context.Context, name string, records []json.RawMessage) (*docstore.Collection, error)
	Update(ctx context.Context, name string, fn docstore.MutateFunc, opts ...docstore.UpdateOption) (*docstore.Collection, error)
	Snapshot(ctx context.Context, name string, records []json.RawMessage) (*ghapi.Object, error)
}

// Cache is the local side of the engine.
type Cache interface {
	Get(collection string) (*localcache.Entry, error)
	Put(collection string, content []byte) error
	MarkSynced(collection string, content []byte, version string, at time.Time) error
	MarkPushed(collection, version string, revision int64, at time.Time) (bool, error)
	Names() ([]string, error)
	Clear() (int64, error)
	State() (*localcache.State, error)
	SetMode(mode string) error
}

// Result describes one pull, push or backup.
type Result struct {
	Collection string        `json:"collection"`
	Records    int           `json:"records"`
	Version    ghapi.Version `json:"version,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	Archive    string        `json:"archive,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type CollectionStatus struct {
	Name         string    `json:"name"`
	Records      int       `json:"records"`
	SizeBytes    int       `json:"sizeBytes"`
	Version      string    `json:"version,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
	Dirty        bool      `json:"dirty"` // local write newer than the last sync
	LastError    string    `json:"lastError,omitempty"`
}

type Status struct {
	Mode        Mode                `json:"mode"`
	LastSyncAt  time.Time           `json:"lastSyncAt"`
	Collections []*CollectionStatus `json:"collections"`
}
