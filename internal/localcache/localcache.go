// Package localcache persists collection contents and the sync state in a
// local SQLite database. It is owned by the sync engine.
package localcache

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/provtrack/repostore/internal/compression"
	"github.com/provtrack/repostore/internal/db"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS cache_entries (
    collection TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    compressed INTEGER NOT NULL DEFAULT 0,
    size INTEGER NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,           -- RFC3339
    last_synced_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    mode TEXT NOT NULL DEFAULT '',
    last_sync_at TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO sync_state (id) VALUES (1);
`,
	`ALTER TABLE cache_entries ADD COLUMN revision INTEGER NOT NULL DEFAULT 0;`,
}

// Entry is the cached copy of one collection.
type Entry struct {
	Collection   string
	Content      []byte
	Version      string    // remote version the content was last synced at
	UpdatedAt    time.Time // last local write
	LastSyncedAt time.Time // zero when never synced
	Revision     int64     // bumped on every content change
}

// Synced reports whether the entry has been reconciled with the remote at
// least once.
func (e *Entry) Synced() bool { return !e.LastSyncedAt.IsZero() }

// State is the process-wide sync state.
type State struct {
	Mode       string
	LastSyncAt time.Time
}

type dbEntry struct {
	Collection   string `db:"collection"`
	Content      []byte `db:"content"`
	Compressed   bool   `db:"compressed"`
	Size         int64  `db:"size"`
	Version      string `db:"version"`
	UpdatedAt    string `db:"updated_at"`
	LastSyncedAt string `db:"last_synced_at"`
	Revision     int64  `db:"revision"`
}

type dbState struct {
	Mode       string `db:"mode"`
	LastSyncAt string `db:"last_sync_at"`
}

type Cache struct {
	db    *sqlx.DB
	path  string
	codec *compression.Compressor
	now   func() time.Time
}

// Open opens or creates the cache at path. An empty path keeps the cache in
// memory.
func Open(path string) (*Cache, error) {
	opts := []db.Option{}
	if path != "" {
		opts = append(opts, db.WithPath(path), db.WithMaxOpenConns(1))
	}

	conn, err := db.Open(opts...)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	if err := db.Migrate(conn, migrations); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init local cache schema: %w", err)
	}

	codec, err := compression.NewCompressor(compression.Default)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Cache{db: conn, path: path, codec: codec, now: time.Now}, nil
}

func (c *Cache) Close() error {
	c.codec.Close()
	if err := c.db.Close(); err != nil {
		slog.Error("local cache close", "error", err)
		return err
	}
	return nil
}

// Get returns the entry for collection, or nil when nothing is cached.
func (c *Cache) Get(collection string) (*Entry, error) {
	var row dbEntry
	err := c.db.Get(&row, `SELECT collection, content, compressed, size, version, updated_at, last_synced_at, revision
		FROM cache_entries WHERE collection = ?`, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("query cache entry %s: %w", collection, err)
	}
	return c.decode(&row)
}

// Put stores a local write. The synced version and time are kept.
func (c *Cache) Put(collection string, content []byte) error {
	row := c.encode(collection, content)
	_, err := c.db.NamedExec(`INSERT INTO cache_entries (collection, content, compressed, size, updated_at, revision)
		VALUES (:collection, :content, :compressed, :size, :updated_at, 1)
		ON CONFLICT(collection) DO UPDATE SET
			content = excluded.content,
			compressed = excluded.compressed,
			size = excluded.size,
			updated_at = excluded.updated_at,
			revision = cache_entries.revision + 1`, row)
	if err != nil {
		return fmt.Errorf("put cache entry %s: %w", collection, err)
	}
	slog.Debug("local cache put", "collection", collection, "size", row.Size, "compressed", row.Compressed)
	return nil
}

// MarkSynced stores content that is known to match the remote at version.
func (c *Cache) MarkSynced(collection string, content []byte, version string, at time.Time) error {
	row := c.encode(collection, content)
	row.Version = version
	row.LastSyncedAt = at.UTC().Format(time.RFC3339Nano)
	row.UpdatedAt = row.LastSyncedAt

	tx, err := c.db.Beginx()
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", collection, err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`INSERT INTO cache_entries
		(collection, content, compressed, size, version, updated_at, last_synced_at, revision)
		VALUES (:collection, :content, :compressed, :size, :version, :updated_at, :last_synced_at, 1)
		ON CONFLICT(collection) DO UPDATE SET
			content = excluded.content,
			compressed = excluded.compressed,
			size = excluded.size,
			version = excluded.version,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at,
			revision = cache_entries.revision + 1`, row); err != nil {
		return fmt.Errorf("mark synced %s: %w", collection, err)
	}
	if _, err := tx.Exec(`UPDATE sync_state SET last_sync_at = ? WHERE id = 1`, row.LastSyncedAt); err != nil {
		return fmt.Errorf("mark synced %s: %w", collection, err)
	}
	return tx.Commit()
}

// MarkPushed records that the content at revision now matches the remote at
// version. The content itself is never written. It reports false and leaves
// the entry alone when a local write changed the revision in the meantime.
func (c *Cache) MarkPushed(collection, version string, revision int64, at time.Time) (bool, error) {
	ts := at.UTC().Format(time.RFC3339Nano)

	tx, err := c.db.Beginx()
	if err != nil {
		return false, fmt.Errorf("mark pushed %s: %w", collection, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE cache_entries SET version = ?, updated_at = ?, last_synced_at = ?
		WHERE collection = ? AND revision = ?`, version, ts, ts, collection, revision)
	if err != nil {
		return false, fmt.Errorf("mark pushed %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark pushed %s: %w", collection, err)
	}
	if _, err := tx.Exec(`UPDATE sync_state SET last_sync_at = ? WHERE id = 1`, ts); err != nil {
		return false, fmt.Errorf("mark pushed %s: %w", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mark pushed %s: %w", collection, err)
	}
	return n == 1, nil
}

// Names lists cached collections in name order.
func (c *Cache) Names() ([]string, error) {
	var names []string
	if err := c.db.Select(&names, `SELECT collection FROM cache_entries ORDER BY collection`); err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	return names, nil
}

// Clear removes every cached entry. The sync state is kept.
func (c *Cache) Clear() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Info("local cache cleared", "entries", n)
	return n, nil
}

func (c *Cache) State() (*State, error) {
	var row dbState
	if err := c.db.Get(&row, `SELECT mode, last_sync_at FROM sync_state WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("query sync state: %w", err)
	}
	last, err := parseTime(row.LastSyncAt)
	if err != nil {
		return nil, fmt.Errorf("parse last sync time: %w", err)
	}
	return &State{Mode: row.Mode, LastSyncAt: last}, nil
}

func (c *Cache) SetMode(mode string) error {
	if _, err := c.db.Exec(`UPDATE sync_state SET mode = ? WHERE id = 1`, mode); err != nil {
		return fmt.Errorf("set sync mode: %w", err)
	}
	return nil
}

func (c *Cache) encode(collection string, content []byte) *dbEntry {
	if content == nil {
		content = []byte{}
	}
	stored, compressed := c.codec.Compress(content)
	return &dbEntry{
		Collection: collection,
		Content:    stored,
		Compressed: compressed,
		Size:       int64(len(content)),
		UpdatedAt:  c.now().UTC().Format(time.RFC3339Nano),
	}
}

func (c *Cache) decode(row *dbEntry) (*Entry, error) {
	content := row.Content
	if row.Compressed {
		var err error
		if content, err = c.codec.Decompress(row.Content); err != nil {
			return nil, fmt.Errorf("cache entry %s: %w", row.Collection, err)
		}
	}
	if content == nil {
		content = []byte{}
	}

	updated, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("cache entry %s: %w", row.Collection, err)
	}
	synced, err := parseTime(row.LastSyncedAt)
	if err != nil {
		return nil, fmt.Errorf("cache entry %s: %w", row.Collection, err)
	}

	return &Entry{
		Collection:   row.Collection,
		Content:      content,
		Version:      row.Version,
		UpdatedAt:    updated,
		LastSyncedAt: synced,
		Revision:     row.Revision,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
