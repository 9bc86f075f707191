// Package docstore stores JSON collections as files in the repository.
// Every write is a compare-and-swap on the file version.
package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/storeerr"
	"github.com/provtrack/repostore/internal/utils"
)

const (
	DefaultDataPath    = "data"
	DefaultBackupsPath = "backups"
	fileExt            = ".json"
	snapshotLayout     = "20060102T150405Z"
)

// Remote is the subset of the contents API the store needs.
type Remote interface {
	Fetch(ctx context.Context, path string) (*ghapi.Object, error)
	Write(ctx context.Context, path string, content []byte, expected ghapi.Version, message string) (*ghapi.Object, error)
}

// Collection is an ordered list of opaque JSON records and the version it
// was read or written at. Records are kept compacted.
type Collection struct {
	Name    string            `json:"name"`
	Records []json.RawMessage `json:"records"`
	Version ghapi.Version     `json:"version"`
}

func (c *Collection) Len() int { return len(c.Records) }

// Clone returns a deep copy.
func (c *Collection) Clone() *Collection {
	out := &Collection{Name: c.Name, Version: c.Version, Records: make([]json.RawMessage, len(c.Records))}
	for i, r := range c.Records {
		out.Records[i] = append(json.RawMessage(nil), r...)
	}
	return out
}

type Store struct {
	remote      Remote
	dataPath    string
	backupsPath string
	now         func() time.Time
}

type Option func(*Store)

func WithDataPath(p string) Option { return func(s *Store) { s.dataPath = p } }

func WithBackupsPath(p string) Option { return func(s *Store) { s.backupsPath = p } }

func New(remote Remote, opts ...Option) *Store {
	s := &Store{
		remote:      remote,
		dataPath:    DefaultDataPath,
		backupsPath: DefaultBackupsPath,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the repository path of a collection.
func (s *Store) Path(name string) string {
	return utils.JoinRemote(s.dataPath, name+fileExt)
}

// Get reads a collection. A collection that was never written is empty with
// an absent version.
func (s *Store) Get(ctx context.Context, name string) (*Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	obj, err := s.remote.Fetch(ctx, s.Path(name))
	if errors.Is(err, storeerr.ErrNotFound) {
		return &Collection{Name: name, Records: []json.RawMessage{}, Version: ghapi.Absent}, nil
	} else if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", name, err)
	}

	records, err := DecodeRecords(obj.Content)
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", name, err)
	}
	return &Collection{Name: name, Records: records, Version: obj.Version}, nil
}

// Put replaces a collection. It reads the current version right before
// writing and surfaces a conflict without retrying.
func (s *Store) Put(ctx context.Context, name string, records []json.RawMessage) (*Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	current := ghapi.Absent
	obj, err := s.remote.Fetch(ctx, s.Path(name))
	switch {
	case err == nil:
		current = obj.Version
	case errors.Is(err, storeerr.ErrNotFound):
	default:
		return nil, fmt.Errorf("put collection %s: %w", name, err)
	}

	return s.CompareAndPut(ctx, name, records, current)
}

// CompareAndPut writes a collection only if its remote version still equals
// expected.
func (s *Store) CompareAndPut(ctx context.Context, name string, records []json.RawMessage, expected ghapi.Version) (*Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	content, err := EncodeRecords(records)
	if err != nil {
		return nil, fmt.Errorf("put collection %s: %w", name, err)
	}

	obj, err := s.remote.Write(ctx, s.Path(name), content, expected, fmt.Sprintf("update collection %s (%d records)", name, len(records)))
	if err != nil {
		return nil, fmt.Errorf("put collection %s: %w", name, err)
	}

	slog.Debug("docstore put", "collection", name, "records", len(records), "version", obj.Version)
	compacted, err := DecodeRecords(content)
	if err != nil {
		return nil, err
	}
	return &Collection{Name: name, Records: compacted, Version: obj.Version}, nil
}

// Snapshot writes a timestamped archive copy of records under the backups
// path. Snapshots are never overwritten.
func (s *Store) Snapshot(ctx context.Context, name string, records []json.RawMessage) (*ghapi.Object, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	content, err := EncodeRecords(records)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", name, err)
	}

	stamp := s.now().UTC().Format(snapshotLayout)
	path := utils.JoinRemote(s.backupsPath, name, stamp+fileExt)
	obj, err := s.remote.Write(ctx, path, content, ghapi.Absent, fmt.Sprintf("backup %s at %s", name, stamp))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", name, err)
	}
	return obj, nil
}

// ValidateName rejects names that would escape the data path.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &storeerr.RejectedError{Reason: "empty collection name"}
	case strings.HasPrefix(name, "/"), strings.HasSuffix(name, "/"), strings.Contains(name, `\`):
		return &storeerr.RejectedError{Name: name, Reason: "invalid collection name"}
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return &storeerr.RejectedError{Name: name, Reason: "invalid collection name"}
		}
	}
	return nil
}

// EncodeRecords renders records as an indented JSON array.
func EncodeRecords(records []json.RawMessage) ([]byte, error) {
	if records == nil {
		records = []json.RawMessage{}
	}
	for i, r := range records {
		if !json.Valid(r) {
			return nil, &storeerr.RejectedError{Reason: fmt.Sprintf("record %d is not valid JSON", i)}
		}
	}
	return json.MarshalIndent(records, "", "  ")
}

// DecodeRecords parses a JSON array of records. Empty content is an empty
// collection.
func DecodeRecords(content []byte) ([]json.RawMessage, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return []json.RawMessage{}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, &storeerr.RejectedError{Reason: "collection content is not a JSON array: " + err.Error()}
	}

	records := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r); err != nil {
			return nil, &storeerr.RejectedError{Reason: "invalid record: " + err.Error()}
		}
		records = append(records, json.RawMessage(buf.Bytes()))
	}
	return records, nil
}
