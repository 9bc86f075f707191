// Package migration moves inline file payloads out of a collection into
// remote blobs, shrinking the collection document.
package migration

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc/pool"

	"github.com/provtrack/repostore/internal/blobtier"
	"github.com/provtrack/repostore/internal/docstore"
	"github.com/provtrack/repostore/internal/filegw"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/storeerr"
	"github.com/provtrack/repostore/internal/utils"
)

const DefaultConcurrency = 1

type Files interface {
	UploadRemote(ctx context.Context, src filegw.BlobSource, logicalName string) (*filegw.FileRecord, error)
}

type Documents interface {
	Get(ctx context.Context, name string) (*docstore.Collection, error)
	CompareAndPut(ctx context.Context, name string, records []json.RawMessage, expected ghapi.Version) (*docstore.Collection, error)
}

type Failure struct {
	Record int    `json:"record"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// Result counts converted and failed inline files. Converted plus Failed is
// the number of inline files found.
type Result struct {
	Collection string        `json:"collection"`
	Converted  int           `json:"converted"`
	Failed     int           `json:"failed"`
	Failures   []Failure     `json:"failures,omitempty"`
	Version    ghapi.Version `json:"version,omitempty"`
}

type Runner struct {
	files       Files
	docs        Documents
	codec       filegw.ByteCodec
	concurrency int
	backoff     utils.Backoff
}

type Option func(*Runner)

func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithBackoff(b utils.Backoff) Option { return func(r *Runner) { r.backoff = b } }

func WithCodec(c filegw.ByteCodec) Option { return func(r *Runner) { r.codec = c } }

func New(files Files, docs Documents, opts ...Option) *Runner {
	r := &Runner{
		files:       files,
		docs:        docs,
		codec:       filegw.Base64Codec{},
		concurrency: DefaultConcurrency,
		backoff:     utils.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// inlineRef is an inline file found somewhere inside a record.
type inlineRef struct {
	record  int
	logical string
	node    map[string]any
}

// Run converts every inline file of the collection. A failed upload leaves
// its file inline and is counted; it does not stop the run. The rewritten
// collection is written once, against the version read at the start.
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	col, err := r.docs.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("migrate %s: %w", name, err)
	}

	res := &Result{Collection: name, Version: col.Version}
	decoded := make([]any, len(col.Records))
	var refs []*inlineRef
	for i, raw := range col.Records {
		v, err := decodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("migrate %s: record %d: %w", name, i, err)
		}
		decoded[i] = v
		logical := name + "/" + recordID(v, i)
		walk(v, func(node map[string]any) {
			refs = append(refs, &inlineRef{record: i, logical: logical, node: node})
		})
	}

	if len(refs) == 0 {
		slog.Info("migration found no inline files", "collection", name)
		return res, nil
	}
	slog.Info("migration started", "collection", name, "inline", len(refs), "concurrency", r.concurrency)

	var mu sync.Mutex
	changed := make(map[int]bool)

	p := pool.New().WithMaxGoroutines(r.concurrency)
	for _, ref := range refs {
		p.Go(func() {
			// each ref owns its node; only the counters are shared
			err := r.convert(ctx, ref)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, Failure{Record: ref.record, Name: fileName(ref.node), Error: err.Error()})
				slog.Warn("migration upload failed, file kept inline", "collection", name, "record", ref.record, "error", err)
				return
			}
			res.Converted++
			changed[ref.record] = true
		})
	}
	p.Wait()

	if res.Converted == 0 {
		return res, nil
	}

	records := make([]json.RawMessage, len(col.Records))
	copy(records, col.Records)
	for i := range changed {
		out, err := json.Marshal(decoded[i])
		if err != nil {
			return res, fmt.Errorf("migrate %s: encode record %d: %w", name, i, err)
		}
		records[i] = out
	}

	written, err := r.docs.CompareAndPut(ctx, name, records, col.Version)
	if err != nil {
		// the uploaded blobs are orphaned; the collection still holds every file inline
		return res, fmt.Errorf("migrate %s: write collection: %w", name, err)
	}
	res.Version = written.Version

	slog.Info("migration finished", "collection", name, "converted", res.Converted, "failed", res.Failed)
	return res, nil
}

func (r *Runner) convert(ctx context.Context, ref *inlineRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := r.codec.Decode(ref.node["data"].(string))
	if err != nil {
		return &storeerr.RejectedError{Name: fileName(ref.node), Reason: "inline data is not decodable"}
	}

	src := filegw.BytesSource(fileName(ref.node), mimeType(ref.node), data)
	rec, err := utils.Retry(ctx, r.backoff, storeerr.IsRetryable, func() (*filegw.FileRecord, error) {
		return r.files.UploadRemote(ctx, src, ref.logical)
	})
	if err != nil {
		return err
	}

	node := ref.node
	delete(node, "data")
	node["name"] = rec.Name
	node["mimeType"] = rec.MimeType
	node["sizeBytes"] = rec.Size
	node["tier"] = string(blobtier.RemoteBlob)
	node["remote"] = map[string]any{
		"path":    rec.Remote.Path,
		"version": string(rec.Remote.Version),
		"url":     rec.Remote.URL,
	}
	return nil
}

func decodeRecord(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// walk calls fn for every inline file object at any depth. Both the current
// shape (tier "inline" with data) and the legacy one (data with nombre and
// no tier) are recognised.
func walk(v any, fn func(map[string]any)) {
	switch node := v.(type) {
	case map[string]any:
		if isInline(node) {
			fn(node)
			return
		}
		for _, child := range node {
			walk(child, fn)
		}
	case []any:
		for _, child := range node {
			walk(child, fn)
		}
	}
}

func isInline(m map[string]any) bool {
	data, ok := m["data"].(string)
	if !ok || data == "" {
		return false
	}
	if tier, ok := m["tier"]; ok {
		return tier == string(blobtier.Inline)
	}
	_, legacy := m["nombre"].(string)
	return legacy
}

func recordID(v any, index int) string {
	if m, ok := v.(map[string]any); ok {
		switch id := m["id"].(type) {
		case string:
			if id != "" {
				return id
			}
		case json.Number:
			return id.String()
		}
	}
	return strconv.Itoa(index)
}

func fileName(m map[string]any) string {
	for _, key := range []string{"name", "nombre"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return "file"
}

func mimeType(m map[string]any) string {
	for _, key := range []string{"mimeType", "tipo"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
