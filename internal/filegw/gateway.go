// Package filegw uploads and downloads file blobs, inlining small ones into
// their owning record and storing the rest as separate repository objects.
package filegw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/provtrack/repostore/internal/blobtier"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/storeerr"
	"github.com/provtrack/repostore/internal/utils"
)

const (
	DefaultUploadsPath = "uploads"
	DefaultCacheSize   = 32
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Remote is the subset of the contents API the gateway needs.
type Remote interface {
	Fetch(ctx context.Context, path string) (*ghapi.Object, error)
	Write(ctx context.Context, path string, content []byte, expected ghapi.Version, message string) (*ghapi.Object, error)
	Delete(ctx context.Context, path string, expected ghapi.Version, message string) error
	List(ctx context.Context, dir string) ([]*ghapi.Entry, error)
}

type Gateway struct {
	remote      Remote
	policy      *blobtier.Policy
	codec       ByteCodec
	uploadsPath string
	downloads   *lru.Cache[string, []byte]
	now         func() time.Time
	token       func() string
}

type Option func(*Gateway)

func WithCodec(c ByteCodec) Option { return func(g *Gateway) { g.codec = c } }

func WithUploadsPath(p string) Option { return func(g *Gateway) { g.uploadsPath = p } }

func New(remote Remote, policy *blobtier.Policy, opts ...Option) *Gateway {
	if policy == nil {
		policy = blobtier.Default()
	}
	cache, _ := lru.New[string, []byte](DefaultCacheSize)
	g := &Gateway{
		remote:      remote,
		policy:      policy,
		codec:       Base64Codec{},
		uploadsPath: DefaultUploadsPath,
		downloads:   cache,
		now:         time.Now,
		token:       func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Policy() *blobtier.Policy { return g.policy }

// Upload stores src under logicalName, inline or as a remote blob depending
// on its size. Rejected uploads create nothing.
func (g *Gateway) Upload(ctx context.Context, src BlobSource, logicalName string) (*FileRecord, error) {
	if _, err := g.policy.Validate(src.Name(), src.Size()); err != nil {
		return nil, err
	}
	return g.upload(ctx, src, logicalName, false)
}

// UploadRemote stores src as a remote blob whatever its size. The extension
// allow-list is not applied; the size ceiling is.
func (g *Gateway) UploadRemote(ctx context.Context, src BlobSource, logicalName string) (*FileRecord, error) {
	if _, err := g.policy.Decide(src.Size()); err != nil {
		return nil, err
	}
	return g.upload(ctx, src, logicalName, true)
}

func (g *Gateway) upload(ctx context.Context, src BlobSource, logicalName string, forceRemote bool) (*FileRecord, error) {
	logical, err := cleanLogicalName(logicalName)
	if err != nil {
		return nil, err
	}

	data, err := src.Bytes()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", src.Name(), err)
	}
	// the source may have changed since it was sized
	tier, err := g.policy.Decide(int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", src.Name(), err)
	}
	if forceRemote {
		tier = blobtier.RemoteBlob
	}

	rec := &FileRecord{
		Name:       src.Name(),
		MimeType:   src.MimeType(),
		Size:       int64(len(data)),
		Tier:       tier,
		UploadedAt: g.now().UTC(),
	}
	if rec.MimeType == "" {
		rec.MimeType = mimetype.Detect(data).String()
	}

	if tier == blobtier.Inline {
		rec.Data = g.codec.Encode(data)
		slog.Debug("filegw inline upload", "name", rec.Name, "size", humanize.IBytes(uint64(rec.Size)))
		return rec, nil
	}

	path := g.RemotePath(logical, src.Name())
	obj, err := g.remote.Write(ctx, path, data, ghapi.Absent, "upload "+src.Name())
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", src.Name(), err)
	}

	rec.Remote = &RemoteRef{Path: obj.Path, Version: obj.Version, URL: obj.DownloadURL}
	g.downloads.Add(cacheKey(obj.Path, obj.Version), data)

	slog.Info("filegw remote upload", "name", rec.Name, "path", obj.Path, "size", humanize.IBytes(uint64(rec.Size)))
	return rec, nil
}

// RemotePath derives a collision-free path for a new blob.
func (g *Gateway) RemotePath(logicalName, fileName string) string {
	base := sanitize(fileName)
	if base == "" {
		base = "file"
	}
	stamp := g.now().UnixMilli()
	return utils.JoinRemote(g.uploadsPath, logicalName, fmt.Sprintf("%d-%s-%s", stamp, g.token(), base))
}

// Download returns the bytes referenced by rec.
func (g *Gateway) Download(ctx context.Context, rec *FileRecord) ([]byte, error) {
	if rec == nil {
		return nil, &storeerr.RejectedError{Reason: "nil file record"}
	}

	switch rec.Tier {
	case blobtier.Inline:
		data, err := g.codec.Decode(rec.Data)
		if err != nil {
			return nil, &storeerr.RejectedError{Name: rec.Name, Reason: "inline data is not decodable: " + err.Error()}
		}
		return data, nil

	case blobtier.RemoteBlob:
		if err := g.checkBlobPath(rec); err != nil {
			return nil, err
		}
		key := cacheKey(rec.Remote.Path, rec.Remote.Version)
		if data, ok := g.downloads.Get(key); ok {
			return data, nil
		}

		obj, err := g.remote.Fetch(ctx, rec.Remote.Path)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", rec.Name, err)
		}
		if rec.Remote.Version != "" && obj.Version != rec.Remote.Version {
			slog.Warn("filegw blob version changed", "path", rec.Remote.Path, "want", rec.Remote.Version, "got", obj.Version)
		}
		g.downloads.Add(cacheKey(obj.Path, obj.Version), obj.Content)
		return obj.Content, nil

	default:
		return nil, &storeerr.RejectedError{Name: rec.Name, Reason: fmt.Sprintf("unknown tier %q", rec.Tier)}
	}
}

// Delete removes the remote blob of rec. Inline records live inside their
// owning collection and need no remote call. A blob that is already gone
// counts as deleted.
func (g *Gateway) Delete(ctx context.Context, rec *FileRecord) error {
	if rec == nil || rec.IsInline() {
		return nil
	}
	if err := g.checkBlobPath(rec); err != nil {
		return err
	}

	err := g.remote.Delete(ctx, rec.Remote.Path, rec.Remote.Version, "delete "+rec.Name)
	if err != nil && !errors.Is(err, storeerr.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", rec.Name, err)
	}
	g.downloads.Remove(cacheKey(rec.Remote.Path, rec.Remote.Version))
	return nil
}

// checkBlobPath rejects records pointing outside the uploads prefix, so a
// file record cannot reach collection documents or archives.
func (g *Gateway) checkBlobPath(rec *FileRecord) error {
	if rec.Remote == nil || rec.Remote.Path == "" {
		return &storeerr.RejectedError{Name: rec.Name, Reason: "remote blob without path"}
	}
	p := rec.Remote.Path
	if !strings.HasPrefix(p, utils.JoinRemote(g.uploadsPath)+"/") || strings.Contains(p, `\`) {
		return &storeerr.RejectedError{Name: rec.Name, Reason: fmt.Sprintf("path %q is outside %s", p, g.uploadsPath)}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return &storeerr.RejectedError{Name: rec.Name, Reason: fmt.Sprintf("path %q is not canonical", p)}
		}
	}
	return nil
}

// List returns the blobs uploaded under logicalName.
func (g *Gateway) List(ctx context.Context, logicalName string) ([]*BlobInfo, error) {
	dir := g.uploadsPath
	if logicalName != "" {
		logical, err := cleanLogicalName(logicalName)
		if err != nil {
			return nil, err
		}
		dir = utils.JoinRemote(g.uploadsPath, logical)
	}

	entries, err := g.remote.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	blobs := make([]*BlobInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		blobs = append(blobs, &BlobInfo{
			Name:    e.Name,
			Path:    e.Path,
			Size:    e.Size,
			Version: e.Version,
			URL:     e.DownloadURL,
		})
	}
	return blobs, nil
}

func cacheKey(path string, v ghapi.Version) string {
	return path + "@" + string(v)
}

func sanitize(name string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_.")
}

func cleanLogicalName(name string) (string, error) {
	segs := strings.Split(strings.Trim(name, "/"), "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			continue
		}
		if c := sanitize(s); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return "", &storeerr.RejectedError{Name: name, Reason: "empty logical name"}
	}
	return strings.Join(out, "/"), nil
}
