package repostore

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/blobtier"
	"github.com/provtrack/repostore/internal/config"
	"github.com/provtrack/repostore/internal/filegw"
	"github.com/provtrack/repostore/internal/ghapi/ghapitest"
	"github.com/provtrack/repostore/internal/storeerr"
	"github.com/provtrack/repostore/internal/syncengine"
	"github.com/provtrack/repostore/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastBackoff = utils.Backoff{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func testConfig(t *testing.T, srv *ghapitest.Server) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Owner:          ghapitest.Owner,
		Repo:           ghapitest.Repo,
		Branch:         ghapitest.Branch,
		Token:          ghapitest.Token,
		APIURL:         srv.URL,
		CacheDir:       filepath.Join(dir, "cache"),
		Path:           filepath.Join(dir, "config.json"),
		InlineCeiling:  64,
		RemoteCeiling:  1024,
		RequestTimeout: config.Duration(5 * time.Second),
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func openStore(t *testing.T, opts ...Option) (*Store, *ghapitest.Server) {
	t.Helper()
	srv := ghapitest.New(t)
	opts = append([]Option{WithBackoff(fastBackoff)}, opts...)
	s, err := Open(testConfig(t, srv), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, srv
}

func raw(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = json.RawMessage(it)
	}
	return out
}

func pdf(n int) []byte {
	data := bytes.Repeat([]byte("x"), n)
	copy(data, "%PDF-1.4\n")
	return data
}

func TestOpen_PersistsCacheOnDisk(t *testing.T) {
	srv := ghapitest.New(t)
	cfg := testConfig(t, srv)
	ctx := context.Background()

	s, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, syncengine.Hybrid, s.SyncMode())
	_, err = s.PutCollection(ctx, "suppliers", raw(`{"id":1}`))
	require.NoError(t, err)
	require.NoError(t, s.SetSyncMode(syncengine.LocalOnly))
	require.NoError(t, s.Close())
	assert.True(t, utils.FileExists(cfg.CachePath()))

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, syncengine.LocalOnly, reopened.SyncMode())
	col, err := reopened.GetCollection(ctx, "suppliers")
	require.NoError(t, err)
	assert.Equal(t, raw(`{"id":1}`), col.Records)
}

func TestHybrid_WritesStayLocalUntilBackup(t *testing.T) {
	s, srv := openStore(t, WithCachePath(""))
	ctx := context.Background()

	_, err := s.PutCollection(ctx, "suppliers", raw(`{"id":1}`))
	require.NoError(t, err)
	assert.Zero(t, srv.Requests(http.MethodPut))

	results, err := s.BackupNow(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "suppliers", results[0].Collection)

	content, _, ok := srv.File("data/suppliers.json")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":1}]`, string(content))

	st, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, "acme/tracker", st.Repository)
	assert.Equal(t, "main", st.Branch)
	assert.Equal(t, syncengine.Hybrid, st.Mode)
	require.Len(t, st.Collections, 1)
	assert.False(t, st.Collections[0].Dirty)
}

func TestRemotePrimary_ReadsThroughRemote(t *testing.T) {
	s, srv := openStore(t, WithCachePath(""))
	ctx := context.Background()
	require.NoError(t, s.SetSyncMode(syncengine.RemotePrimary))

	srv.Seed("data/suppliers.json", []byte(`[{"id":"s1"}]`))
	col, err := s.GetCollection(ctx, "suppliers")
	require.NoError(t, err)
	assert.Equal(t, raw(`{"id":"s1"}`), col.Records)

	written, err := s.PutCollection(ctx, "suppliers", raw(`{"id":"s1"}`, `{"id":"s2"}`))
	require.NoError(t, err)
	_, version, _ := srv.File("data/suppliers.json")
	assert.Equal(t, version, string(written.Version))

	srv.Fail(ghapitest.Fault{Status: http.StatusUnauthorized, Message: "Bad credentials"})
	_, err = s.GetCollection(ctx, "suppliers")
	assert.ErrorIs(t, err, storeerr.ErrUnauthorized)
}

func TestFiles_UploadDownloadDelete(t *testing.T) {
	s, srv := openStore(t, WithCachePath(""))
	ctx := context.Background()

	small, err := s.UploadFile(ctx, filegw.BytesSource("small.pdf", "", pdf(64)), "suppliers/1")
	require.NoError(t, err)
	assert.Equal(t, blobtier.Inline, small.Tier)

	large, err := s.UploadFile(ctx, filegw.BytesSource("large.pdf", "", pdf(65)), "suppliers/1")
	require.NoError(t, err)
	assert.Equal(t, blobtier.RemoteBlob, large.Tier)

	_, err = s.UploadFile(ctx, filegw.BytesSource("huge.pdf", "", pdf(1025)), "suppliers/1")
	assert.ErrorIs(t, err, storeerr.ErrRejected)
	_, err = s.UploadFile(ctx, filegw.BytesSource("run.exe", "", pdf(10)), "suppliers/1")
	assert.ErrorIs(t, err, storeerr.ErrRejected)

	for _, rec := range []*filegw.FileRecord{small, large} {
		data, err := s.DownloadFile(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, int(rec.Size), len(data))
	}

	blobs, err := s.ListFiles(ctx, "suppliers/1")
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, large.Remote.Path, blobs[0].Path)

	require.NoError(t, s.DeleteFile(ctx, large))
	require.NoError(t, s.DeleteFile(ctx, large))
	assert.Empty(t, srv.Paths("uploads/"))
}

func TestMigrate_PushesDirtyLocalThenRefreshesCache(t *testing.T) {
	s, srv := openStore(t, WithCachePath(""), WithMigrationConcurrency(2))
	ctx := context.Background()

	data := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 constancia"))
	doc := `{"name":"c.pdf","mimeType":"application/pdf","sizeBytes":19,"tier":"inline","data":"` + data + `"}`
	_, err := s.PutCollection(ctx, "suppliers", raw(`{"id":"s1","constancia":`+doc+`}`, `{"id":"s2"}`))
	require.NoError(t, err)

	res, err := s.Migrate(ctx, "suppliers")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Converted)
	assert.Zero(t, res.Failed)

	col, err := s.GetCollection(ctx, "suppliers")
	require.NoError(t, err)
	require.Len(t, col.Records, 2)

	var rec struct {
		Constancia filegw.FileRecord `json:"constancia"`
	}
	require.NoError(t, json.Unmarshal(col.Records[0], &rec))
	assert.Equal(t, blobtier.RemoteBlob, rec.Constancia.Tier)
	assert.Empty(t, rec.Constancia.Data)
	require.NotNil(t, rec.Constancia.Remote)
	assert.True(t, strings.HasPrefix(rec.Constancia.Remote.Path, "uploads/suppliers/s1/"))

	got, err := s.DownloadFile(ctx, &rec.Constancia)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 constancia", string(got))

	_, version, _ := srv.File("data/suppliers.json")
	assert.Equal(t, version, string(col.Version))
}

func TestMigrate_LocalOnlyRefused(t *testing.T) {
	s, srv := openStore(t, WithCachePath(""))
	require.NoError(t, s.SetSyncMode(syncengine.LocalOnly))

	_, err := s.Migrate(context.Background(), "suppliers")
	assert.ErrorIs(t, err, syncengine.ErrLocalOnly)
	assert.Zero(t, srv.TotalRequests())
}

func TestPullPush(t *testing.T) {
	s, srv := openStore(t, WithCachePath(""))
	ctx := context.Background()

	srv.Seed("data/suppliers.json", []byte(`[{"id":1},{"id":2}]`))
	res, err := s.Pull(ctx, "suppliers")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)

	_, err = s.PutCollection(ctx, "suppliers", raw(`{"id":3}`))
	require.NoError(t, err)
	res, err = s.Push(ctx, "suppliers")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)

	content, _, _ := srv.File("data/suppliers.json")
	assert.JSONEq(t, `[{"id":3}]`, string(content))

	n, err := s.ClearCache()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProbe(t *testing.T) {
	s, _ := openStore(t, WithCachePath(""))
	info, err := s.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme/tracker", info.FullName)
	assert.True(t, info.BranchExists)
	assert.True(t, info.CanPush)
}

func TestRun_StopsWithContext(t *testing.T) {
	s, _ := openStore(t, WithCachePath(""))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
