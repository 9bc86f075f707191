package filegw

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/blobtier"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/ghapi/ghapitest"
	"github.com/provtrack/repostore/internal/storeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// small ceilings keep the fixtures tiny
const (
	testInline = 64
	testRemote = 1024
)

func setupGateway(t *testing.T, opts ...Option) (*Gateway, *ghapitest.Server) {
	t.Helper()
	srv := ghapitest.New(t)
	client, err := ghapi.New(&ghapi.Config{
		BaseURL: srv.URL,
		Owner:   ghapitest.Owner,
		Repo:    ghapitest.Repo,
		Branch:  ghapitest.Branch,
		Token:   ghapitest.Token,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	policy, err := blobtier.New(testInline, testRemote, nil)
	require.NoError(t, err)
	return New(client, policy, opts...), srv
}

func pdf(n int) []byte {
	data := bytes.Repeat([]byte("x"), n)
	copy(data, "%PDF-1.4\n")
	return data
}

func TestUpload_InlineRoundTrip(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()

	data := pdf(testInline)
	rec, err := g.Upload(ctx, BytesSource("constancia.pdf", "", data), "suppliers/17")
	require.NoError(t, err)
	assert.Equal(t, blobtier.Inline, rec.Tier)
	assert.Nil(t, rec.Remote)
	assert.Equal(t, int64(testInline), rec.Size)
	assert.Equal(t, "application/pdf", rec.MimeType)
	assert.Zero(t, srv.TotalRequests())

	got, err := g.Download(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// deleting an inline record touches nothing remote
	require.NoError(t, g.Delete(ctx, rec))
	assert.Zero(t, srv.TotalRequests())
}

func TestUpload_RemoteRoundTrip(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()

	data := pdf(testInline + 1)
	rec, err := g.Upload(ctx, BytesSource("contrato final.pdf", "application/pdf", data), "suppliers/17")
	require.NoError(t, err)
	assert.Equal(t, blobtier.RemoteBlob, rec.Tier)
	assert.Empty(t, rec.Data)
	require.NotNil(t, rec.Remote)
	assert.True(t, strings.HasPrefix(rec.Remote.Path, "uploads/suppliers/17/"), rec.Remote.Path)
	assert.True(t, strings.HasSuffix(rec.Remote.Path, "-contrato_final.pdf"), rec.Remote.Path)
	assert.Equal(t, ghapi.Version(ghapitest.BlobSHA(data)), rec.Remote.Version)

	stored, _, ok := srv.File(rec.Remote.Path)
	require.True(t, ok)
	assert.Equal(t, data, stored)

	// a fresh gateway has nothing memoised and must fetch
	g2 := New(g.remote, g.policy)
	got, err := g2.Download(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUpload_RejectedCreatesNothing(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()

	_, err := g.Upload(ctx, BytesSource("big.pdf", "", pdf(testRemote+1)), "suppliers/1")
	assert.ErrorIs(t, err, storeerr.ErrRejected)

	_, err = g.Upload(ctx, BytesSource("virus.exe", "", []byte("MZ")), "suppliers/1")
	assert.ErrorIs(t, err, storeerr.ErrRejected)

	assert.Zero(t, srv.TotalRequests())
}

func TestUpload_PathsDoNotCollide(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()
	data := pdf(testInline * 2)

	a, err := g.Upload(ctx, BytesSource("acta.pdf", "", data), "suppliers/1")
	require.NoError(t, err)
	b, err := g.Upload(ctx, BytesSource("acta.pdf", "", data), "suppliers/1")
	require.NoError(t, err)

	assert.NotEqual(t, a.Remote.Path, b.Remote.Path)
	assert.Len(t, srv.Paths("uploads/suppliers/1/"), 2)
}

// resizedSource reports a stale size, as a file that changed after stat would.
type resizedSource struct {
	BlobSource
	size int64
}

func (r resizedSource) Size() int64 { return r.size }

func TestUpload_TierFollowsBytesRead(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()

	grown := resizedSource{BytesSource("acta.pdf", "", pdf(testInline*2)), 10}
	rec, err := g.Upload(ctx, grown, "suppliers/1")
	require.NoError(t, err)
	assert.Equal(t, blobtier.RemoteBlob, rec.Tier)
	assert.Equal(t, int64(testInline*2), rec.Size)
	require.NotNil(t, rec.Remote)

	shrunk := resizedSource{BytesSource("acta.pdf", "", pdf(10)), testInline * 2}
	rec, err = g.Upload(ctx, shrunk, "suppliers/1")
	require.NoError(t, err)
	assert.Equal(t, blobtier.Inline, rec.Tier)
	assert.Equal(t, int64(10), rec.Size)

	before := srv.TotalRequests()
	tooBig := resizedSource{BytesSource("acta.pdf", "", pdf(testRemote+1)), 10}
	_, err = g.Upload(ctx, tooBig, "suppliers/1")
	assert.ErrorIs(t, err, storeerr.ErrRejected)
	_, err = g.UploadRemote(ctx, tooBig, "suppliers/1")
	assert.ErrorIs(t, err, storeerr.ErrRejected)
	assert.Equal(t, before, srv.TotalRequests())
}

func TestUploadRemote_ForcesRemoteTier(t *testing.T) {
	g, srv := setupGateway(t)

	rec, err := g.UploadRemote(context.Background(), BytesSource("legacy.bin", "application/octet-stream", []byte("tiny")), "suppliers/1")
	require.NoError(t, err)
	assert.Equal(t, blobtier.RemoteBlob, rec.Tier)
	assert.Len(t, srv.Paths("uploads/"), 1)
}

func TestDownload_Memoised(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()

	rec, err := g.Upload(ctx, BytesSource("a.pdf", "", pdf(100)), "x")
	require.NoError(t, err)
	before := srv.Requests(http.MethodGet)

	for range 3 {
		_, err := g.Download(ctx, rec)
		require.NoError(t, err)
	}
	assert.Equal(t, before, srv.Requests(http.MethodGet))
}

func TestDownload_MissingBlob(t *testing.T) {
	g, _ := setupGateway(t)
	rec := &FileRecord{Name: "gone.pdf", Tier: blobtier.RemoteBlob, Remote: &RemoteRef{Path: "uploads/x/gone.pdf", Version: "abc"}}

	_, err := g.Download(context.Background(), rec)
	assert.ErrorIs(t, err, storeerr.ErrNotFound)
}

func TestDelete_RemoteIsIdempotent(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()

	rec, err := g.Upload(ctx, BytesSource("a.pdf", "", pdf(100)), "x")
	require.NoError(t, err)

	require.NoError(t, g.Delete(ctx, rec))
	_, _, ok := srv.File(rec.Remote.Path)
	assert.False(t, ok)

	assert.NoError(t, g.Delete(ctx, rec))
}

func TestDelete_AuthFailureSurfaces(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()

	rec, err := g.Upload(ctx, BytesSource("a.pdf", "", pdf(100)), "x")
	require.NoError(t, err)

	srv.Fail(ghapitest.Fault{Method: http.MethodDelete, Status: http.StatusUnauthorized})
	assert.ErrorIs(t, g.Delete(ctx, rec), storeerr.ErrUnauthorized)
}

func TestRemoteRecordOutsideUploadsIsRejected(t *testing.T) {
	g, srv := setupGateway(t)
	ctx := context.Background()

	sha := srv.Seed("data/suppliers.json", []byte(`[{"id":1}]`))

	for _, p := range []string{
		"data/suppliers.json",
		"backups/suppliers-20240501.json",
		"uploads/../data/suppliers.json",
		"uploads//x.pdf",
		"uploadsX/a.pdf",
		"/uploads/a.pdf",
		"uploads",
	} {
		rec := &FileRecord{Name: "x.pdf", Tier: blobtier.RemoteBlob, Remote: &RemoteRef{Path: p, Version: ghapi.Version(sha)}}

		_, err := g.Download(ctx, rec)
		assert.ErrorIs(t, err, storeerr.ErrRejected, p)
		assert.ErrorIs(t, g.Delete(ctx, rec), storeerr.ErrRejected, p)
	}

	_, _, ok := srv.File("data/suppliers.json")
	assert.True(t, ok)
	assert.Zero(t, srv.Requests(http.MethodDelete))
}

func TestList(t *testing.T) {
	g, _ := setupGateway(t)
	ctx := context.Background()

	for _, name := range []string{"a.pdf", "b.pdf"} {
		_, err := g.Upload(ctx, BytesSource(name, "", pdf(100)), "suppliers/9")
		require.NoError(t, err)
	}

	blobs, err := g.List(ctx, "suppliers/9")
	require.NoError(t, err)
	assert.Len(t, blobs, 2)

	none, err := g.List(ctx, "suppliers/10")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFileSource(t *testing.T) {
	g, _ := setupGateway(t)
	path := filepath.Join(t.TempDir(), "foto.png")
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 16)...)
	require.NoError(t, os.WriteFile(path, png, 0o644))

	src, err := FileSource(path)
	require.NoError(t, err)
	assert.Equal(t, "foto.png", src.Name())
	assert.Equal(t, int64(len(png)), src.Size())

	rec, err := g.Upload(context.Background(), src, "suppliers/1")
	require.NoError(t, err)
	assert.Equal(t, "image/png", rec.MimeType)

	_, err = FileSource(t.TempDir())
	assert.Error(t, err)
}

func TestFileRecord_JSONShape(t *testing.T) {
	rec := &FileRecord{Name: "a.pdf", MimeType: "application/pdf", Size: 3, Tier: blobtier.RemoteBlob, Remote: &RemoteRef{Path: "uploads/a", Version: "v1"}}
	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "remote-blob", m["tier"])
	assert.EqualValues(t, 3, m["sizeBytes"])
	assert.NotContains(t, m, "data")
	assert.Equal(t, "uploads/a", m["remote"].(map[string]any)["path"])
}

func TestBase64Codec(t *testing.T) {
	c := Base64Codec{}
	data := []byte("hola proveedor")
	enc := c.Encode(data)

	got, err := c.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = c.Decode("data:application/pdf;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = c.Decode(enc[:8] + "\n" + enc[8:])
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = c.Decode("%%%")
	assert.Error(t, err)
}

func TestCleanLogicalName(t *testing.T) {
	got, err := cleanLogicalName("/suppliers/../17 contratos/")
	require.NoError(t, err)
	assert.Equal(t, "suppliers/17_contratos", got)

	_, err = cleanLogicalName("/../")
	assert.ErrorIs(t, err, storeerr.ErrRejected)
}
