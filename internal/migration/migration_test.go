package migration

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/blobtier"
	"github.com/provtrack/repostore/internal/docstore"
	"github.com/provtrack/repostore/internal/filegw"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/ghapi/ghapitest"
	"github.com/provtrack/repostore/internal/storeerr"
	"github.com/provtrack/repostore/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastBackoff = utils.Backoff{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

type fixture struct {
	srv    *ghapitest.Server
	docs   *docstore.Store
	runner *Runner
}

func setup(t *testing.T, opts ...Option) *fixture {
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

	docs := docstore.New(client)
	files := filegw.New(client, blobtier.Default())
	opts = append([]Option{WithBackoff(fastBackoff)}, opts...)
	return &fixture{srv: srv, docs: docs, runner: New(files, docs, opts...)}
}

func (f *fixture) seed(t *testing.T, name, records string) {
	t.Helper()
	f.srv.Seed("data/"+name+".json", []byte(records))
}

func (f *fixture) records(t *testing.T, name string) []map[string]any {
	t.Helper()
	content, _, ok := f.srv.File("data/" + name + ".json")
	require.True(t, ok)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(content, &out))
	return out
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func inlineDoc(name, payload string) string {
	return `{"name":"` + name + `","mimeType":"application/pdf","sizeBytes":` +
		strconv.Itoa(len(payload)) + `,"tier":"inline","data":"` + b64(payload) + `"}`
}

func TestRun_ConvertsInlineFiles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "suppliers", `[
		{"id":"a","doc":`+inlineDoc("a.pdf", "%PDF-a")+`},
		{"id":"b","doc":`+inlineDoc("b.pdf", "%PDF-b")+`},
		{"id":"c","note":"no files"}
	]`)

	res, err := f.runner.Run(ctx, "suppliers")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Converted)
	assert.Equal(t, 0, res.Failed)

	recs := f.records(t, "suppliers")
	require.Len(t, recs, 3)
	for _, rec := range recs[:2] {
		doc := rec["doc"].(map[string]any)
		assert.Equal(t, "remote-blob", doc["tier"])
		assert.NotContains(t, doc, "data")
		remote := doc["remote"].(map[string]any)
		path := remote["path"].(string)
		assert.True(t, strings.HasPrefix(path, "uploads/suppliers/"+rec["id"].(string)+"/"), path)

		content, version, ok := f.srv.File(path)
		require.True(t, ok)
		assert.Equal(t, "%PDF-"+rec["id"].(string), string(content))
		assert.Equal(t, version, remote["version"])
	}
	assert.Equal(t, map[string]any{"id": "c", "note": "no files"}, recs[2])

	_, version, _ := f.srv.File("data/suppliers.json")
	assert.Equal(t, ghapi.Version(version), res.Version)
}

func TestRun_FailedUploadsStayInline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "suppliers", `[
		{"id":"a","doc":`+inlineDoc("a.pdf", "%PDF-a")+`},
		{"id":"b","doc":`+inlineDoc("b.pdf", "%PDF-b")+`},
		{"id":"c","doc":`+inlineDoc("c.pdf", "%PDF-c")+`}
	]`)
	// b is refused outright, c recovers after one transient failure
	f.srv.Fail(ghapitest.Fault{Method: http.MethodPut, Prefix: "uploads/suppliers/b/", Status: http.StatusUnprocessableEntity, Message: "refused"})
	f.srv.Fail(ghapitest.Fault{Method: http.MethodPut, Prefix: "uploads/suppliers/c/"})

	res, err := f.runner.Run(ctx, "suppliers")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Converted)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Record)
	assert.Equal(t, "b.pdf", res.Failures[0].Name)

	tiers := map[string]string{}
	for _, rec := range f.records(t, "suppliers") {
		tiers[rec["id"].(string)] = rec["doc"].(map[string]any)["tier"].(string)
	}
	assert.Equal(t, map[string]string{"a": "remote-blob", "b": "inline", "c": "remote-blob"}, tiers)
}

func TestRun_NestedAndLegacyShapes(t *testing.T) {
	f := setup(t, WithConcurrency(4))
	ctx := context.Background()
	f.seed(t, "evaluations", `[
		{"id":7,"sections":[{"attachments":[`+inlineDoc("deep.pdf", "%PDF-deep")+`]}]},
		{"constanciaData":{"data":"data:application/pdf;base64,`+b64("%PDF-legacy")+`","nombre":"constancia.pdf","tipo":"application/pdf"}}
	]`)

	res, err := f.runner.Run(ctx, "evaluations")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Converted)

	recs := f.records(t, "evaluations")
	deep := recs[0]["sections"].([]any)[0].(map[string]any)["attachments"].([]any)[0].(map[string]any)
	assert.Equal(t, "remote-blob", deep["tier"])
	assert.True(t, strings.HasPrefix(deep["remote"].(map[string]any)["path"].(string), "uploads/evaluations/7/"))

	legacy := recs[1]["constanciaData"].(map[string]any)
	assert.Equal(t, "remote-blob", legacy["tier"])
	assert.Equal(t, "constancia.pdf", legacy["name"])
	assert.Equal(t, "application/pdf", legacy["mimeType"])
	assert.NotContains(t, legacy, "data")
	path := legacy["remote"].(map[string]any)["path"].(string)
	assert.True(t, strings.HasPrefix(path, "uploads/evaluations/1/"), path)

	content, _, ok := f.srv.File(path)
	require.True(t, ok)
	assert.Equal(t, "%PDF-legacy", string(content))
}

func TestRun_NothingToMigrate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "suppliers", `[{"id":"a"},{"id":"b","doc":{"tier":"remote-blob","remote":{"path":"uploads/x"}}}]`)

	puts := f.srv.Requests(http.MethodPut)
	res, err := f.runner.Run(ctx, "suppliers")
	require.NoError(t, err)
	assert.Zero(t, res.Converted)
	assert.Zero(t, res.Failed)
	assert.Equal(t, puts, f.srv.Requests(http.MethodPut))
}

func TestRun_UndecodableDataFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "suppliers", `[{"id":"a","doc":{"name":"a.pdf","tier":"inline","data":"!!not base64!!"}}]`)

	res, err := f.runner.Run(ctx, "suppliers")
	require.NoError(t, err)
	assert.Zero(t, res.Converted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "inline", f.records(t, "suppliers")[0]["doc"].(map[string]any)["tier"])
}

func TestRun_ConcurrentWriteConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "suppliers", `[{"id":"a","doc":`+inlineDoc("a.pdf", "%PDF-a")+`}]`)

	// another writer replaces the collection while blobs are uploading
	var once bool
	f.srv.OnRequest(func(method, repoPath string) {
		if method == http.MethodPut && strings.HasPrefix(repoPath, "uploads/") && !once {
			once = true
			f.srv.Seed("data/suppliers.json", []byte(`[{"id":"z"}]`))
		}
	})

	res, err := f.runner.Run(ctx, "suppliers")
	require.Error(t, err)
	assert.ErrorIs(t, err, storeerr.ErrConflict)
	assert.Equal(t, 1, res.Converted)

	recs := f.records(t, "suppliers")
	assert.Equal(t, []map[string]any{{"id": "z"}}, recs)
}

func TestRun_MissingCollection(t *testing.T) {
	f := setup(t)
	res, err := f.runner.Run(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Zero(t, res.Converted)
}
