// Package ghapitest provides an in-memory fake of the repository contents API
// for tests.
package ghapitest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

const (
	Owner  = "acme"
	Repo   = "tracker"
	Branch = "main"
	Token  = "ghp_testtoken1234"

	// objects above this size are served without inline content
	DefaultInlineLimit = 1 << 20
)

// Fault is an injected failure. Status 0 means 503.
type Fault struct {
	Method  string // empty matches any
	Prefix  string // repository path prefix, empty matches any
	Status  int
	Message string
	Header  map[string]string
	Times   int
}

type Server struct {
	*httptest.Server

	Token       string
	InlineLimit int

	mu       sync.Mutex
	files    map[string][]byte
	requests map[string]int
	faults   []*Fault
	hooks    []func(method, repoPath string)
	push     bool
}

type Option func(*Server)

func WithToken(token string) Option { return func(s *Server) { s.Token = token } }

func WithInlineLimit(n int) Option { return func(s *Server) { s.InlineLimit = n } }

func ReadOnly() Option { return func(s *Server) { s.push = false } }

// New starts a fake server that is closed when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		Token:       Token,
		InlineLimit: DefaultInlineLimit,
		files:       make(map[string][]byte),
		requests:    make(map[string]int),
		push:        true,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	repoRoot := "/repos/" + Owner + "/" + Repo
	mux.HandleFunc("GET "+repoRoot, s.handleRepo)
	mux.HandleFunc("GET "+repoRoot+"/branches/{branch}", s.handleBranch)
	mux.HandleFunc(repoRoot+"/contents/{path...}", s.handleContents)

	s.Server = httptest.NewServer(s.authenticate(mux))
	t.Cleanup(s.Close)
	return s
}

// BlobSHA is the git blob hash used as the version token.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// Seed stores content at p and returns its version.
func (s *Server) Seed(p string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[clean(p)] = append([]byte(nil), content...)
	return BlobSHA(content)
}

// File returns the stored content and version at p.
func (s *Server) File(p string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[clean(p)]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), content...), BlobSHA(content), true
}

func (s *Server) Remove(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, clean(p))
}

// Paths lists every stored path under prefix, sorted.
func (s *Server) Paths(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Requests counts handled requests by method, e.g. Requests("PUT").
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method]
}

func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}

func (s *Server) Fail(f Fault) {
	if f.Times <= 0 {
		f.Times = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

// SetToken changes the accepted credential, simulating a revoked token.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Token = token
}

// OnRequest registers fn to run before each contents request is handled.
func (s *Server) OnRequest(fn func(method, repoPath string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.Method]++
		token := s.Token
		s.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) takeFault(method, p string) *Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.faults {
		if (f.Method == "" || f.Method == method) && strings.HasPrefix(p, f.Prefix) {
			f.Times--
			if f.Times == 0 {
				s.faults = append(s.faults[:i], s.faults[i+1:]...)
			}
			return f
		}
	}
	return nil
}

func (s *Server) handleRepo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"full_name":      Owner + "/" + Repo,
		"default_branch": Branch,
		"private":        true,
		"permissions":    map[string]bool{"admin": false, "push": s.push, "pull": true},
	})
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("branch") != Branch {
		writeError(w, http.StatusNotFound, "Branch not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": Branch})
}

func (s *Server) handleContents(w http.ResponseWriter, r *http.Request) {
	p := clean(r.PathValue("path"))

	s.mu.Lock()
	hooks := append([]func(string, string){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(r.Method, p)
	}

	if f := s.takeFault(r.Method, p); f != nil {
		status := f.Status
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		for k, v := range f.Header {
			w.Header().Set(k, v)
		}
		msg := f.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		writeError(w, status, msg)
		return
	}

	if ref := r.URL.Query().Get("ref"); ref != "" && ref != Branch {
		writeError(w, http.StatusNotFound, "No commit found for the ref "+ref)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.get(w, r, p)
	case http.MethodPut:
		s.put(w, r, p)
	case http.MethodDelete:
		s.delete(w, r, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) get(w http.ResponseWriter, r *http.Request, p string) {
	s.mu.Lock()
	content, ok := s.files[p]
	var children []map[string]any
	if !ok {
		children = s.childrenLocked(p)
	}
	s.mu.Unlock()

	if !ok {
		if len(children) == 0 {
			writeError(w, http.StatusNotFound, "Not Found")
			return
		}
		writeJSON(w, http.StatusOK, children)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "raw") {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
		return
	}

	meta := fileMeta(p, content)
	if len(content) > s.InlineLimit {
		meta["encoding"] = "none"
		meta["content"] = ""
	} else {
		meta["encoding"] = "base64"
		meta["content"] = wrap76(base64.StdEncoding.EncodeToString(content))
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) childrenLocked(dir string) []map[string]any {
	if dir != "" {
		dir += "/"
	}
	seen := map[string]bool{}
	var out []map[string]any
	names := make([]string, 0, len(s.files))
	for p := range s.files {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, p := range names {
		if !strings.HasPrefix(p, dir) {
			continue
		}
		rest := strings.TrimPrefix(p, dir)
		if i := strings.Index(rest, "/"); i >= 0 {
			sub := rest[:i]
			if !seen[sub] {
				seen[sub] = true
				out = append(out, map[string]any{"type": "dir", "name": sub, "path": dir + sub, "sha": BlobSHA([]byte(dir + sub)), "size": 0})
			}
			continue
		}
		out = append(out, fileMeta(p, s.files[p]))
	}
	return out
}

type writeBody struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

func (s *Server) put(w http.ResponseWriter, r *http.Request, p string) {
	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"message\" wasn't supplied.")
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "content is not valid Base64")
		return
	}

	s.mu.Lock()
	current, exists := s.files[p]
	switch {
	case exists && body.SHA == "":
		s.mu.Unlock()
		writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
		return
	case exists && body.SHA != BlobSHA(current):
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", p, body.SHA))
		return
	case !exists && body.SHA != "":
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", p, body.SHA))
		return
	}
	s.files[p] = content
	s.mu.Unlock()

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": fileMeta(p, content),
		"commit":  map[string]any{"sha": BlobSHA([]byte(body.Message + p)), "message": body.Message},
	})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, p string) {
	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}

	s.mu.Lock()
	current, exists := s.files[p]
	switch {
	case !exists:
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Not Found")
		return
	case body.SHA == "":
		s.mu.Unlock()
		writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
		return
	case body.SHA != BlobSHA(current):
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", p, body.SHA))
		return
	}
	delete(s.files, p)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"content": nil, "commit": map[string]any{"sha": BlobSHA([]byte("delete " + p))}})
}

func fileMeta(p string, content []byte) map[string]any {
	return map[string]any{
		"type":         "file",
		"name":         path.Base(p),
		"path":         p,
		"size":         len(content),
		"sha":          BlobSHA(content),
		"download_url": "https://raw.example.test/" + Owner + "/" + Repo + "/" + Branch + "/" + p,
	}
}

func clean(p string) string {
	return strings.Trim(p, "/")
}

// wrap76 mimics the provider splitting base64 content into lines.
func wrap76(s string) string {
	var b strings.Builder
	for len(s) > 76 {
		b.WriteString(s[:76])
		b.WriteByte('\n')
		s = s[76:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"message":           message,
		"documentation_url": "https://docs.github.com/rest",
	})
}
