package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/provtrack/repostore/internal/docstore"
	"github.com/provtrack/repostore/internal/filegw"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/migration"
	"github.com/provtrack/repostore/internal/repostore"
	"github.com/provtrack/repostore/internal/storeerr"
	"github.com/provtrack/repostore/internal/syncengine"
)

const (
	CodeOk                 string = "OK"
	ErrCodeBadRequest      string = "ERR_BAD_REQUEST"
	ErrCodeUnknownError    string = "ERR_UNKNOWN_ERROR"
	ErrCodeLocalOnly       string = "ERR_LOCAL_ONLY"
	ErrCodeEmptyCollection string = "ERR_EMPTY_COLLECTION"
)

// Store is what the control plane exposes over HTTP.
type Store interface {
	GetCollection(ctx context.Context, name string) (*docstore.Collection, error)
	PutCollection(ctx context.Context, name string, records []json.RawMessage) (*docstore.Collection, error)
	UploadFile(ctx context.Context, src filegw.BlobSource, logicalName string) (*filegw.FileRecord, error)
	DownloadFile(ctx context.Context, rec *filegw.FileRecord) ([]byte, error)
	DeleteFile(ctx context.Context, rec *filegw.FileRecord) error
	ListFiles(ctx context.Context, logicalName string) ([]*filegw.BlobInfo, error)
	SyncMode() syncengine.Mode
	SetSyncMode(mode syncengine.Mode) error
	BackupNow(ctx context.Context) ([]*syncengine.Result, error)
	Pull(ctx context.Context, name string) (*syncengine.Result, error)
	Push(ctx context.Context, name string) (*syncengine.Result, error)
	Migrate(ctx context.Context, name string) (*migration.Result, error)
	Status() (*repostore.Status, error)
	Probe(ctx context.Context) (*ghapi.RepoInfo, error)
}

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}

// AbortWithStoreError maps a store failure onto an HTTP status: not found
// is 404, a change that was not applied is 409/422/401 and a transport
// failure is 503.
func AbortWithStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, syncengine.ErrLocalOnly):
		AbortWithError(c, http.StatusConflict, ErrCodeLocalOnly, err)
		return
	case errors.Is(err, syncengine.ErrEmptyCollection):
		AbortWithError(c, http.StatusConflict, ErrCodeEmptyCollection, err)
		return
	case errors.Is(err, context.Canceled):
		AbortWithError(c, 499, ErrCodeUnknownError, err)
		return
	}

	status := http.StatusInternalServerError
	switch storeerr.Kind(err) {
	case storeerr.ErrNotFound:
		status = http.StatusNotFound
	case storeerr.ErrConflict:
		status = http.StatusConflict
	case storeerr.ErrRejected:
		status = http.StatusUnprocessableEntity
	case storeerr.ErrUnauthorized:
		status = http.StatusUnauthorized
	case storeerr.ErrTransport:
		status = http.StatusServiceUnavailable
	}
	AbortWithError(c, status, storeerr.Code(err), err)
}

// collectionName reads a catch-all route parameter.
func collectionName(c *gin.Context) string {
	return strings.Trim(c.Param("name"), "/")
}

type CollectionResponse struct {
	Name    string            `json:"name"`
	Version ghapi.Version     `json:"version"`
	Records []json.RawMessage `json:"records"`
}

type PutCollectionRequest struct {
	Records []json.RawMessage `json:"records"`
}

type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type ModeResponse struct {
	Mode  syncengine.Mode   `json:"mode"`
	Modes []syncengine.Mode `json:"modes"`
}

type BackupResponse struct {
	Results []*syncengine.Result `json:"results"`
	Error   string               `json:"error,omitempty"`
}

type FileListResponse struct {
	Files []*filegw.BlobInfo `json:"files"`
}
