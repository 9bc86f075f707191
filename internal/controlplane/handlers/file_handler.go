package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/provtrack/repostore/internal/filegw"
)

// the multipart envelope may exceed the largest accepted blob a little
const maxUploadOverhead = 1 << 20

type FileHandler struct {
	store    Store
	maxBytes int64
}

// NewFileHandler creates a file handler. maxBytes bounds the request body of
// an upload.
func NewFileHandler(store Store, maxBytes int64) *FileHandler {
	return &FileHandler{store: store, maxBytes: maxBytes + maxUploadOverhead}
}

// Upload stores the multipart `file` field under the `logical` form field
// and returns the record to embed in the owning collection.
func (h *FileHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)

	logical := c.PostForm("logical")
	if logical == "" {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("logical is required"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Errorf("file: %w", err))
		return
	}

	f, err := header.Open()
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	src := filegw.BytesSource(header.Filename, header.Header.Get("Content-Type"), data)
	rec, err := h.store.UploadFile(c.Request.Context(), src, logical)
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusCreated, rec)
}

// Download streams the bytes referenced by the posted file record.
func (h *FileHandler) Download(c *gin.Context) {
	var rec filegw.FileRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	data, err := h.store.DownloadFile(c.Request.Context(), &rec)
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}

	mime := rec.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	c.Data(http.StatusOK, mime, data)
}

// Delete removes the blob of the posted file record. Deleting a blob that
// is already gone succeeds.
func (h *FileHandler) Delete(c *gin.Context) {
	var rec filegw.FileRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	if err := h.store.DeleteFile(c.Request.Context(), &rec); err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, &ControlPlaneResponse{Code: CodeOk})
}

// List returns the blobs uploaded under the `logical` query parameter, or
// every top-level blob when it is empty.
func (h *FileHandler) List(c *gin.Context) {
	files, err := h.store.ListFiles(c.Request.Context(), c.Query("logical"))
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}
	if files == nil {
		files = []*filegw.BlobInfo{}
	}
	c.PureJSON(http.StatusOK, &FileListResponse{Files: files})
}
