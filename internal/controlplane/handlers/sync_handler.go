package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/provtrack/repostore/internal/syncengine"
)

type SyncHandler struct {
	store Store
}

func NewSyncHandler(store Store) *SyncHandler {
	return &SyncHandler{store: store}
}

func (h *SyncHandler) GetMode(c *gin.Context) {
	c.PureJSON(http.StatusOK, &ModeResponse{Mode: h.store.SyncMode(), Modes: syncengine.Modes})
}

func (h *SyncHandler) SetMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	mode, err := syncengine.ParseMode(req.Mode)
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	if err := h.store.SetSyncMode(mode); err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, &ModeResponse{Mode: mode, Modes: syncengine.Modes})
}

func (h *SyncHandler) Pull(c *gin.Context) {
	res, err := h.store.Pull(c.Request.Context(), collectionName(c))
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, res)
}

func (h *SyncHandler) Push(c *gin.Context) {
	res, err := h.store.Push(c.Request.Context(), collectionName(c))
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, res)
}

// Backup backs up every known collection. Partial failures still return
// the per-collection results.
func (h *SyncHandler) Backup(c *gin.Context) {
	results, err := h.store.BackupNow(c.Request.Context())
	if err != nil && results == nil {
		AbortWithStoreError(c, err)
		return
	}

	resp := &BackupResponse{Results: results}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusMultiStatus
	}
	c.PureJSON(status, resp)
}

func (h *SyncHandler) Migrate(c *gin.Context) {
	res, err := h.store.Migrate(c.Request.Context(), collectionName(c))
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, res)
}
