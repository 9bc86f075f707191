package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provtrack/repostore/internal/ghapi"
	"github.com/provtrack/repostore/internal/repostore"
	"github.com/provtrack/repostore/internal/version"
)

type StatusResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"ts"`
	Version   string            `json:"version"`
	Revision  string            `json:"revision"`
	BuildDate string            `json:"buildDate"`
	Store     *repostore.Status `json:"store"`
}

type ProbeResponse struct {
	Ok   bool            `json:"ok"`
	Repo *ghapi.RepoInfo `json:"repo"`
}

type StatusHandler struct {
	store Store
}

func NewStatusHandler(store Store) *StatusHandler {
	return &StatusHandler{store: store}
}

// Status reports the build, the sync mode and the cached collections.
func (h *StatusHandler) Status(c *gin.Context) {
	st, err := h.store.Status()
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		Store:     st,
	})
}

// Probe checks the repository with the configured credential.
func (h *StatusHandler) Probe(c *gin.Context) {
	info, err := h.store.Probe(c.Request.Context())
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, &ProbeResponse{Ok: info.BranchExists && info.CanPush, Repo: info})
}
