package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type CollectionHandler struct {
	store Store
}

func NewCollectionHandler(store Store) *CollectionHandler {
	return &CollectionHandler{store: store}
}

// Get returns a collection. A collection that was never written is empty.
func (h *CollectionHandler) Get(c *gin.Context) {
	col, err := h.store.GetCollection(c.Request.Context(), collectionName(c))
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, &CollectionResponse{Name: col.Name, Version: col.Version, Records: col.Records})
}

// Put replaces a collection.
func (h *CollectionHandler) Put(c *gin.Context) {
	var req PutCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}
	if req.Records == nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("records is required"))
		return
	}

	col, err := h.store.PutCollection(c.Request.Context(), collectionName(c), req.Records)
	if err != nil {
		AbortWithStoreError(c, err)
		return
	}
	c.PureJSON(http.StatusOK, &CollectionResponse{Name: col.Name, Version: col.Version, Records: col.Records})
}
