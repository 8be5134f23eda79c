package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	middb "github.com/PandiaJason/MidDB"
)

// defaultTopK is used when a query body omits topK.
const defaultTopK = 3

type upsertRequest struct {
	Table     string            `json:"table"`
	ID        string            `json:"id"`
	Fields    map[string]string `json:"fields"`
	Embedding []float32         `json:"embedding"`
}

type deleteRequest struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

type embeddingQuery struct {
	Embedding []float32 `json:"embedding"`
	TopK      int       `json:"topK"`
}

type hybridQuery struct {
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	Embedding []float32 `json:"embedding"`
	TopK      int       `json:"topK"`
}

// handleUpsert serves POST /insert and POST /update. The write is
// asynchronous, so success means accepted, not applied.
func (s *Server) handleUpsert(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Table == "" || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "table and id are required"})
		return
	}

	if len(req.Embedding) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "embedding is required"})
		return
	}

	if err := s.db.Upsert(c.Request.Context(), req.Table, req.ID, req.Fields, req.Embedding); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

// handleDelete serves POST /delete. Deleting a missing record succeeds.
func (s *Server) handleDelete(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Table == "" || req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "table and id are required"})
		return
	}

	if err := s.db.Delete(c.Request.Context(), req.Table, req.ID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

// handleQueryField serves GET /queryField/:table?field=F&value=V.
// Unknown tables yield an empty array, not an error.
func (s *Server) handleQueryField(c *gin.Context) {
	field, fieldOK := c.GetQuery("field")
	value, valueOK := c.GetQuery("value")

	if !fieldOK || !valueOK || field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field and value query parameters are required"})
		return
	}

	ids := s.db.QueryField(c.Param("table"), field, value)

	c.JSON(http.StatusOK, ids)
}

// handleQueryEmbedding serves POST /queryEmbedding/:table.
func (s *Server) handleQueryEmbedding(c *gin.Context) {
	var req embeddingQuery
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if len(req.Embedding) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "embedding is required"})
		return
	}

	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}

	ids, err := s.db.QueryEmbedding(c.Param("table"), req.Embedding, req.TopK)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ids)
}

// handleQueryHybrid serves POST /queryHybrid/:table.
func (s *Server) handleQueryHybrid(c *gin.Context) {
	var req hybridQuery
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field is required"})
		return
	}

	if len(req.Embedding) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "embedding is required"})
		return
	}

	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}

	ids, err := s.db.QueryHybrid(c.Param("table"), req.Field, req.Value, req.Embedding, req.TopK)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ids)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps database errors onto HTTP status codes: caller mistakes
// are 4xx, everything else 500.
func (s *Server) writeError(c *gin.Context, err error) {
	var dim *middb.ErrDimensionMismatch

	switch {
	case errors.As(err, &dim), errors.Is(err, middb.ErrInvalidK), errors.Is(err, middb.ErrEmptyEmbedding):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, middb.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
