package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/http/response"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/modules/memory"
	"github.com/engramlabs/engram-backend/internal/platform/ctxutil"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

type MemoryHandler struct {
	usecases memory.Usecases
	log      *logger.Logger
}

func NewMemoryHandler(usecases memory.Usecases, baseLog *logger.Logger) *MemoryHandler {
	return &MemoryHandler{
		usecases: usecases,
		log:      baseLog.With("handler", "Memory"),
	}
}

// POST /v1/memory/conversations
// body: { "conversationId": "...", "messages": [{id, role, name?, content, timestamp}] }
func (mh *MemoryHandler) IngestConversation(c *gin.Context) {
	var req struct {
		ConversationID string                        `json:"conversationId"`
		Messages       []payload.ConversationMessage `json:"messages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	err := mh.usecases.IngestConversation(c.Request.Context(), payload.IngestConversation{
		UserID:         ctxutil.UserID(c.Request.Context()),
		ConversationID: req.ConversationID,
		Messages:       req.Messages,
	})
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"queued": true})
}

// POST /v1/memory/documents
// body: { "documentId": "...", "content": "...", "timestamp": "...", "updateExisting": false }
func (mh *MemoryHandler) IngestDocument(c *gin.Context) {
	var req struct {
		DocumentID     string    `json:"documentId"`
		Content        string    `json:"content"`
		Timestamp      time.Time `json:"timestamp"`
		UpdateExisting bool      `json:"updateExisting"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	err := mh.usecases.IngestDocument(c.Request.Context(), payload.IngestDocument{
		UserID:         ctxutil.UserID(c.Request.Context()),
		DocumentID:     req.DocumentID,
		Content:        req.Content,
		Timestamp:      req.Timestamp,
		UpdateExisting: req.UpdateExisting,
	})
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"queued": true})
}

// POST /v1/memory/search
// body: { "query": "...", "limit": 10, "excludeTypes": [...], "conversationId": "..." }
func (mh *MemoryHandler) Search(c *gin.Context) {
	var req struct {
		Query          string           `json:"query"`
		Limit          int              `json:"limit"`
		ExcludeTypes   []types.NodeType `json:"excludeTypes"`
		ConversationID string           `json:"conversationId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result, err := mh.usecases.SearchMemory(c.Request.Context(),
		ctxutil.UserID(c.Request.Context()), req.Query, req.Limit, req.ExcludeTypes, req.ConversationID)
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondOK(c, result)
}

// GET /v1/memory/day/:date?formatted=true
func (mh *MemoryHandler) QueryDay(c *gin.Context) {
	formatted := c.DefaultQuery("formatted", "true") != "false"

	result, err := mh.usecases.QueryDay(c.Request.Context(),
		ctxutil.UserID(c.Request.Context()), c.Param("date"), formatted)
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondOK(c, result)
}

// POST /v1/memory/nodes/query
// body: { "nodeTypes": ["Person", ...], "date": "YYYY-MM-DD"? }
func (mh *MemoryHandler) QueryNodeType(c *gin.Context) {
	var req struct {
		NodeTypes []types.NodeType `json:"nodeTypes"`
		Date      string           `json:"date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result, err := mh.usecases.QueryNodeType(c.Request.Context(),
		ctxutil.UserID(c.Request.Context()), req.NodeTypes, req.Date)
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondOK(c, result)
}

// POST /v1/memory/graph/query
// body: { "query": "..."?, "maxNodes": 25 }
func (mh *MemoryHandler) QueryGraph(c *gin.Context) {
	var req struct {
		Query    string `json:"query"`
		MaxNodes int    `json:"maxNodes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result, err := mh.usecases.QueryGraph(c.Request.Context(),
		ctxutil.UserID(c.Request.Context()), req.Query, req.MaxNodes)
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondOK(c, result)
}

// GET /v1/memory/atlas?assistantId=...
func (mh *MemoryHandler) QueryAtlas(c *gin.Context) {
	result, err := mh.usecases.QueryAtlas(c.Request.Context(),
		ctxutil.UserID(c.Request.Context()), c.Query("assistantId"))
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondOK(c, result)
}
