package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/engramlabs/engram-backend/internal/http/response"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
	"github.com/engramlabs/engram-backend/internal/modules/memory"
	"github.com/engramlabs/engram-backend/internal/platform/ctxutil"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

var errMissingAssistantID = errors.New("assistantId is required")

type MaintenanceHandler struct {
	usecases memory.Usecases
	log      *logger.Logger
}

func NewMaintenanceHandler(usecases memory.Usecases, baseLog *logger.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		usecases: usecases,
		log:      baseLog.With("handler", "Maintenance"),
	}
}

// POST /v1/maintenance/summarize
func (mh *MaintenanceHandler) Summarize(c *gin.Context) {
	err := mh.usecases.Summarize(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"queued": true})
}

// POST /v1/maintenance/dream
// body: { "assistantId": "...", "assistantDescription": "..." }
func (mh *MaintenanceHandler) Dream(c *gin.Context) {
	var req struct {
		AssistantID          string `json:"assistantId"`
		AssistantDescription string `json:"assistantDescription"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.AssistantID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errMissingAssistantID)
		return
	}

	err := mh.usecases.Dream(c.Request.Context(),
		ctxutil.UserID(c.Request.Context()), req.AssistantID, req.AssistantDescription)
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"queued": true})
}

// POST /v1/maintenance/cleanup
// body: { "since": "..."?, "entryNodeLimit": 5?, ... "seedIds": [...]? }
func (mh *MaintenanceHandler) Cleanup(c *gin.Context) {
	var req struct {
		Since                 time.Time `json:"since"`
		EntryNodeLimit        int       `json:"entryNodeLimit"`
		SemanticNeighborLimit int       `json:"semanticNeighborLimit"`
		GraphHopDepth         int       `json:"graphHopDepth"`
		MaxSubgraphNodes      int       `json:"maxSubgraphNodes"`
		MaxSubgraphEdges      int       `json:"maxSubgraphEdges"`
		LLMModelID            string    `json:"llmModelId"`
		SeedIDs               []string  `json:"seedIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	err := mh.usecases.Cleanup(c.Request.Context(), payload.CleanupGraph{
		UserID:                ctxutil.UserID(c.Request.Context()),
		Since:                 req.Since,
		EntryNodeLimit:        req.EntryNodeLimit,
		SemanticNeighborLimit: req.SemanticNeighborLimit,
		GraphHopDepth:         req.GraphHopDepth,
		MaxSubgraphNodes:      req.MaxSubgraphNodes,
		MaxSubgraphEdges:      req.MaxSubgraphEdges,
		LLMModelID:            req.LLMModelID,
		SeedIDs:               req.SeedIDs,
	})
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"queued": true})
}

// POST /v1/maintenance/truncate-labels
func (mh *MaintenanceHandler) TruncateLabels(c *gin.Context) {
	changed, err := mh.usecases.TruncateLongLabels(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondKind(c, err)
		return
	}
	response.RespondOK(c, gin.H{"truncated": changed})
}
