// Package payload holds the typed bodies of queued jobs. Enqueuers marshal
// these; pipelines decode them with DisallowUnknownFields so a drifted
// producer dead-letters instead of half-running.
package payload

import "time"

// Job names as they appear on the queue.
const (
	JobSummarize          = "summarize"
	JobDream              = "dream"
	JobIngestConversation = "ingest-conversation"
	JobIngestDocument     = "ingest-document"
	JobCleanupGraph       = "cleanup-graph"
	JobDeepResearch       = "deep-research"
)

type ConversationMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Name      string    `json:"name,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type IngestConversation struct {
	UserID         string                `json:"userId"`
	ConversationID string                `json:"conversationId"`
	Messages       []ConversationMessage `json:"messages"`
}

type IngestDocument struct {
	UserID         string    `json:"userId"`
	DocumentID     string    `json:"documentId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	UpdateExisting bool      `json:"updateExisting,omitempty"`
}

type Summarize struct {
	UserID string `json:"userId"`
}

type Dream struct {
	UserID               string `json:"userId"`
	AssistantID          string `json:"assistantId"`
	AssistantDescription string `json:"assistantDescription"`
}

type DeepResearch struct {
	UserID         string                `json:"userId"`
	ConversationID string                `json:"conversationId"`
	Messages       []ConversationMessage `json:"messages"`
	LastNMessages  int                   `json:"lastNMessages,omitempty"`
}

type CleanupGraph struct {
	UserID                string    `json:"userId"`
	Since                 time.Time `json:"since"`
	EntryNodeLimit        int       `json:"entryNodeLimit,omitempty"`
	SemanticNeighborLimit int       `json:"semanticNeighborLimit,omitempty"`
	GraphHopDepth         int       `json:"graphHopDepth,omitempty"`
	MaxSubgraphNodes      int       `json:"maxSubgraphNodes,omitempty"`
	MaxSubgraphEdges      int       `json:"maxSubgraphEdges,omitempty"`
	LLMModelID            string    `json:"llmModelId,omitempty"`
	SeedIDs               []string  `json:"seedIds,omitempty"`
}
