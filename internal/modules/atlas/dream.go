package atlas

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/data/repos/graph"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/modules/retrieval"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
)

const (
	DefaultDreamProbability     = 0.1
	DefaultSelectionProbability = 0.4

	dreamScoreFloor = 0.70
	dreamMaxTopics  = 3
)

type DreamInput struct {
	UserID      string
	AssistantID string

	// Probability gates the whole run; SelectionProbability gates each topic.
	// Zero values fall back to the defaults.
	Probability          float64
	SelectionProbability float64
}

// ProcessDreamJob occasionally lets the assistant free-associate over
// yesterday's memories. Only dreams the assistant itself scores highly are
// kept, as AssistantDream nodes tied to the day they cover.
func ProcessDreamJob(ctx context.Context, deps Deps, in DreamInput) error {
	roll := deps.Rand
	if roll == nil {
		roll = rand.Float64
	}
	prob := in.Probability
	if prob <= 0 {
		prob = DefaultDreamProbability
	}
	selProb := in.SelectionProbability
	if selProb <= 0 {
		selProb = DefaultSelectionProbability
	}
	if roll() >= prob {
		deps.Log.Debug("dream skipped by probability gate", "user_id", in.UserID)
		return nil
	}

	dbc := dbctx.New(ctx)
	yesterday := graph.DayLabel(time.Now().UTC().AddDate(0, 0, -1))
	day, err := deps.Repos.Nodes.FindDayNode(dbc, in.UserID, yesterday)
	if err != nil {
		return err
	}
	if day == nil {
		return nil
	}

	conversations, err := yesterdaysConversations(ctx, deps, in.UserID)
	if err != nil {
		return err
	}
	if conversations == "" {
		return nil
	}

	topics, err := dreamTopics(ctx, deps, conversations)
	if err != nil {
		return err
	}

	selected := selectTopics(topics, roll, selProb)
	kept := 0
	for _, topic := range selected {
		if err := dreamAboutTopic(ctx, deps, in.UserID, day, topic); err != nil {
			deps.Log.Warn("dream topic failed", "user_id", in.UserID, "topic", topic, "error", err)
			continue
		}
		kept++
	}
	deps.Log.Info("dream run finished",
		"user_id", in.UserID, "topics", len(topics), "selected", len(selected), "kept", kept)
	return nil
}

// selectTopics keeps each topic with probability selProb, one roll per topic.
func selectTopics(topics []string, roll func() float64, selProb float64) []string {
	selected := make([]string, 0, len(topics))
	for _, topic := range topics {
		if roll() >= selProb {
			continue
		}
		selected = append(selected, topic)
	}
	return selected
}

func dreamAboutTopic(ctx context.Context, deps Deps, userID string, day *repos.NodeWithMetadata, topic string) error {
	queries, err := dreamQueries(ctx, deps, topic)
	if err != nil {
		return err
	}

	simDeps := retrieval.SimilarDeps{Repos: deps.Repos, Embedder: deps.Embedder, Log: deps.Log}
	var memories strings.Builder
	for _, q := range queries {
		found, err := retrieval.FindSimilarNodes(ctx, simDeps, retrieval.SimilarInput{
			UserID: userID,
			Query:  q,
			Limit:  10,
			MinSim: retrieval.MinSimUser,
		})
		if err != nil {
			return err
		}
		for _, n := range found {
			fmt.Fprintf(&memories, "- [%s] %s", n.NodeType, n.Label)
			if n.Description != "" {
				memories.WriteString(": " + n.Description)
			}
			memories.WriteString("\n")
		}
	}
	if memories.Len() == 0 {
		return nil
	}

	dream, score, err := composeDream(ctx, deps, topic, memories.String())
	if err != nil {
		return err
	}
	if score < dreamScoreFloor {
		deps.Log.Debug("dream discarded", "topic", topic, "score", score)
		return nil
	}

	dbc := dbctx.New(ctx)
	label := "Dream: " + topic
	node, err := deps.Repos.Nodes.InsertNodeWithMetadata(dbc, repos.InsertNodeInput{
		UserID:      userID,
		NodeType:    types.NodeTypeAssistantDream,
		Label:       label,
		Description: dream,
	})
	if err != nil {
		return err
	}

	vecs, err := deps.Embedder.Embed(ctx, jina.TaskPassage, []string{label + ": " + dream})
	if err != nil {
		return err
	}
	if len(vecs) != 1 {
		return errs.Logicf("expected 1 dream embedding, got %d", len(vecs))
	}
	if err := deps.Repos.Embeddings.InsertNodeEmbeddings(dbc, []repos.NodeEmbeddingInput{{
		NodeID:    node.Node.ID,
		Vector:    vecs[0],
		ModelName: deps.Embedder.EmbedModel(),
	}}); err != nil {
		return err
	}

	_, err = deps.Repos.Edges.InsertEdges(dbc, []repos.InsertEdgeInput{{
		UserID:       userID,
		SourceNodeID: node.Node.ID,
		TargetNodeID: day.Node.ID,
		EdgeType:     types.EdgeTypeCapturedIn,
	}})
	return err
}

const dreamTopicsSystem = `You are an assistant reflecting on yesterday's conversations with your user.
Pick at most 3 topics worth dreaming about: themes, tensions, or threads that
feel unresolved or meaningful. Return an empty list if nothing stands out.`

var dreamTopicsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"topics": map[string]any{
			"type":     "array",
			"maxItems": dreamMaxTopics,
			"items":    map[string]any{"type": "string"},
		},
	},
	"required":             []string{"topics"},
	"additionalProperties": false,
}

func dreamTopics(ctx context.Context, deps Deps, conversations string) ([]string, error) {
	out, err := deps.AI.GenerateJSON(ctx, dreamTopicsSystem,
		"Yesterday's conversations:\n"+conversations, "dream_topics", dreamTopicsSchema)
	if err != nil {
		return nil, err
	}
	raw, ok := out["topics"].([]any)
	if !ok {
		return nil, errs.LLMParsef("dream topics: missing topics array")
	}
	topics := make([]string, 0, len(raw))
	for _, t := range raw {
		s, _ := t.(string)
		if s = strings.TrimSpace(s); s != "" {
			topics = append(topics, s)
		}
	}
	if len(topics) > dreamMaxTopics {
		topics = topics[:dreamMaxTopics]
	}
	return topics, nil
}

const dreamQueriesSystem = `Propose 1 to 3 memory-search queries that would surface memories related to the given topic.
Queries are about the user's life and history, phrased as short search strings.`

var dreamQueriesSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"queries": map[string]any{
			"type":     "array",
			"minItems": 1,
			"maxItems": 3,
			"items":    map[string]any{"type": "string"},
		},
	},
	"required":             []string{"queries"},
	"additionalProperties": false,
}

func dreamQueries(ctx context.Context, deps Deps, topic string) ([]string, error) {
	out, err := deps.AI.GenerateJSON(ctx, dreamQueriesSystem, "Topic: "+topic, "dream_queries", dreamQueriesSchema)
	if err != nil {
		return nil, err
	}
	raw, ok := out["queries"].([]any)
	if !ok {
		return nil, errs.LLMParsef("dream queries: missing queries array")
	}
	queries := make([]string, 0, len(raw))
	for _, q := range raw {
		s, _ := q.(string)
		if s = strings.TrimSpace(s); s != "" {
			queries = append(queries, s)
		}
	}
	return queries, nil
}

const composeDreamSystem = `Write a long-form dream: a free-associative reflection weaving the given memories around the topic.
Let connections surface that a waking analysis would miss. Then score your own
dream from 0 to 1 for how insightful and true to the memories it feels.`

var composeDreamSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"dream": map[string]any{"type": "string"},
		"score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
	"required":             []string{"dream", "score"},
	"additionalProperties": false,
}

func composeDream(ctx context.Context, deps Deps, topic, memories string) (string, float64, error) {
	user := "Topic: " + topic + "\n\nMemories:\n" + memories
	out, err := deps.AI.GenerateJSON(ctx, composeDreamSystem, user, "dream", composeDreamSchema)
	if err != nil {
		return "", 0, err
	}
	dream, ok := out["dream"].(string)
	if !ok {
		return "", 0, errs.LLMParsef("dream: missing dream field")
	}
	score, ok := out["score"].(float64)
	if !ok {
		return "", 0, errs.LLMParsef("dream: missing score field")
	}
	return dream, score, nil
}
