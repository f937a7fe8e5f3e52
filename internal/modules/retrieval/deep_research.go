package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/engramlabs/engram-backend/internal/data/repos"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/jina"
	"github.com/engramlabs/engram-backend/internal/platform/logger"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

const (
	deepResearchThrottleTTL = 60 * time.Second
	deepResearchCacheTTL    = 24 * time.Hour

	deepResearchMaxQueries = 5
	deepResearchMaxLoops   = 4
	deepResearchLimit      = 10
)

func researchCacheKey(userID, conversationID string) string {
	return "deep-research:" + userID + ":" + conversationID
}

func researchThrottleKey(userID, conversationID string) string {
	return "deep-research:throttle:" + userID + ":" + conversationID
}

// AcquireResearchThrottle returns true when this caller won the per-minute
// slot for (user, conversation). Losing callers skip enqueueing the job.
func AcquireResearchThrottle(ctx context.Context, rdb *goredis.Client, userID, conversationID string) (bool, error) {
	return rdb.SetNX(ctx, researchThrottleKey(userID, conversationID), "1", deepResearchThrottleTTL).Result()
}

func loadCachedResearch(ctx context.Context, rdb *goredis.Client, userID, conversationID string) ([]Item, error) {
	raw, err := rdb.Get(ctx, researchCacheKey(userID, conversationID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		// A stale or mis-shaped entry is as good as no entry.
		return nil, nil
	}
	return items, nil
}

func storeResearch(ctx context.Context, rdb *goredis.Client, userID, conversationID string, items []Item) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, researchCacheKey(userID, conversationID), raw, deepResearchCacheTTL).Err()
}

// Message is one conversational turn handed to the researcher.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type DeepResearchDeps struct {
	Repos    *repos.All
	Embedder jina.Client
	AI       openai.Client
	Redis    *goredis.Client
	Log      *logger.Logger
}

type DeepResearchInput struct {
	UserID         string
	ConversationID string
	Messages       []Message

	// LastNMessages bounds the window seeding query generation (default 3).
	LastNMessages int
}

// RunDeepResearch speculatively explores the memory graph around the tail of
// a conversation and caches whatever survives the LLM's relevance filter.
// Results feed later SearchMemory calls that carry the same conversation id.
func RunDeepResearch(ctx context.Context, deps DeepResearchDeps, in DeepResearchInput) error {
	if in.UserID == "" || in.ConversationID == "" {
		return errs.Validationf("deep research requires user and conversation ids")
	}
	lastN := in.LastNMessages
	if lastN <= 0 {
		lastN = 3
	}
	window := formatMessageWindow(in.Messages, lastN)
	if window == "" {
		return nil
	}

	queries, err := generateResearchQueries(ctx, deps.AI, window)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		return nil
	}

	simDeps := SimilarDeps{Repos: deps.Repos, Embedder: deps.Embedder, Log: deps.Log}
	pool := []Item{}

	for loop := 0; loop < deepResearchMaxLoops && len(queries) > 0; loop++ {
		query := queries[0]
		queries = queries[1:]

		found, err := researchSearch(ctx, simDeps, in.UserID, query)
		if err != nil {
			deps.Log.Warn("deep-research search failed", "user_id", in.UserID, "query", query, "error", err)
			continue
		}
		pool = mergeItems(pool, found)
		if len(pool) == 0 {
			continue
		}

		decision, err := refineResearchPool(ctx, deps.AI, window, query, pool)
		if err != nil {
			deps.Log.Warn("deep-research refinement failed", "user_id", in.UserID, "error", err)
			break
		}
		pool = dropItems(pool, decision.DropIDs)
		if decision.Continue && strings.TrimSpace(decision.NextQuery) != "" {
			queries = append(queries, strings.TrimSpace(decision.NextQuery))
		}
		if !decision.Continue {
			break
		}
	}

	if len(pool) == 0 {
		return nil
	}
	if err := storeResearch(ctx, deps.Redis, in.UserID, in.ConversationID, pool); err != nil {
		return errs.Mark(errs.KindTransient, err)
	}
	deps.Log.Info("deep-research cached",
		"user_id", in.UserID, "conversation_id", in.ConversationID, "items", len(pool))
	return nil
}

// researchSearch is the low-threshold hybrid lookup for one generated query.
func researchSearch(ctx context.Context, deps SimilarDeps, userID, query string) ([]Item, error) {
	nodes, err := FindSimilarNodes(ctx, deps, SimilarInput{
		UserID: userID, Query: query, Limit: deepResearchLimit, MinSim: MinSimDeepResearch,
	})
	if err != nil {
		return nil, err
	}
	edges, err := FindSimilarEdges(ctx, deps, SimilarInput{
		UserID: userID, Query: query, Limit: deepResearchLimit, MinSim: MinSimDeepResearch,
	})
	if err != nil {
		return nil, err
	}
	seeds := make([]string, 0, len(nodes))
	for _, n := range nodes {
		seeds = append(seeds, n.NodeID)
	}
	hops, err := FindOneHopNodes(ctx, deps, userID, seeds)
	if err != nil {
		return nil, err
	}
	return assembleItems(nodes, edges, hops), nil
}

func dropItems(pool []Item, dropIDs []string) []Item {
	if len(dropIDs) == 0 {
		return pool
	}
	drop := make(map[string]bool, len(dropIDs))
	for _, id := range dropIDs {
		drop[id] = true
	}
	kept := pool[:0]
	for i, it := range pool {
		if !drop[researchItemID(i)] {
			kept = append(kept, it)
		}
	}
	return kept
}

// researchItemID is the ephemeral id the refinement prompt sees for pool
// position i. Positions are stable within a single refinement round.
func researchItemID(i int) string {
	return fmt.Sprintf("r%d", i+1)
}

func formatMessageWindow(messages []Message, lastN int) string {
	if len(messages) > lastN {
		messages = messages[len(messages)-lastN:]
	}
	var b strings.Builder
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "<%s>%s</%s>\n", role, content, role)
	}
	return b.String()
}
