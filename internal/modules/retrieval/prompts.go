package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

const researchQueriesSystem = `You generate tangential memory-search queries for a personal memory assistant.
Given the tail of a conversation, propose short search queries that would surface
memories the user might find relevant next: related people, places, past events,
recurring topics. Queries must be about the user's life, not general knowledge.
Return at most 5 queries. Return an empty list if nothing tangential is worth
looking up.`

var researchQueriesSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"queries": map[string]any{
			"type":     "array",
			"maxItems": deepResearchMaxQueries,
			"items":    map[string]any{"type": "string"},
		},
	},
	"required":             []string{"queries"},
	"additionalProperties": false,
}

func generateResearchQueries(ctx context.Context, ai openai.Client, window string) ([]string, error) {
	out, err := ai.GenerateJSON(ctx, researchQueriesSystem,
		"Conversation tail:\n"+window, "research_queries", researchQueriesSchema)
	if err != nil {
		return nil, err
	}
	raw, ok := out["queries"].([]any)
	if !ok {
		return nil, errs.LLMParsef("research queries: missing queries array")
	}
	queries := make([]string, 0, len(raw))
	for _, q := range raw {
		s, _ := q.(string)
		s = strings.TrimSpace(s)
		if s != "" {
			queries = append(queries, s)
		}
	}
	if len(queries) > deepResearchMaxQueries {
		queries = queries[:deepResearchMaxQueries]
	}
	return queries, nil
}

const researchRefineSystem = `You curate speculative memory-search results for a personal memory assistant.
You see the conversation tail, the query that was just run, and the current
result pool with ephemeral ids. Drop results that are irrelevant to where the
conversation is heading. Decide whether another search round would help and, if
so, propose the next query. Be selective: a small relevant pool beats a large
noisy one.`

var researchRefineSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"dropIds": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"continue":  map[string]any{"type": "boolean"},
		"nextQuery": map[string]any{"type": "string"},
	},
	"required":             []string{"dropIds", "continue"},
	"additionalProperties": false,
}

type researchDecision struct {
	DropIDs   []string
	Continue  bool
	NextQuery string
}

func refineResearchPool(ctx context.Context, ai openai.Client, window, query string, pool []Item) (researchDecision, error) {
	var b strings.Builder
	b.WriteString("Conversation tail:\n" + window + "\n")
	b.WriteString("Last query: " + query + "\n\nCurrent results:\n")
	for i, it := range pool {
		fmt.Fprintf(&b, "%s [%s] %s\n", researchItemID(i), it.Kind, RerankDoc(it))
	}

	out, err := ai.GenerateJSON(ctx, researchRefineSystem, b.String(), "research_refinement", researchRefineSchema)
	if err != nil {
		return researchDecision{}, err
	}

	var dec researchDecision
	if raw, ok := out["dropIds"].([]any); ok {
		for _, v := range raw {
			if s, _ := v.(string); s != "" {
				dec.DropIDs = append(dec.DropIDs, s)
			}
		}
	}
	dec.Continue, _ = out["continue"].(bool)
	dec.NextQuery, _ = out["nextQuery"].(string)
	return dec, nil
}
