package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

// Proposal is the LLM's cleanup plan over a temp subgraph. All ids are temp
// ids; Apply translates them back.
type Proposal struct {
	Merges    []Merge    `json:"merges"`
	Deletes   []Delete   `json:"deletes"`
	Additions []Addition `json:"additions"`
	NewNodes  []NewNode  `json:"newNodes"`
}

type Merge struct {
	Keep   string `json:"keep"`
	Remove string `json:"remove"`
}

type Delete struct {
	TempID string `json:"tempId"`
}

type Addition struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type NewNode struct {
	TempID      string `json:"tempId"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

const proposeSystem = `You tidy a personal knowledge graph. You see a subgraph (nodes and edges with
temporary ids) and the user's Atlas document for context.

Propose:
- merges: pairs of nodes that are the same real-world thing under different
  labels. "keep" is the better-labeled node, "remove" the duplicate.
- deletes: nodes that are noise, contradicted by the Atlas, or meaningless
  on their own.
- additions: edges that obviously should exist between subgraph nodes.
- newNodes: occasionally, a node that groups several related nodes; give it a
  fresh temp id not used in the subgraph.

Be conservative. Merging or deleting a real memory is worse than leaving a
duplicate. Do not touch Atlas, Temporal, Conversation, or Document nodes.`

func proposeSchema() map[string]any {
	edgeTypes := make([]string, 0, len(types.AllEdgeTypes()))
	for _, t := range types.AllEdgeTypes() {
		edgeTypes = append(edgeTypes, string(t))
	}
	nodeTypes := make([]string, 0, len(types.AllNodeTypes()))
	for _, t := range types.AllNodeTypes() {
		nodeTypes = append(nodeTypes, string(t))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"merges": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"keep":   map[string]any{"type": "string"},
						"remove": map[string]any{"type": "string"},
					},
					"required":             []string{"keep", "remove"},
					"additionalProperties": false,
				},
			},
			"deletes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tempId": map[string]any{"type": "string"},
					},
					"required":             []string{"tempId"},
					"additionalProperties": false,
				},
			},
			"additions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"source":      map[string]any{"type": "string"},
						"target":      map[string]any{"type": "string"},
						"type":        map[string]any{"type": "string", "enum": edgeTypes},
						"description": map[string]any{"type": "string"},
					},
					"required":             []string{"source", "target", "type", "description"},
					"additionalProperties": false,
				},
			},
			"newNodes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tempId":      map[string]any{"type": "string"},
						"label":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"type":        map[string]any{"type": "string", "enum": nodeTypes},
					},
					"required":             []string{"tempId", "label", "description", "type"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"merges", "deletes", "additions", "newNodes"},
		"additionalProperties": false,
	}
}

// ProposeCleanup asks the model what to merge, delete, and connect in the
// temp subgraph. The user's Atlas rides along so contradicted nodes can go.
func ProposeCleanup(ctx context.Context, ai openai.Client, ts *TempSubgraph, atlasText, modelID string) (*Proposal, error) {
	if modelID != "" {
		ai = openai.WithModel(ai, modelID)
	}

	var b strings.Builder
	b.WriteString("User Atlas:\n")
	if strings.TrimSpace(atlasText) == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(atlasText + "\n")
	}
	b.WriteString("\nNodes:\n")
	for _, n := range ts.Nodes {
		fmt.Fprintf(&b, "%s [%s] %s", n.TempID, n.Type, n.Label)
		if n.Description != "" {
			b.WriteString(": " + n.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nEdges:\n")
	for _, e := range ts.Edges {
		fmt.Fprintf(&b, "%s -[%s]-> %s", e.SourceTemp, e.Type, e.TargetTemp)
		if e.Description != "" {
			b.WriteString(": " + e.Description)
		}
		b.WriteString("\n")
	}

	out, err := ai.GenerateJSON(ctx, proposeSystem, b.String(), "cleanup_proposal", proposeSchema())
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, errs.LLMParsef("cleanup proposal: remarshal: %v", err)
	}
	var proposal Proposal
	if err := json.Unmarshal(raw, &proposal); err != nil {
		return nil, errs.LLMParsef("cleanup proposal: %v", err)
	}
	return &proposal, nil
}
