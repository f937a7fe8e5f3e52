package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

const extractionSystem = `You extract a personal knowledge graph from the user's %s.
Identify entities (people, places, events, objects, emotions, concepts, media)
and the relationships between them.

Rules:
- Reuse entities from KNOWN ENTITIES by their existing_* id whenever the text
  refers to the same thing, even under a different name.
- New entities get a fresh id of the form temp_<type>_<n>.
- Only extract facts about the user's life stated or clearly implied in the
  text. No general knowledge, no speculation.
- Labels are short noun phrases. Descriptions add context worth remembering.
- Edges connect ids you emitted or KNOWN ENTITIES ids; pick the most specific
  relationship type that applies.`

type llmNode struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type llmEdge struct {
	SourceID    string `json:"sourceId"`
	TargetID    string `json:"targetId"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type extraction struct {
	Nodes []llmNode `json:"nodes"`
	Edges []llmEdge `json:"edges"`
}

// dedupe drops repeated node ids and repeated (source, target, type) edge
// triples, keeping first occurrences.
func (e *extraction) dedupe() {
	seenNodes := map[string]bool{}
	nodes := e.Nodes[:0]
	for _, n := range e.Nodes {
		if n.ID == "" || seenNodes[n.ID] {
			continue
		}
		seenNodes[n.ID] = true
		nodes = append(nodes, n)
	}
	e.Nodes = nodes

	seenEdges := map[string]bool{}
	edges := e.Edges[:0]
	for _, ed := range e.Edges {
		key := ed.SourceID + "|" + ed.TargetID + "|" + ed.Type
		if ed.SourceID == "" || ed.TargetID == "" || seenEdges[key] {
			continue
		}
		seenEdges[key] = true
		edges = append(edges, ed)
	}
	e.Edges = edges
}

func extractionSchema() map[string]any {
	nodeTypes := make([]string, 0, len(types.AllNodeTypes()))
	for _, t := range types.AllNodeTypes() {
		nodeTypes = append(nodeTypes, string(t))
	}
	edgeTypes := make([]string, 0, len(types.AllEdgeTypes()))
	for _, t := range types.AllEdgeTypes() {
		edgeTypes = append(edgeTypes, string(t))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nodes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "string"},
						"type":        map[string]any{"type": "string", "enum": nodeTypes},
						"label":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
					},
					"required":             []string{"id", "type", "label", "description"},
					"additionalProperties": false,
				},
			},
			"edges": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"sourceId":    map[string]any{"type": "string"},
						"targetId":    map[string]any{"type": "string"},
						"type":        map[string]any{"type": "string", "enum": edgeTypes},
						"description": map[string]any{"type": "string"},
					},
					"required":             []string{"sourceId", "targetId", "type", "description"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"nodes", "edges"},
		"additionalProperties": false,
	}
}

func runExtraction(ctx context.Context, ai openai.Client, kind SourceKind, knownEntities, content string) (*extraction, error) {
	system := fmt.Sprintf(extractionSystem, string(kind))

	var user strings.Builder
	if knownEntities != "" {
		user.WriteString("KNOWN ENTITIES:\n" + knownEntities + "\n")
	}
	user.WriteString("TEXT:\n" + content)

	out, err := ai.GenerateJSON(ctx, system, user.String(), "graph_extraction", extractionSchema())
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, errs.LLMParsef("extraction: remarshal: %v", err)
	}
	var parsed extraction
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errs.LLMParsef("extraction: %v", err)
	}
	return &parsed, nil
}
