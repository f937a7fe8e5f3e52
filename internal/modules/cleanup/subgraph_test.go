package cleanup

import (
	"testing"

	types "github.com/engramlabs/engram-backend/internal/domain"
)

func testSubgraph() *Subgraph {
	return &Subgraph{
		Nodes: []SubgraphNode{
			{ID: "node_a", Type: types.NodeTypePerson, Label: "Alice"},
			{ID: "node_b", Type: types.NodeTypePerson, Label: "Bob"},
			{ID: "node_c", Type: types.NodeTypeLocation, Label: "Paris"},
			{ID: "node_d", Type: types.NodeTypeEvent, Label: "Dinner"},
		},
		Edges: []SubgraphEdge{
			{ID: "edge_1", SourceID: "node_a", TargetID: "node_b", Type: types.EdgeTypeRelatedTo},
			{ID: "edge_2", SourceID: "node_a", TargetID: "node_c", Type: types.EdgeTypeOccurredAt},
			{ID: "edge_3", SourceID: "node_c", TargetID: "node_d", Type: types.EdgeTypeOccurredAt},
			{ID: "edge_4", SourceID: "node_b", TargetID: "node_d", Type: types.EdgeTypeParticipatedIn},
		},
	}
}

func TestTrimDropsOrphanedEdges(t *testing.T) {
	sg := testSubgraph()
	sg.trim(2, 10)

	if len(sg.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(sg.Nodes))
	}
	// Only node_a and node_b survive, so only edge_1 keeps both endpoints.
	if len(sg.Edges) != 1 || sg.Edges[0].ID != "edge_1" {
		t.Fatalf("expected only edge_1 to survive, got %#v", sg.Edges)
	}
}

func TestTrimBoundsEdges(t *testing.T) {
	sg := testSubgraph()
	sg.trim(10, 2)

	if len(sg.Nodes) != 4 {
		t.Fatalf("node set should be untouched, got %d", len(sg.Nodes))
	}
	if len(sg.Edges) != 2 {
		t.Fatalf("expected edge cap of 2, got %d", len(sg.Edges))
	}
}

func TestToTempSubgraph(t *testing.T) {
	sg := testSubgraph()
	ts, err := ToTempSubgraph(sg)
	if err != nil {
		t.Fatalf("project: %v", err)
	}

	if len(ts.Nodes) != 4 || len(ts.Edges) != 4 {
		t.Fatalf("projection lost entries: %d nodes, %d edges", len(ts.Nodes), len(ts.Edges))
	}
	if ts.Nodes[0].TempID != "temp_node_1" || ts.Nodes[3].TempID != "temp_node_4" {
		t.Fatalf("sequential temp ids expected, got %s..%s", ts.Nodes[0].TempID, ts.Nodes[3].TempID)
	}

	real, ok := ts.Mapper.RealID("temp_node_3")
	if !ok || real != "node_c" {
		t.Fatalf("mapper round trip broken: %s %v", real, ok)
	}
	if ts.Edges[0].SourceTemp != "temp_node_1" || ts.Edges[0].TargetTemp != "temp_node_2" {
		t.Fatalf("edge endpoints not translated: %#v", ts.Edges[0])
	}
}

func TestPreprocessRemapsThroughMerges(t *testing.T) {
	p := &Proposal{
		Merges: []Merge{
			{Keep: "temp_node_1", Remove: "temp_node_2"},
			{Keep: "temp_node_2", Remove: "temp_node_3"},
		},
		Deletes: []Delete{
			{TempID: "temp_node_2"}, // resolves to a merge keep, dropped
			{TempID: "temp_node_4"},
		},
		Additions: []Addition{
			{Source: "temp_node_3", Target: "temp_node_1", Type: "RELATED_TO"}, // self-edge after remap
			{Source: "temp_node_3", Target: "temp_node_4", Type: "RELATED_TO"},
		},
	}

	out := preprocess(p)

	// The chain temp_node_3 -> temp_node_2 -> temp_node_1 settles on 1.
	if len(out.Merges) != 2 || out.Merges[1].Keep != "temp_node_1" {
		t.Fatalf("merge chain not resolved: %#v", out.Merges)
	}
	if len(out.Deletes) != 1 || out.Deletes[0].TempID != "temp_node_4" {
		t.Fatalf("delete rewrite wrong: %#v", out.Deletes)
	}
	if len(out.Additions) != 1 {
		t.Fatalf("self-edge addition should be dropped: %#v", out.Additions)
	}
	if out.Additions[0].Source != "temp_node_1" || out.Additions[0].Target != "temp_node_4" {
		t.Fatalf("addition not remapped: %#v", out.Additions[0])
	}
}

func TestFollowupSeedsSkipProcessed(t *testing.T) {
	result := &ApplyResult{
		MergeKeepIDs: []string{"node_keep", "node_done"},
		InsertedEdges: []*types.Edge{
			{SourceNodeID: "node_x", TargetNodeID: "node_keep"},
		},
	}
	processed := map[string]bool{"node_done": true}

	seeds := followupSeeds(result, processed)
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seeds, got %v", seeds)
	}
	if seeds[0] != "node_keep" || seeds[1] != "node_x" {
		t.Fatalf("wrong seeds: %v", seeds)
	}
}
