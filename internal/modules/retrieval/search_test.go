package retrieval

import (
	"strings"
	"testing"

	"github.com/engramlabs/engram-backend/internal/data/repos/search"
	types "github.com/engramlabs/engram-backend/internal/domain"
)

func nodeItem(id, label, desc string, score float64) Item {
	return Item{
		Kind:  KindNode,
		Node:  &search.SimilarNode{NodeID: id, NodeType: types.NodeTypePerson, Label: label, Description: desc, Similarity: score},
		Score: score,
	}
}

func edgeItem(id, srcLabel, tgtLabel, desc string, score float64) Item {
	return Item{
		Kind: KindEdge,
		Edge: &search.SimilarEdge{
			EdgeID: id, SourceLabel: srcLabel, TargetLabel: tgtLabel,
			EdgeType: types.EdgeTypeRelatedTo, Description: desc, Similarity: score,
		},
		Score: score,
	}
}

func TestMergeItemsDeduplicates(t *testing.T) {
	live := []Item{
		nodeItem("node_a", "Alice", "", 0.9),
		edgeItem("edge_x", "Alice", "Paris", "", 0.8),
	}
	cached := []Item{
		nodeItem("node_a", "Alice (stale)", "", 0.5),
		nodeItem("node_b", "Bob", "", 0.6),
	}

	merged := mergeItems(live, cached)
	if len(merged) != 3 {
		t.Fatalf("expected 3 items after merge, got %d", len(merged))
	}
	// The live row must shadow the cached duplicate.
	if merged[0].Node.Label != "Alice" {
		t.Fatalf("cached item shadowed the live one: %q", merged[0].Node.Label)
	}
	if merged[2].Node.NodeID != "node_b" {
		t.Fatalf("cached-only item missing: %#v", merged[2])
	}
}

func TestRerankDocFormats(t *testing.T) {
	node := nodeItem("node_a", "Alice", "met in Paris", 0.9)
	if got := RerankDoc(node); got != "Alice: met in Paris" {
		t.Fatalf("node doc %q", got)
	}

	edge := edgeItem("edge_x", "Alice", "Paris", "visited last spring", 0.8)
	want := "Alice -> Paris: RELATED_TO: visited last spring"
	if got := RerankDoc(edge); got != want {
		t.Fatalf("edge doc %q, want %q", got, want)
	}

	bare := edgeItem("edge_y", "Alice", "Paris", "", 0.8)
	if got := RerankDoc(bare); got != "Alice -> Paris: RELATED_TO" {
		t.Fatalf("undescribed edge doc %q", got)
	}

	conn := Item{Kind: KindConnection, Connection: &search.OneHopNode{Label: "Jazz", Description: "favorite genre"}}
	if got := RerankDoc(conn); got != "Jazz: favorite genre" {
		t.Fatalf("connection doc %q", got)
	}
}

func TestFallbackOrderSortsAndCuts(t *testing.T) {
	items := []Item{
		nodeItem("node_a", "a", "", 0.2),
		nodeItem("node_b", "b", "", 0.9),
		nodeItem("node_c", "c", "", 0.5),
	}
	out := fallbackOrder(items, 2)
	if len(out) != 2 {
		t.Fatalf("expected cut to 2, got %d", len(out))
	}
	if out[0].Node.NodeID != "node_b" || out[1].Node.NodeID != "node_c" {
		t.Fatalf("wrong order: %s, %s", out[0].Node.NodeID, out[1].Node.NodeID)
	}
	// Input order untouched.
	if items[0].Node.NodeID != "node_a" {
		t.Fatal("fallbackOrder mutated its input")
	}
}

func TestFormatDocumentOrdersAndTags(t *testing.T) {
	items := []Item{
		nodeItem("node_b", "Bob", "brother", 0.9),
		edgeItem("edge_x", "Bob", "Denver", "moved in 2023", 0.7),
	}
	doc := FormatDocument(items)
	bobAt := strings.Index(doc, "Bob: brother")
	edgeAt := strings.Index(doc, "Bob RELATED_TO Denver")
	if bobAt < 0 || edgeAt < 0 {
		t.Fatalf("missing entries in document:\n%s", doc)
	}
	if bobAt > edgeAt {
		t.Fatalf("document lost rank order:\n%s", doc)
	}
	if !strings.Contains(doc, "1. [Person]") || !strings.Contains(doc, "2. [relation]") {
		t.Fatalf("missing ordinals or kind tags:\n%s", doc)
	}
}

func TestDropItemsByEphemeralID(t *testing.T) {
	pool := []Item{
		nodeItem("node_a", "a", "", 0.1),
		nodeItem("node_b", "b", "", 0.2),
		nodeItem("node_c", "c", "", 0.3),
	}
	out := dropItems(pool, []string{"r1", "r3"})
	if len(out) != 1 || out[0].Node.NodeID != "node_b" {
		t.Fatalf("expected only node_b to survive, got %#v", out)
	}
}

func TestFormatMessageWindow(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
		{Role: "assistant", Content: "fourth"},
	}
	got := formatMessageWindow(msgs, 2)
	if strings.Contains(got, "first") || strings.Contains(got, "second") {
		t.Fatalf("window kept messages outside lastN:\n%s", got)
	}
	if !strings.Contains(got, "<user>third</user>") || !strings.Contains(got, "<assistant>fourth</assistant>") {
		t.Fatalf("window misformatted:\n%s", got)
	}
}
