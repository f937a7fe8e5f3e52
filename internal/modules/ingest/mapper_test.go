package ingest

import (
	"strings"
	"testing"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/jobs/payload"
)

func TestMapperRegisterExistingOrdinals(t *testing.T) {
	m := NewMapper()

	t1, err := m.RegisterExisting(types.NodeTypePerson, "node_1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t2, err := m.RegisterExisting(types.NodeTypePerson, "node_2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t3, err := m.RegisterExisting(types.NodeTypeLocation, "node_3")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if t1 != "existing_person_1" || t2 != "existing_person_2" {
		t.Fatalf("per-type ordinals broken: %s, %s", t1, t2)
	}
	if t3 != "existing_location_1" {
		t.Fatalf("location ordinal should restart at 1, got %s", t3)
	}

	// Same node again returns the id it already has.
	again, err := m.RegisterExisting(types.NodeTypePerson, "node_1")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again != t1 {
		t.Fatalf("re-registration minted a new id: %s vs %s", again, t1)
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 bindings, got %d", m.Len())
	}
}

func TestMapperRefusesDuplicates(t *testing.T) {
	m := NewMapper()
	if err := m.Register("temp_person_1", "node_a"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register("temp_person_1", "node_b"); err == nil {
		t.Fatal("duplicate temp id accepted")
	}
	if err := m.Register("temp_person_2", "node_a"); err == nil {
		t.Fatal("duplicate real id accepted")
	}

	real, ok := m.RealID("temp_person_1")
	if !ok || real != "node_a" {
		t.Fatalf("original binding damaged: %s %v", real, ok)
	}
}

func TestMapperResolution(t *testing.T) {
	m := NewMapper()
	if err := m.Register("temp_event_1", "node_e"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := m.RealID("temp_event_99"); ok {
		t.Fatal("resolved an unbound temp id")
	}
	temp, ok := m.TempID("node_e")
	if !ok || temp != "temp_event_1" {
		t.Fatalf("reverse lookup broken: %s %v", temp, ok)
	}
	if !m.Known("temp_event_1") || m.Known("temp_event_2") {
		t.Fatal("Known misreports bindings")
	}

	if id := m.NextTempID("temp_node"); id != "temp_node_1" {
		t.Fatalf("NextTempID start: %s", id)
	}
	if id := m.NextTempID("temp_node"); id != "temp_node_2" {
		t.Fatalf("NextTempID increment: %s", id)
	}
}

func TestExtractionDedupe(t *testing.T) {
	e := extraction{
		Nodes: []llmNode{
			{ID: "temp_person_1", Type: "Person", Label: "Alice"},
			{ID: "temp_person_1", Type: "Person", Label: "Alice again"},
			{ID: "", Type: "Person", Label: "anonymous"},
			{ID: "temp_location_1", Type: "Location", Label: "Paris"},
		},
		Edges: []llmEdge{
			{SourceID: "temp_person_1", TargetID: "temp_location_1", Type: "OCCURRED_AT"},
			{SourceID: "temp_person_1", TargetID: "temp_location_1", Type: "OCCURRED_AT"},
			{SourceID: "temp_person_1", TargetID: "temp_location_1", Type: "RELATED_TO"},
			{SourceID: "", TargetID: "temp_location_1", Type: "RELATED_TO"},
		},
	}
	e.dedupe()

	if len(e.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(e.Nodes))
	}
	if e.Nodes[0].Label != "Alice" {
		t.Fatalf("dedupe must keep first occurrence, got %q", e.Nodes[0].Label)
	}
	if len(e.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(e.Edges))
	}
}

func TestFormatConversationTags(t *testing.T) {
	msgs := []payload.ConversationMessage{
		{ID: "m1", Role: "user", Content: "I moved to Denver"},
		{ID: "m2", Role: "assistant", Name: "Iris", Content: "Noted!"},
		{ID: "m3", Role: "user", Content: "   "},
	}
	got := FormatConversation(msgs)
	if !strings.Contains(got, "<user>I moved to Denver</user>") {
		t.Fatalf("user turn misformatted:\n%s", got)
	}
	if !strings.Contains(got, `<assistant name="Iris">Noted!</assistant>`) {
		t.Fatalf("named assistant turn misformatted:\n%s", got)
	}
	if strings.Count(got, "<user>") != 1 {
		t.Fatalf("blank message should be dropped:\n%s", got)
	}
}
