package memory

import (
	"strings"
	"testing"

	types "github.com/engramlabs/engram-backend/internal/domain"
)

func TestFormatDayEmpty(t *testing.T) {
	got := formatDay(&DayResult{DayLabel: "2026-03-01"})
	if got != "No memories recorded on 2026-03-01." {
		t.Fatalf("unexpected empty-day text: %q", got)
	}
}

func TestFormatDayListsNeighbors(t *testing.T) {
	got := formatDay(&DayResult{
		DayLabel: "2026-03-01",
		NodeID:   "node_day",
		Neighbors: []DayNeighbor{
			{NodeType: types.NodeTypePerson, Label: "Alice", Description: "a friend"},
			{NodeType: types.NodeTypeEvent, Label: "Dinner"},
		},
	})

	if !strings.HasPrefix(got, "Memories from 2026-03-01:\n") {
		t.Fatalf("missing header: %q", got)
	}
	if !strings.Contains(got, "- [Person] Alice: a friend\n") {
		t.Fatalf("described neighbor misrendered: %q", got)
	}
	if !strings.Contains(got, "- [Event] Dinner\n") {
		t.Fatalf("bare neighbor misrendered: %q", got)
	}
}
