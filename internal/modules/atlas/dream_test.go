package atlas

import (
	"context"
	"testing"

	"github.com/engramlabs/engram-backend/internal/data/repos/testutil"
)

func TestDreamSkippedByProbabilityGate(t *testing.T) {
	// Repos stays nil: a run that got past the gate would panic.
	deps := Deps{
		Log:  testutil.Logger(t),
		Rand: func() float64 { return 0.99 },
	}
	if err := ProcessDreamJob(context.Background(), deps, DreamInput{UserID: "user_1"}); err != nil {
		t.Fatalf("gated run: %v", err)
	}
}

func TestDreamProbabilityGateBoundary(t *testing.T) {
	// A roll equal to the probability loses the gate.
	deps := Deps{
		Log:  testutil.Logger(t),
		Rand: func() float64 { return 0.5 },
	}
	in := DreamInput{UserID: "user_1", Probability: 0.5}
	if err := ProcessDreamJob(context.Background(), deps, in); err != nil {
		t.Fatalf("boundary run: %v", err)
	}
}

func TestDreamSelectionGate(t *testing.T) {
	topics := []string{"rust", "family", "travel"}

	none := selectTopics(topics, func() float64 { return 0.9 }, DefaultSelectionProbability)
	if len(none) != 0 {
		t.Fatalf("high rolls must select nothing, got %v", none)
	}

	all := selectTopics(topics, func() float64 { return 0.1 }, DefaultSelectionProbability)
	if len(all) != len(topics) {
		t.Fatalf("low rolls must select everything, got %v", all)
	}

	boundary := selectTopics(topics, func() float64 { return DefaultSelectionProbability }, DefaultSelectionProbability)
	if len(boundary) != 0 {
		t.Fatalf("a roll equal to the gate must lose, got %v", boundary)
	}

	rolls := []float64{0.1, 0.9, 0.39}
	i := 0
	mixed := selectTopics(topics, func() float64 { r := rolls[i]; i++; return r }, DefaultSelectionProbability)
	if len(mixed) != 2 || mixed[0] != "rust" || mixed[1] != "travel" {
		t.Fatalf("per-topic rolls misapplied: %v", mixed)
	}
}
