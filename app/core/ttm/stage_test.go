package ttm

import "testing"

func TestParseAcceptsAllStages(t *testing.T) {
	for _, stage := range All() {
		parsed, err := Parse(stage.String())
		if err != nil {
			t.Fatalf("parse %s failed: %v", stage, err)
		}
		if parsed != stage {
			t.Fatalf("expected %s, got %s", stage, parsed)
		}
	}
}

func TestParseIsCaseInsensitive(t *testing.T) {
	parsed, err := Parse("  maintenance ")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != Maintenance {
		t.Fatalf("expected Maintenance, got %s", parsed)
	}
}

func TestParseRejectsUnknownStage(t *testing.T) {
	if _, err := Parse("Bogus"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty stage")
	}
}

func TestStagesAreOrdered(t *testing.T) {
	stages := All()
	for i := 1; i < len(stages); i++ {
		if stages[i-1] >= stages[i] {
			t.Fatalf("expected %s < %s", stages[i-1], stages[i])
		}
	}
	if Precontemplation >= Maintenance {
		t.Fatal("expected Precontemplation to order before Maintenance")
	}
}

func TestParseOrDefaultFallsBack(t *testing.T) {
	if got := ParseOrDefault(""); got != Precontemplation {
		t.Fatalf("expected default stage, got %s", got)
	}
	if got := ParseOrDefault("Action"); got != Action {
		t.Fatalf("expected Action, got %s", got)
	}
}

func TestEveryStageHasGuidance(t *testing.T) {
	for _, stage := range All() {
		g := stage.Guidance()
		if g.Description == "" || g.TaskStrategy == "" || g.ReminderStrategy == "" || g.CoachingStyle == "" {
			t.Fatalf("incomplete guidance for %s", stage)
		}
	}
}
