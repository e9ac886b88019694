package guards

import (
	"strings"
	"testing"

	"github.com/memoryd/memoryd/internal/types"
)

func TestValidateMemoryClampsImportance(t *testing.T) {
	check := ValidateMemory("hello", types.MemoryFact, 1.5, true)
	if check.Importance != 1.0 {
		t.Fatalf("expected importance clamped to 1.0, got %v", check.Importance)
	}
	check = ValidateMemory("hello", types.MemoryFact, -0.5, true)
	if check.Importance != 0.0 {
		t.Fatalf("expected importance clamped to 0.0, got %v", check.Importance)
	}
}

func TestValidateMemoryTruncatesAndWarnsOnLength(t *testing.T) {
	long := strings.Repeat("a", 1200)
	check := ValidateMemory(long, types.MemoryFact, 0.5, true)
	if len(check.Content) != 1000 {
		t.Fatalf("expected content truncated to 1000 chars, got %d", len(check.Content))
	}
	if len(check.Warnings) == 0 {
		t.Fatalf("expected warnings for overlong content")
	}
}

func TestValidateMemoryWarnsOnCommitmentWithoutDeadline(t *testing.T) {
	check := ValidateMemory("I'll follow up", types.MemoryCommitment, 0.5, false)
	found := false
	for _, w := range check.Warnings {
		if strings.Contains(w, "deadline") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a deadline warning, got %v", check.Warnings)
	}
}

func TestValidateEntityRejectsEmptyName(t *testing.T) {
	check := ValidateEntity("   ", nil, 0)
	if check.Err == nil {
		t.Fatalf("expected error for empty entity name")
	}
}

func TestValidateEntityFlagsNearDuplicate(t *testing.T) {
	check := ValidateEntity("Sara Chen", []string{"sarah chen"}, 2)
	if check.NearDuplicate == "" {
		t.Fatalf("expected a near-duplicate warning")
	}
	if check.NearDuplicate != "sarah chen" {
		t.Fatalf("expected near-duplicate to be 'sarah chen', got %q", check.NearDuplicate)
	}
}

func TestValidateEntityNoDuplicateWhenDistant(t *testing.T) {
	check := ValidateEntity("Totally Different", []string{"sarah chen"}, 2)
	if check.NearDuplicate != "" {
		t.Fatalf("expected no near-duplicate, got %q", check.NearDuplicate)
	}
}

func TestValidateRelationshipAppliesOriginCeiling(t *testing.T) {
	cases := []struct {
		origin   types.OriginType
		input    float64
		expected float64
	}{
		{types.OriginUserStated, 1.5, 1.0},
		{types.OriginCorrected, 1.5, 1.0},
		{types.OriginExtracted, 1.5, 0.8},
		{types.OriginInferred, 1.5, 0.5},
		{types.OriginUnknown, 1.5, 0.5},
	}
	for _, c := range cases {
		got := ValidateRelationship(c.input, c.origin)
		if got.Strength != c.expected {
			t.Fatalf("origin %s: expected ceiling %v, got %v", c.origin, c.expected, got.Strength)
		}
	}
}

func TestReinforcementStepByOrigin(t *testing.T) {
	if ReinforcementStep(types.OriginUserStated) != 0.20 {
		t.Fatalf("expected user_stated reinforcement 0.20")
	}
	if ReinforcementStep(types.OriginExtracted) != 0.10 {
		t.Fatalf("expected extracted reinforcement 0.10")
	}
	if ReinforcementStep(types.OriginInferred) != 0.05 {
		t.Fatalf("expected inferred reinforcement 0.05")
	}
}
