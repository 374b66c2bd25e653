package conflictscan

import (
	"testing"

	"github.com/astrahq/astra/internal/domain/artifact"
)

func TestFindConflictsPairsDisagreeingValues(t *testing.T) {
	facts := []artifact.Fact{
		{ID: "f1", Claim: "CEO: Alice"},
		{ID: "f2", Claim: "ceo: Bob"},
		{ID: "f3", Claim: "CEO: alice"},
		{ID: "f4", Claim: "Founded: 2019"},
	}

	got := findConflicts(facts)
	if len(got) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(got))
	}
	if got[0].FactAID != "f1" || got[0].FactBID != "f2" {
		t.Errorf("conflict pair = %s/%s, want f1/f2", got[0].FactAID, got[0].FactBID)
	}
	if got[0].Description == "" {
		t.Error("description is empty")
	}
}

func TestFindConflictsIgnoresFreeFormClaims(t *testing.T) {
	facts := []artifact.Fact{
		{ID: "f1", Claim: "the sky is blue"},
		{ID: "f2", Claim: "the sky is green"},
	}
	if got := findConflicts(facts); len(got) != 0 {
		t.Errorf("conflicts = %d, want 0 for claims without a key", len(got))
	}
}

func TestClaimKeyNormalization(t *testing.T) {
	key, value, ok := claimKey("  Release Date: 2026-03-01 ")
	if !ok {
		t.Fatal("claimKey rejected a keyed claim")
	}
	if key != "release_date" {
		t.Errorf("key = %q, want %q", key, "release_date")
	}
	if value != "2026-03-01" {
		t.Errorf("value = %q, want %q", value, "2026-03-01")
	}
}
