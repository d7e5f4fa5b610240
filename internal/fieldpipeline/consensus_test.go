package fieldpipeline

import "testing"

func TestBestGroupTieBreaksTowardPrimary(t *testing.T) {
	groups := map[string][]string{
		"acme rocket skates": {"Acme Rocket Skates", "Acme Rocket Skates"},
		"rocket skates inc":  {"Rocket Skates Inc", "Rocket Skates Inc"},
	}
	best, count := bestGroup(groups, "Rocket Skates Inc")
	if count != 2 {
		t.Fatalf("expected tied count of 2, got %v", count)
	}
	if !groupContains(best, "Rocket Skates Inc") {
		t.Fatalf("expected tie-break to prefer the group containing the primary value, got %v", best)
	}
}

func TestBestGroupNoTiePicksLargest(t *testing.T) {
	groups := map[string][]string{
		"a": {"A"},
		"b": {"B", "B", "B"},
	}
	best, count := bestGroup(groups, "A")
	if count != 3 {
		t.Fatalf("expected the larger group to win regardless of primary, got count %v", count)
	}
	if !groupContains(best, "B") {
		t.Fatalf("expected the 3-member group to win, got %v", best)
	}
}
