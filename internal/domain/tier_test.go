package domain

import "testing"

func TestTierPromotionAdjacency(t *testing.T) {
	tiers := []EnvironmentTier{TierDevelopment, TierTest, TierPreProd, TierProduction}
	for _, from := range tiers {
		for _, to := range tiers {
			want := to == from+1 && from != TierProduction
			if got := from.CanPromoteTo(to); got != want {
				t.Fatalf("CanPromoteTo(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTierNextStopsAtProduction(t *testing.T) {
	if next, ok := TierPreProd.Next(); !ok || next != TierProduction {
		t.Fatalf("expected pre_prod to promote to production, got %s ok=%v", next, ok)
	}
	if _, ok := TierProduction.Next(); ok {
		t.Fatal("production must have no successor")
	}
}

func TestParseTierSpellings(t *testing.T) {
	cases := map[string]EnvironmentTier{
		"development": TierDevelopment,
		"dev":         TierDevelopment,
		"DEV":         TierDevelopment,
		"test":        TierTest,
		"pre_prod":    TierPreProd,
		"pre-prod":    TierPreProd,
		"preprod":     TierPreProd,
		" production": TierProduction,
		"prod":        TierProduction,
	}
	for input, want := range cases {
		got, err := ParseTier(input)
		if err != nil {
			t.Fatalf("ParseTier(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseTier(%q) = %s, want %s", input, got, want)
		}
	}
	if _, err := ParseTier("staging"); err == nil {
		t.Fatal("expected error for unknown tier name")
	}
}

func TestTierValid(t *testing.T) {
	if !TierDevelopment.Valid() || !TierProduction.Valid() {
		t.Fatal("canonical tiers must be valid")
	}
	if EnvironmentTier(42).Valid() {
		t.Fatal("out-of-range tier must be invalid")
	}
}
