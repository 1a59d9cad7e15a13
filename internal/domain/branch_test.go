package domain

import "testing"

func TestInferBranchType(t *testing.T) {
	cases := []struct {
		name string
		want BranchType
	}{
		{"feature/login-page", BranchFeature},
		{"feat/quick-win", BranchFeature},
		{"release/2.4.0", BranchRelease},
		{"hotfix/crash-on-boot", BranchHotfix},
		{"fix/typo", BranchHotfix},
		{"stable-demo", BranchStableDemo},
		{"demo-stable-eu", BranchStableDemo},
		{"working-beta", BranchWorkingBeta},
		{"beta-candidate", BranchWorkingBeta},
		{"develop", BranchFeature},
		{"main", BranchFeature},
		{"FEATURE/UPPERCASE", BranchFeature},
	}
	for _, tc := range cases {
		if got := InferBranchType(tc.name); got != tc.want {
			t.Fatalf("InferBranchType(%q) = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestInferBranchTypePrefixWinsOverSubstring(t *testing.T) {
	// "feature/beta-toggles" contains "beta" but the prefix rule decides.
	if got := InferBranchType("feature/beta-toggles"); got != BranchFeature {
		t.Fatalf("prefix rule must win, got %s", got)
	}
}

func TestLinearHistoryRequired(t *testing.T) {
	rules := ProtectionRules{RequireLinearHistory: true}
	b := Branch{Name: "main", Protected: true, Rules: &rules}
	if !b.LinearHistoryRequired() {
		t.Fatal("protected branch with the rule set must require linear history")
	}
	b.Protected = false
	if b.LinearHistoryRequired() {
		t.Fatal("unprotected branch never requires linear history")
	}
	b.Protected = true
	b.Rules = nil
	if b.LinearHistoryRequired() {
		t.Fatal("protected branch without rules never requires linear history")
	}
}
