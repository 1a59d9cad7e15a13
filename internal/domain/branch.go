package domain

import (
	"strings"
	"time"
)

// BranchType is advisory metadata inferred from a branch name. It never
// changes protection behavior by itself.
type BranchType string

const (
	BranchFeature     BranchType = "feature"
	BranchRelease     BranchType = "release"
	BranchHotfix      BranchType = "hotfix"
	BranchStableDemo  BranchType = "stable_demo"
	BranchWorkingBeta BranchType = "working_beta"
)

// InferBranchType maps a branch name to its type using an ordered list of
// prefix and substring rules. Unmatched names default to feature.
func InferBranchType(name string) BranchType {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "feature/"), strings.HasPrefix(lower, "feat/"):
		return BranchFeature
	case strings.HasPrefix(lower, "release/"):
		return BranchRelease
	case strings.HasPrefix(lower, "hotfix/"), strings.HasPrefix(lower, "fix/"):
		return BranchHotfix
	case strings.Contains(lower, "stable") && strings.Contains(lower, "demo"):
		return BranchStableDemo
	case strings.Contains(lower, "working"), strings.Contains(lower, "beta"):
		return BranchWorkingBeta
	default:
		return BranchFeature
	}
}

// MergeStrategy selects how a merge is performed.
type MergeStrategy string

const (
	StrategyMerge  MergeStrategy = "merge"
	StrategySquash MergeStrategy = "squash"
	StrategyRebase MergeStrategy = "rebase"
)

// ProtectionRules constrains mutation of a protected branch.
type ProtectionRules struct {
	RequireReviews       int  `json:"require_reviews" yaml:"require_reviews"`
	RequireCI            bool `json:"require_ci" yaml:"require_ci"`
	RequireSigned        bool `json:"require_signed" yaml:"require_signed"`
	PreventForcePush     bool `json:"prevent_force_push" yaml:"prevent_force_push"`
	RequireLinearHistory bool `json:"require_linear_history" yaml:"require_linear_history"`
}

// DefaultProtectionRules returns the baseline rule set applied when a
// branch is protected without explicit rules.
func DefaultProtectionRules() ProtectionRules {
	return ProtectionRules{
		RequireReviews:   1,
		RequireCI:        true,
		PreventForcePush: true,
	}
}

// Branch is a node in the branch graph, keyed by name. Only main has no
// source branch.
type Branch struct {
	Name         string           `json:"name"`
	Type         BranchType       `json:"type"`
	SourceBranch string           `json:"source_branch,omitempty"`
	Protected    bool             `json:"protected"`
	Rules        *ProtectionRules `json:"protection_rules,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// LinearHistoryRequired reports whether merges into the branch must
// produce linear history.
func (b *Branch) LinearHistoryRequired() bool {
	return b.Protected && b.Rules != nil && b.Rules.RequireLinearHistory
}
