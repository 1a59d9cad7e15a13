package domain

import "time"

// Result records are returned, never panicked, for expected business-rule
// failures. A failed result carries a human-readable Error naming the
// violated rule.

// MergeResult is the outcome of merging one branch into another.
type MergeResult struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Source    string        `json:"source"`
	Target    string        `json:"target"`
	Strategy  MergeStrategy `json:"strategy"`
	CommitSHA string        `json:"commit_sha,omitempty"`
	MergedAt  time.Time     `json:"merged_at,omitzero"`
}

// PromotionResult is the outcome of promoting a version between adjacent
// tiers.
type PromotionResult struct {
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Version    string    `json:"version,omitempty"`
	PromotedAt time.Time `json:"promoted_at,omitzero"`
}

// RollbackResult is the outcome of reverting an environment to a version
// from its history.
type RollbackResult struct {
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Environment  string    `json:"environment"`
	FromVersion  string    `json:"from_version,omitempty"`
	ToVersion    string    `json:"to_version,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	RolledBackAt time.Time `json:"rolled_back_at,omitzero"`
}

// MergeCheck is the dry-run diagnostic returned by merge validation.
type MergeCheck struct {
	Valid           bool     `json:"valid"`
	TargetProtected bool     `json:"target_protected"`
	Requirements    []string `json:"requirements"`
	Errors          []string `json:"errors,omitempty"`
}
