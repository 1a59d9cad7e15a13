package domain

import (
	"fmt"
	"time"
)

// EnvironmentStatus describes the operational health of an environment.
// Transitions are driven entirely by explicit updates from an external
// health monitor; the core never infers health on its own.
type EnvironmentStatus string

const (
	StatusHealthy   EnvironmentStatus = "healthy"
	StatusDegraded  EnvironmentStatus = "degraded"
	StatusUnhealthy EnvironmentStatus = "unhealthy"
	StatusDeploying EnvironmentStatus = "deploying"
)

// ValidStatus reports whether s is a known environment status.
func ValidStatus(s EnvironmentStatus) bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusUnhealthy, StatusDeploying:
		return true
	}
	return false
}

// EnvironmentConfig holds the resource and policy settings for an
// environment.
type EnvironmentConfig struct {
	CPU             string   `json:"cpu" yaml:"cpu"`
	Memory          string   `json:"memory" yaml:"memory"`
	Replicas        int      `json:"replicas" yaml:"replicas"`
	AutoDeploy      bool     `json:"auto_deploy" yaml:"auto_deploy"`
	RequireApproval bool     `json:"require_approval" yaml:"require_approval"`
	Approvers       []string `json:"approvers,omitempty" yaml:"approvers"`
	DataSource      string   `json:"data_source" yaml:"data_source"`
	MaskPII         bool     `json:"mask_pii" yaml:"mask_pii"`
}

// Validate rejects configs that must never be applied. Invalid values are
// never clamped.
func (c EnvironmentConfig) Validate() error {
	if c.Replicas < 1 {
		return fmt.Errorf("replicas must be >= 1, got %d", c.Replicas)
	}
	return nil
}

// DefaultEnvironmentConfig returns the tier-specific default config:
// development self-serves with auto deploy, test runs on sanitized data,
// pre-prod gates on human approval.
func DefaultEnvironmentConfig(tier EnvironmentTier) EnvironmentConfig {
	cfg := EnvironmentConfig{
		CPU:        "1000m",
		Memory:     "2Gi",
		Replicas:   1,
		DataSource: "synthetic",
		MaskPII:    true,
	}
	switch tier {
	case TierDevelopment:
		cfg.AutoDeploy = true
	case TierTest:
		cfg.DataSource = "sanitized"
	case TierPreProd:
		cfg.RequireApproval = true
	case TierProduction:
		cfg.RequireApproval = true
		cfg.Replicas = 2
	}
	return cfg
}

// Environment is a deployment target registered with the environment
// manager, keyed by name.
type Environment struct {
	Name           string            `json:"name"`
	Tier           EnvironmentTier   `json:"tier"`
	Config         EnvironmentConfig `json:"config"`
	Status         EnvironmentStatus `json:"status"`
	CurrentVersion string            `json:"current_version,omitempty"`
	// VersionHistory holds, oldest first, the versions that preceded the
	// current one. The current version is never in the history.
	VersionHistory []string  `json:"version_history"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CanAcceptDeployment reports whether a non-forced deploy may proceed.
func (e *Environment) CanAcceptDeployment() bool {
	return e.Status == StatusHealthy
}

// PreviousVersion returns the most recently superseded version, if any.
func (e *Environment) PreviousVersion() (string, bool) {
	if len(e.VersionHistory) == 0 {
		return "", false
	}
	return e.VersionHistory[len(e.VersionHistory)-1], true
}

// HasRun reports whether version appears in the environment's history.
func (e *Environment) HasRun(version string) bool {
	for _, v := range e.VersionHistory {
		if v == version {
			return true
		}
	}
	return false
}
