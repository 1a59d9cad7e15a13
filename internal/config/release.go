package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orcaops/releasecore/internal/domain"
)

// PipelineDefaults bounds pipeline execution bookkeeping.
type PipelineDefaults struct {
	DefaultTimeoutMinutes int `yaml:"default_timeout_minutes"`
	MaxConcurrentRuns     int `yaml:"max_concurrent_runs"`
}

// EnvironmentOverride adjusts individual fields of the environment
// defaults for one named environment. Nil pointers leave the default in
// place.
type EnvironmentOverride struct {
	Tier            string   `yaml:"tier,omitempty"`
	CPU             *string  `yaml:"cpu,omitempty"`
	Memory          *string  `yaml:"memory,omitempty"`
	Replicas        *int     `yaml:"replicas,omitempty"`
	AutoDeploy      *bool    `yaml:"auto_deploy,omitempty"`
	RequireApproval *bool    `yaml:"require_approval,omitempty"`
	Approvers       []string `yaml:"approvers,omitempty"`
	DataSource      *string  `yaml:"data_source,omitempty"`
	MaskPII         *bool    `yaml:"mask_pii,omitempty"`
}

// BranchOverride adjusts protection defaults for one named branch.
type BranchOverride struct {
	Protected            *bool `yaml:"protected,omitempty"`
	RequireReviews       *int  `yaml:"require_reviews,omitempty"`
	RequireCI            *bool `yaml:"require_ci,omitempty"`
	RequireSigned        *bool `yaml:"require_signed,omitempty"`
	PreventForcePush     *bool `yaml:"prevent_force_push,omitempty"`
	RequireLinearHistory *bool `yaml:"require_linear_history,omitempty"`
}

// PipelineOverride adjusts execution bounds for one named pipeline.
type PipelineOverride struct {
	TimeoutMinutes    *int `yaml:"timeout_minutes,omitempty"`
	MaxConcurrentRuns *int `yaml:"max_concurrent_runs,omitempty"`
}

// ReleaseManagementConfig aggregates layered defaults with per-name
// overrides and global flags. It is loaded once at startup and never
// mutated by the managers.
type ReleaseManagementConfig struct {
	EnvironmentDefaults domain.EnvironmentConfig `yaml:"environment_defaults"`
	BranchDefaults      domain.ProtectionRules   `yaml:"branch_defaults"`
	PipelineDefaults    PipelineDefaults         `yaml:"pipeline_defaults"`

	Environments map[string]EnvironmentOverride `yaml:"environments,omitempty"`
	Branches     map[string]BranchOverride      `yaml:"branches,omitempty"`
	Pipelines    map[string]PipelineOverride    `yaml:"pipelines,omitempty"`

	EnableAutoPromotion    bool     `yaml:"enable_auto_promotion"`
	GitDefaultBranch       string   `yaml:"git_default_branch"`
	DefaultEnvironmentTier string   `yaml:"default_environment_tier,omitempty"`
	NotificationChannels   []string `yaml:"notification_channels,omitempty"`
}

// DefaultReleaseConfig returns the baseline release policy.
func DefaultReleaseConfig() ReleaseManagementConfig {
	return ReleaseManagementConfig{
		EnvironmentDefaults: domain.EnvironmentConfig{
			CPU:        "1000m",
			Memory:     "2Gi",
			Replicas:   1,
			DataSource: "synthetic",
			MaskPII:    true,
		},
		BranchDefaults: domain.DefaultProtectionRules(),
		PipelineDefaults: PipelineDefaults{
			DefaultTimeoutMinutes: 60,
			MaxConcurrentRuns:     3,
		},
		GitDefaultBranch: "main",
	}
}

// FromMap builds a config from a generic document, e.g. one decoded from
// JSON or an API payload. Unset keys keep their defaults.
func FromMap(doc map[string]any) (ReleaseManagementConfig, error) {
	cfg := DefaultReleaseConfig()
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return cfg, fmt.Errorf("encode config document: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config document: %w", err)
	}
	return cfg, nil
}

// FromFile loads a YAML config document.
func FromFile(path string) (ReleaseManagementConfig, error) {
	cfg := DefaultReleaseConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv resolves the release config from environment variables. When
// RELEASE_MGMT_CONFIG_PATH points at a YAML document it is loaded first;
// the individual variables then override its global flags.
func FromEnv() (ReleaseManagementConfig, error) {
	cfg := DefaultReleaseConfig()
	if path := GetString("RELEASE_MGMT_CONFIG_PATH", ""); path != "" {
		loaded, err := FromFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfg.EnableAutoPromotion = GetBool("ENABLE_AUTO_PROMOTION", cfg.EnableAutoPromotion)
	cfg.GitDefaultBranch = GetString("GIT_DEFAULT_BRANCH", cfg.GitDefaultBranch)
	cfg.DefaultEnvironmentTier = GetString("ENVIRONMENT_TIER", cfg.DefaultEnvironmentTier)
	return cfg, nil
}

// Validate rejects configs the managers must never run with. Errors here
// are fatal at startup; values are never coerced.
func (c ReleaseManagementConfig) Validate() error {
	if err := c.EnvironmentDefaults.Validate(); err != nil {
		return fmt.Errorf("environment defaults: %w", err)
	}
	if c.BranchDefaults.RequireReviews < 0 {
		return fmt.Errorf("branch defaults: require_reviews must be >= 0, got %d", c.BranchDefaults.RequireReviews)
	}
	if c.PipelineDefaults.DefaultTimeoutMinutes <= 0 {
		return fmt.Errorf("pipeline defaults: default_timeout_minutes must be positive, got %d", c.PipelineDefaults.DefaultTimeoutMinutes)
	}
	if c.PipelineDefaults.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("pipeline defaults: max_concurrent_runs must be positive, got %d", c.PipelineDefaults.MaxConcurrentRuns)
	}
	if c.DefaultEnvironmentTier != "" {
		if _, err := domain.ParseTier(c.DefaultEnvironmentTier); err != nil {
			return fmt.Errorf("default_environment_tier: %w", err)
		}
	}
	for name, override := range c.Environments {
		if override.Tier != "" {
			if _, err := domain.ParseTier(override.Tier); err != nil {
				return fmt.Errorf("environment %q: %w", name, err)
			}
		}
		if override.Replicas != nil && *override.Replicas < 1 {
			return fmt.Errorf("environment %q: replicas must be >= 1, got %d", name, *override.Replicas)
		}
	}
	for name, override := range c.Branches {
		if override.RequireReviews != nil && *override.RequireReviews < 0 {
			return fmt.Errorf("branch %q: require_reviews must be >= 0, got %d", name, *override.RequireReviews)
		}
	}
	for name, override := range c.Pipelines {
		if override.TimeoutMinutes != nil && *override.TimeoutMinutes <= 0 {
			return fmt.Errorf("pipeline %q: timeout_minutes must be positive, got %d", name, *override.TimeoutMinutes)
		}
		if override.MaxConcurrentRuns != nil && *override.MaxConcurrentRuns <= 0 {
			return fmt.Errorf("pipeline %q: max_concurrent_runs must be positive, got %d", name, *override.MaxConcurrentRuns)
		}
	}
	return nil
}

// ResolveEnvironment layers the named environment's override over the
// defaults and returns the resolved config.
func (c ReleaseManagementConfig) ResolveEnvironment(name string) domain.EnvironmentConfig {
	return c.ApplyEnvironmentOverride(name, c.EnvironmentDefaults)
}

// ApplyEnvironmentOverride layers the named environment's override over an
// arbitrary base config, e.g. tier-specific defaults.
func (c ReleaseManagementConfig) ApplyEnvironmentOverride(name string, base domain.EnvironmentConfig) domain.EnvironmentConfig {
	resolved := base
	override, ok := c.Environments[name]
	if !ok {
		return resolved
	}
	if override.CPU != nil {
		resolved.CPU = *override.CPU
	}
	if override.Memory != nil {
		resolved.Memory = *override.Memory
	}
	if override.Replicas != nil {
		resolved.Replicas = *override.Replicas
	}
	if override.AutoDeploy != nil {
		resolved.AutoDeploy = *override.AutoDeploy
	}
	if override.RequireApproval != nil {
		resolved.RequireApproval = *override.RequireApproval
	}
	if len(override.Approvers) > 0 {
		resolved.Approvers = append([]string(nil), override.Approvers...)
	}
	if override.DataSource != nil {
		resolved.DataSource = *override.DataSource
	}
	if override.MaskPII != nil {
		resolved.MaskPII = *override.MaskPII
	}
	return resolved
}

// ResolveBranch layers the named branch's override over the protection
// defaults. The bool reports whether the branch should start protected.
func (c ReleaseManagementConfig) ResolveBranch(name string) (bool, domain.ProtectionRules) {
	rules := c.BranchDefaults
	protected := false
	override, ok := c.Branches[name]
	if !ok {
		return protected, rules
	}
	if override.Protected != nil {
		protected = *override.Protected
	}
	if override.RequireReviews != nil {
		rules.RequireReviews = *override.RequireReviews
	}
	if override.RequireCI != nil {
		rules.RequireCI = *override.RequireCI
	}
	if override.RequireSigned != nil {
		rules.RequireSigned = *override.RequireSigned
	}
	if override.PreventForcePush != nil {
		rules.PreventForcePush = *override.PreventForcePush
	}
	if override.RequireLinearHistory != nil {
		rules.RequireLinearHistory = *override.RequireLinearHistory
	}
	return protected, rules
}

// ResolvePipeline layers the named pipeline's override over the pipeline
// defaults.
func (c ReleaseManagementConfig) ResolvePipeline(name string) PipelineDefaults {
	resolved := c.PipelineDefaults
	override, ok := c.Pipelines[name]
	if !ok {
		return resolved
	}
	if override.TimeoutMinutes != nil {
		resolved.DefaultTimeoutMinutes = *override.TimeoutMinutes
	}
	if override.MaxConcurrentRuns != nil {
		resolved.MaxConcurrentRuns = *override.MaxConcurrentRuns
	}
	return resolved
}

// ToMap renders the config as a generic document, the inverse of FromMap.
func (c ReleaseManagementConfig) ToMap() (map[string]any, error) {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return doc, nil
}

// Save writes the config as YAML so FromFile round-trips it.
func (c ReleaseManagementConfig) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
