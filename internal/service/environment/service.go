package environment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/orcaops/releasecore/internal/config"
	"github.com/orcaops/releasecore/internal/domain"
	"github.com/orcaops/releasecore/internal/events"
	"github.com/orcaops/releasecore/internal/repository"
)

// Service owns the environment registry, the tier-promotion state machine
// and the deploy/rollback primitives with their version-history
// bookkeeping. A single mutex serializes mutating operations at registry
// granularity.
type Service struct {
	mu     sync.Mutex
	envs   repository.EnvironmentRepository
	logger *slog.Logger
	cfg    config.ReleaseManagementConfig
	hub    *events.Hub
}

// New constructs an environment service.
func New(envs repository.EnvironmentRepository, logger *slog.Logger, cfg config.ReleaseManagementConfig, hub *events.Hub) *Service {
	return &Service{envs: envs, logger: logger, cfg: cfg, hub: hub}
}

// CreateEnvironment registers a new environment. When envCfg is nil the
// tier-specific defaults are applied, layered with any per-name override
// from the release config. Invalid configs are rejected, never clamped.
func (s *Service) CreateEnvironment(ctx context.Context, name string, tier domain.EnvironmentTier, envCfg *domain.EnvironmentConfig) (*domain.Environment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: environment name required", repository.ErrInvalidArgument)
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown environment tier", repository.ErrInvalidArgument)
	}
	resolved := s.cfg.ApplyEnvironmentOverride(name, domain.DefaultEnvironmentConfig(tier))
	if envCfg != nil {
		resolved = *envCfg
	}
	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	env := &domain.Environment{
		Name:      name,
		Tier:      tier,
		Config:    resolved,
		Status:    domain.StatusHealthy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.envs.CreateEnvironment(ctx, env); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("environment %q already exists: %w", name, repository.ErrAlreadyExists)
		}
		return nil, err
	}
	s.logger.Info("environment created", "environment", name, "tier", tier.String(), "replicas", resolved.Replicas)
	events.Publish(s.hub, events.TopicEnvironments, events.Event{Kind: "environment.created", Entity: name, Success: true})
	return env, nil
}

// Deploy places a version onto an environment. Non-healthy environments
// reject the deploy unless forced. On success the superseded version is
// appended to the history before being replaced.
func (s *Service) Deploy(ctx context.Context, name, version string, force bool) (bool, error) {
	if strings.TrimSpace(version) == "" {
		return false, fmt.Errorf("%w: version required", repository.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deployLocked(ctx, name, version, force)
}

func (s *Service) deployLocked(ctx context.Context, name, version string, force bool) (bool, error) {
	env, err := s.envs.GetEnvironment(ctx, name)
	if err != nil {
		return false, err
	}
	if !env.CanAcceptDeployment() && !force {
		s.logger.Warn("deploy rejected", "environment", name, "status", env.Status, "version", version)
		events.Publish(s.hub, events.TopicEnvironments, events.Event{
			Kind:   "deploy.rejected",
			Entity: name,
			Error:  fmt.Sprintf("Environment %q is %s and cannot accept deployments", name, env.Status),
		})
		return false, nil
	}
	if env.CurrentVersion != "" {
		env.VersionHistory = append(env.VersionHistory, env.CurrentVersion)
	}
	env.CurrentVersion = version
	env.UpdatedAt = time.Now().UTC()
	if err := s.envs.UpdateEnvironment(ctx, env); err != nil {
		return false, err
	}
	s.logger.Info("version deployed", "environment", name, "version", version, "forced", force)
	events.Publish(s.hub, events.TopicEnvironments, events.Event{Kind: "deploy.completed", Entity: name, Success: true, Detail: map[string]string{"version": version}})
	return true, nil
}

// Promote deploys a version from a lower-tier environment onto the
// adjacent higher-tier one. The target's own health gating applies;
// promotion never force-deploys.
func (s *Service) Promote(ctx context.Context, sourceName, targetName, version string) (domain.PromotionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := domain.PromotionResult{Source: sourceName, Target: targetName}

	source, err := s.envs.GetEnvironment(ctx, sourceName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			result.Error = fmt.Sprintf("Source environment %q not found", sourceName)
			return result, nil
		}
		return result, err
	}
	target, err := s.envs.GetEnvironment(ctx, targetName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			result.Error = fmt.Sprintf("Target environment %q not found", targetName)
			return result, nil
		}
		return result, err
	}
	if !source.Tier.CanPromoteTo(target.Tier) {
		result.Error = fmt.Sprintf("Cannot promote from %s to %s", source.Tier, target.Tier)
		s.logger.Warn("promotion rejected", "source", sourceName, "target", targetName, "reason", result.Error)
		events.Publish(s.hub, events.TopicEnvironments, events.Event{Kind: "promotion.rejected", Entity: targetName, Error: result.Error})
		return result, nil
	}
	if version == "" {
		version = source.CurrentVersion
	}
	if version == "" {
		result.Error = fmt.Sprintf("No version available to promote from %q", sourceName)
		return result, nil
	}

	deployed, err := s.deployLocked(ctx, targetName, version, false)
	if err != nil {
		return result, err
	}
	if !deployed {
		result.Error = fmt.Sprintf("Environment %q is %s and cannot accept deployments", targetName, target.Status)
		return result, nil
	}
	result.Success = true
	result.Version = version
	result.PromotedAt = time.Now().UTC()
	s.logger.Info("version promoted", "source", sourceName, "target", targetName, "version", version)
	events.Publish(s.hub, events.TopicEnvironments, events.Event{Kind: "promotion.completed", Entity: targetName, Success: true, Detail: result})
	return result, nil
}

// Rollback reverts an environment to a version from its history. With no
// explicit target the most recently superseded version is used; an
// explicit target must already appear in the history.
func (s *Service) Rollback(ctx context.Context, name, targetVersion, reason string) (domain.RollbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := domain.RollbackResult{Environment: name, Reason: reason}

	env, err := s.envs.GetEnvironment(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			result.Error = fmt.Sprintf("Environment %q not found", name)
			return result, nil
		}
		return result, err
	}
	if targetVersion == "" {
		previous, ok := env.PreviousVersion()
		if !ok {
			result.Error = fmt.Sprintf("No previous version recorded for %q", name)
			return result, nil
		}
		targetVersion = previous
	} else if !env.HasRun(targetVersion) {
		result.Error = fmt.Sprintf("Version %q not in history for %q", targetVersion, name)
		return result, nil
	}

	result.FromVersion = env.CurrentVersion
	result.ToVersion = targetVersion

	// The target leaves the history: it is current again, and history
	// holds only versions that preceded the current one.
	env.VersionHistory = removeLastOccurrence(env.VersionHistory, targetVersion)
	env.CurrentVersion = targetVersion
	env.UpdatedAt = time.Now().UTC()
	if err := s.envs.UpdateEnvironment(ctx, env); err != nil {
		return result, err
	}

	result.Success = true
	result.RolledBackAt = time.Now().UTC()
	s.logger.Info("environment rolled back", "environment", name, "from", result.FromVersion, "to", targetVersion, "reason", reason)
	events.Publish(s.hub, events.TopicEnvironments, events.Event{Kind: "rollback.completed", Entity: name, Success: true, Detail: result})
	return result, nil
}

// UpdateEnvironment applies an explicit status or config change. Status
// is driven entirely by the external health monitor; the core never
// infers it.
func (s *Service) UpdateEnvironment(ctx context.Context, name string, status *domain.EnvironmentStatus, envCfg *domain.EnvironmentConfig) (*domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.envs.GetEnvironment(ctx, name)
	if err != nil {
		return nil, err
	}
	if status != nil {
		if !domain.ValidStatus(*status) {
			return nil, fmt.Errorf("%w: unknown environment status %q", repository.ErrInvalidArgument, *status)
		}
		env.Status = *status
	}
	if envCfg != nil {
		if err := envCfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s", repository.ErrInvalidArgument, err)
		}
		env.Config = *envCfg
	}
	env.UpdatedAt = time.Now().UTC()
	if err := s.envs.UpdateEnvironment(ctx, env); err != nil {
		return nil, err
	}
	s.logger.Info("environment updated", "environment", name)
	events.Publish(s.hub, events.TopicEnvironments, events.Event{Kind: "environment.updated", Entity: name, Success: true})
	return env, nil
}

// DeleteEnvironment removes an environment from the registry. Unknown
// names report false.
func (s *Service) DeleteEnvironment(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.envs.DeleteEnvironment(ctx, name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.logger.Info("environment deleted", "environment", name)
	events.Publish(s.hub, events.TopicEnvironments, events.Event{Kind: "environment.deleted", Entity: name, Success: true})
	return true, nil
}

// Health is the read-only health projection of an environment.
type Health struct {
	Name                string                   `json:"name"`
	Tier                string                   `json:"tier"`
	Status              domain.EnvironmentStatus `json:"status"`
	CurrentVersion      string                   `json:"current_version,omitempty"`
	CanAcceptDeployment bool                     `json:"can_accept_deployment"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// GetHealthStatus returns the health projection for one environment.
func (s *Service) GetHealthStatus(ctx context.Context, name string) (*Health, error) {
	env, err := s.envs.GetEnvironment(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Health{
		Name:                env.Name,
		Tier:                env.Tier.String(),
		Status:              env.Status,
		CurrentVersion:      env.CurrentVersion,
		CanAcceptDeployment: env.CanAcceptDeployment(),
		UpdatedAt:           env.UpdatedAt,
	}, nil
}

// History is the read-only version audit projection.
type History struct {
	Name           string   `json:"name"`
	CurrentVersion string   `json:"current_version,omitempty"`
	Versions       []string `json:"versions"`
}

// GetVersionHistory returns the ordered audit trail for one environment.
func (s *Service) GetVersionHistory(ctx context.Context, name string) (*History, error) {
	env, err := s.envs.GetEnvironment(ctx, name)
	if err != nil {
		return nil, err
	}
	return &History{
		Name:           env.Name,
		CurrentVersion: env.CurrentVersion,
		Versions:       append([]string{}, env.VersionHistory...),
	}, nil
}

// ListEnvironments returns every registered environment.
func (s *Service) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	return s.envs.ListEnvironments(ctx)
}

func removeLastOccurrence(history []string, version string) []string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] == version {
			return append(history[:i:i], history[i+1:]...)
		}
	}
	return history
}
