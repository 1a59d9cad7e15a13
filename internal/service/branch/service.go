package branch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/orcaops/releasecore/internal/config"
	"github.com/orcaops/releasecore/internal/domain"
	"github.com/orcaops/releasecore/internal/events"
	"github.com/orcaops/releasecore/internal/repository"
)

// Service owns the branch graph and enforces protection and merge
// discipline. Mutating operations are serialized by a single mutex at
// registry granularity.
type Service struct {
	mu       sync.Mutex
	branches repository.BranchRepository
	logger   *slog.Logger
	cfg      config.ReleaseManagementConfig
	hub      *events.Hub
}

// New constructs a branch service and seeds the initial topology: the
// default branch (protected, two reviews, linear history) and develop
// sourced from it. Seeding is idempotent across restarts.
func New(ctx context.Context, branches repository.BranchRepository, logger *slog.Logger, cfg config.ReleaseManagementConfig, hub *events.Hub) (*Service, error) {
	s := &Service{branches: branches, logger: logger, cfg: cfg, hub: hub}
	for _, seed := range seedBranches(cfg) {
		seed := seed
		if err := branches.CreateBranch(ctx, &seed); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("seed branch %s: %w", seed.Name, err)
		}
	}
	return s, nil
}

// seedBranches returns the minimally-viable git-flow topology every
// repository starts from.
func seedBranches(cfg config.ReleaseManagementConfig) []domain.Branch {
	now := time.Now().UTC()
	mainName := strings.TrimSpace(cfg.GitDefaultBranch)
	if mainName == "" {
		mainName = "main"
	}
	mainRules := domain.DefaultProtectionRules()
	mainRules.RequireReviews = 2
	mainRules.RequireLinearHistory = true
	return []domain.Branch{
		{
			Name:      mainName,
			Type:      domain.BranchRelease,
			Protected: true,
			Rules:     &mainRules,
			CreatedAt: now,
		},
		{
			Name:         "develop",
			Type:         domain.BranchWorkingBeta,
			SourceBranch: mainName,
			CreatedAt:    now,
		},
	}
}

// DefaultBranch returns the configured default branch name.
func (s *Service) DefaultBranch() string {
	if name := strings.TrimSpace(s.cfg.GitDefaultBranch); name != "" {
		return name
	}
	return "main"
}

// CreateBranch adds a branch sourced from an existing one. The branch
// type is inferred from the name and is advisory only.
func (s *Service) CreateBranch(ctx context.Context, name, source string) (*domain.Branch, error) {
	name = strings.TrimSpace(name)
	source = strings.TrimSpace(source)
	if name == "" {
		return nil, fmt.Errorf("%w: branch name required", repository.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.branches.GetBranch(ctx, source); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("source branch %q not found: %w", source, repository.ErrNotFound)
		}
		return nil, err
	}
	branch := &domain.Branch{
		Name:         name,
		Type:         domain.InferBranchType(name),
		SourceBranch: source,
		CreatedAt:    time.Now().UTC(),
	}
	if protected, rules := s.cfg.ResolveBranch(name); protected {
		branch.Protected = true
		ruleCopy := rules
		branch.Rules = &ruleCopy
	}
	if err := s.branches.CreateBranch(ctx, branch); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("branch %q already exists: %w", name, repository.ErrAlreadyExists)
		}
		return nil, err
	}
	s.logger.Info("branch created", "branch", name, "source", source, "type", branch.Type)
	events.Publish(s.hub, events.TopicBranches, events.Event{Kind: "branch.created", Entity: name, Success: true})
	return branch, nil
}

// CreateStableDemo ensures the long-lived stable-demo branch exists,
// protected and sourced from the default branch.
func (s *Service) CreateStableDemo(ctx context.Context) (*domain.Branch, error) {
	return s.ensureTrackingBranch(ctx, "stable-demo", s.DefaultBranch())
}

// CreateWorkingBeta ensures the long-lived working-beta branch exists,
// protected and sourced from develop unless another source is given.
func (s *Service) CreateWorkingBeta(ctx context.Context, source string) (*domain.Branch, error) {
	if strings.TrimSpace(source) == "" {
		source = "develop"
	}
	return s.ensureTrackingBranch(ctx, "working-beta", source)
}

// ensureTrackingBranch creates (or returns, if present) a protected
// deployment-tracking branch.
func (s *Service) ensureTrackingBranch(ctx context.Context, name, source string) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.branches.GetBranch(ctx, name); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if _, err := s.branches.GetBranch(ctx, source); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("source branch %q not found: %w", source, repository.ErrNotFound)
		}
		return nil, err
	}
	rules := domain.DefaultProtectionRules()
	branch := &domain.Branch{
		Name:         name,
		Type:         domain.InferBranchType(name),
		SourceBranch: source,
		Protected:    true,
		Rules:        &rules,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.branches.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	s.logger.Info("tracking branch created", "branch", name, "source", source)
	events.Publish(s.hub, events.TopicBranches, events.Event{Kind: "branch.created", Entity: name, Success: true})
	return branch, nil
}

// ApplyProtection marks a branch protected with the given rules (or the
// configured defaults when rules is nil). Returns false for unknown
// branches.
func (s *Service) ApplyProtection(ctx context.Context, name string, rules *domain.ProtectionRules) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, err := s.branches.GetBranch(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	applied := s.cfg.BranchDefaults
	if rules != nil {
		applied = *rules
	}
	if applied.RequireReviews < 0 {
		return false, fmt.Errorf("%w: require_reviews must be >= 0", repository.ErrInvalidArgument)
	}
	branch.Protected = true
	branch.Rules = &applied
	if err := s.branches.UpdateBranch(ctx, branch); err != nil {
		return false, err
	}
	s.logger.Info("branch protection applied", "branch", name, "require_reviews", applied.RequireReviews)
	events.Publish(s.hub, events.TopicBranches, events.Event{Kind: "branch.protected", Entity: name, Success: true})
	return true, nil
}

// RemoveProtection clears a branch's protection. Returns false for
// unknown branches.
func (s *Service) RemoveProtection(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, err := s.branches.GetBranch(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	branch.Protected = false
	branch.Rules = nil
	if err := s.branches.UpdateBranch(ctx, branch); err != nil {
		return false, err
	}
	s.logger.Info("branch protection removed", "branch", name)
	events.Publish(s.hub, events.TopicBranches, events.Event{Kind: "branch.unprotected", Entity: name, Success: true})
	return true, nil
}

// DeleteBranch removes a branch. Protected branches are only removed when
// force is set; unknown branches report false.
func (s *Service) DeleteBranch(ctx context.Context, name string, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, err := s.branches.GetBranch(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if branch.Protected && !force {
		s.logger.Warn("refusing to delete protected branch", "branch", name)
		return false, nil
	}
	if err := s.branches.DeleteBranch(ctx, name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.logger.Info("branch deleted", "branch", name, "forced", force)
	events.Publish(s.hub, events.TopicBranches, events.Event{Kind: "branch.deleted", Entity: name, Success: true})
	return true, nil
}

// Merge merges source into target. Business-rule failures come back as a
// failed MergeResult; the error return is reserved for storage faults.
func (s *Service) Merge(ctx context.Context, source, target string, strategy domain.MergeStrategy) (domain.MergeResult, error) {
	if strategy == "" {
		strategy = domain.StrategyMerge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(ctx, source, target, strategy)
}

func (s *Service) mergeLocked(ctx context.Context, source, target string, strategy domain.MergeStrategy) (domain.MergeResult, error) {
	result := domain.MergeResult{Source: source, Target: target, Strategy: strategy}

	if _, err := s.branches.GetBranch(ctx, source); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			result.Error = fmt.Sprintf("Source branch %q not found", source)
			return result, nil
		}
		return result, err
	}
	targetBranch, err := s.branches.GetBranch(ctx, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			result.Error = fmt.Sprintf("Target branch %q not found", target)
			return result, nil
		}
		return result, err
	}
	if targetBranch.LinearHistoryRequired() && strategy != domain.StrategySquash {
		result.Error = fmt.Sprintf("Branch %q requires linear history; use squash instead of %s", target, strategy)
		s.logger.Warn("merge rejected", "source", source, "target", target, "reason", "linear history")
		events.Publish(s.hub, events.TopicBranches, events.Event{Kind: "merge.rejected", Entity: target, Error: result.Error})
		return result, nil
	}

	result.Success = true
	result.CommitSHA = newCommitSHA()
	result.MergedAt = time.Now().UTC()
	s.logger.Info("branches merged", "source", source, "target", target, "strategy", strategy, "commit", result.CommitSHA)
	events.Publish(s.hub, events.TopicBranches, events.Event{Kind: "merge.completed", Entity: target, Success: true, Detail: result})
	return result, nil
}

// SyncBranch merges a branch's upstream (or an explicit source) into it.
func (s *Service) SyncBranch(ctx context.Context, name, source string) (domain.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := domain.MergeResult{Target: name, Strategy: domain.StrategyMerge}
	branch, err := s.branches.GetBranch(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			result.Error = fmt.Sprintf("Target branch %q not found", name)
			return result, nil
		}
		return result, err
	}
	if strings.TrimSpace(source) == "" {
		source = branch.SourceBranch
	}
	if strings.TrimSpace(source) == "" {
		result.Error = fmt.Sprintf("No source branch available for %q", name)
		return result, nil
	}
	return s.mergeLocked(ctx, source, name, domain.StrategyMerge)
}

// ValidateMerge pre-flights a merge without mutating anything, reporting
// the target's requirements for callers such as a CI bot.
func (s *Service) ValidateMerge(ctx context.Context, source, target string) (domain.MergeCheck, error) {
	check := domain.MergeCheck{Valid: true, Requirements: []string{}}

	if _, err := s.branches.GetBranch(ctx, source); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			check.Valid = false
			check.Errors = append(check.Errors, fmt.Sprintf("Source branch %q not found", source))
		} else {
			return check, err
		}
	}
	targetBranch, err := s.branches.GetBranch(ctx, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			check.Valid = false
			check.Errors = append(check.Errors, fmt.Sprintf("Target branch %q not found", target))
			return check, nil
		}
		return check, err
	}
	check.TargetProtected = targetBranch.Protected
	if targetBranch.Protected && targetBranch.Rules != nil {
		rules := targetBranch.Rules
		if rules.RequireReviews > 0 {
			check.Requirements = append(check.Requirements, fmt.Sprintf("%d approving reviews", rules.RequireReviews))
		}
		if rules.RequireCI {
			check.Requirements = append(check.Requirements, "CI checks must pass")
		}
		if rules.RequireSigned {
			check.Requirements = append(check.Requirements, "signed commits required")
		}
		if rules.RequireLinearHistory {
			check.Requirements = append(check.Requirements, "linear history: squash merge required")
		}
	}
	return check, nil
}

// ListBranches returns branches, optionally filtered by type or
// protection.
func (s *Service) ListBranches(ctx context.Context, branchType domain.BranchType, protectedOnly bool) ([]domain.Branch, error) {
	all, err := s.branches.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Branch, 0, len(all))
	for _, b := range all {
		if branchType != "" && b.Type != branchType {
			continue
		}
		if protectedOnly && !b.Protected {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Status is the read-only projection of a branch.
type Status struct {
	Name         string                  `json:"name"`
	Type         domain.BranchType       `json:"type"`
	SourceBranch string                  `json:"source_branch,omitempty"`
	Protected    bool                    `json:"protected"`
	Rules        *domain.ProtectionRules `json:"protection_rules,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

// GetBranchStatus returns the projection for one branch.
func (s *Service) GetBranchStatus(ctx context.Context, name string) (*Status, error) {
	branch, err := s.branches.GetBranch(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Status{
		Name:         branch.Name,
		Type:         branch.Type,
		SourceBranch: branch.SourceBranch,
		Protected:    branch.Protected,
		Rules:        branch.Rules,
		CreatedAt:    branch.CreatedAt,
	}, nil
}

// newCommitSHA returns a synthetic but unique commit identifier.
func newCommitSHA() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
