package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/orcaops/releasecore/internal/domain"
	"github.com/orcaops/releasecore/internal/repository"
)

// Store is the reference in-memory implementation of the repository
// interfaces. A single mutex covers the whole registry, so every method
// executes as one atomic step relative to the others.
type Store struct {
	mu           sync.Mutex
	branches     map[string]domain.Branch
	environments map[string]domain.Environment
	pipelines    map[string]domain.Pipeline
	runs         map[string]domain.PipelineRun
	runOrder     []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		branches:     make(map[string]domain.Branch),
		environments: make(map[string]domain.Environment),
		pipelines:    make(map[string]domain.Pipeline),
		runs:         make(map[string]domain.PipelineRun),
	}
}

var (
	_ repository.BranchRepository      = (*Store)(nil)
	_ repository.EnvironmentRepository = (*Store)(nil)
	_ repository.PipelineRepository    = (*Store)(nil)
)

// CreateBranch inserts a branch, rejecting duplicate names.
func (s *Store) CreateBranch(_ context.Context, branch *domain.Branch) error {
	if branch == nil || strings.TrimSpace(branch.Name) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[branch.Name]; ok {
		return repository.ErrAlreadyExists
	}
	s.branches[branch.Name] = cloneBranch(*branch)
	return nil
}

// GetBranch returns a copy of the named branch.
func (s *Store) GetBranch(_ context.Context, name string) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	branch, ok := s.branches[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneBranch(branch)
	return &out, nil
}

// UpdateBranch replaces an existing branch record.
func (s *Store) UpdateBranch(_ context.Context, branch *domain.Branch) error {
	if branch == nil {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[branch.Name]; !ok {
		return repository.ErrNotFound
	}
	s.branches[branch.Name] = cloneBranch(*branch)
	return nil
}

// DeleteBranch removes a branch by name.
func (s *Store) DeleteBranch(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[name]; !ok {
		return repository.ErrNotFound
	}
	delete(s.branches, name)
	return nil
}

// ListBranches returns all branches sorted by name.
func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		out = append(out, cloneBranch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateEnvironment inserts an environment, rejecting duplicate names.
func (s *Store) CreateEnvironment(_ context.Context, env *domain.Environment) error {
	if env == nil || strings.TrimSpace(env.Name) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.environments[env.Name]; ok {
		return repository.ErrAlreadyExists
	}
	s.environments[env.Name] = cloneEnvironment(*env)
	return nil
}

// GetEnvironment returns a copy of the named environment.
func (s *Store) GetEnvironment(_ context.Context, name string) (*domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.environments[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneEnvironment(env)
	return &out, nil
}

// UpdateEnvironment replaces an existing environment record.
func (s *Store) UpdateEnvironment(_ context.Context, env *domain.Environment) error {
	if env == nil {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.environments[env.Name]; !ok {
		return repository.ErrNotFound
	}
	s.environments[env.Name] = cloneEnvironment(*env)
	return nil
}

// DeleteEnvironment removes an environment by name.
func (s *Store) DeleteEnvironment(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.environments[name]; !ok {
		return repository.ErrNotFound
	}
	delete(s.environments, name)
	return nil
}

// ListEnvironments returns all environments sorted by name.
func (s *Store) ListEnvironments(_ context.Context) ([]domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Environment, 0, len(s.environments))
	for _, e := range s.environments {
		out = append(out, cloneEnvironment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreatePipeline inserts a pipeline definition.
func (s *Store) CreatePipeline(_ context.Context, pipeline *domain.Pipeline) error {
	if pipeline == nil || strings.TrimSpace(pipeline.Name) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[pipeline.Name]; ok {
		return repository.ErrAlreadyExists
	}
	s.pipelines[pipeline.Name] = clonePipeline(*pipeline)
	return nil
}

// GetPipeline returns a copy of the named pipeline.
func (s *Store) GetPipeline(_ context.Context, name string) (*domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clonePipeline(p)
	return &out, nil
}

// ListPipelines returns all pipelines sorted by name.
func (s *Store) ListPipelines(_ context.Context) ([]domain.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, clonePipeline(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateRun records a new pipeline run.
func (s *Store) CreateRun(_ context.Context, run *domain.PipelineRun) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return repository.ErrAlreadyExists
	}
	s.runs[run.ID] = cloneRun(*run)
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

// GetRun returns a copy of a run by identifier.
func (s *Store) GetRun(_ context.Context, runID string) (*domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneRun(run)
	return &out, nil
}

// UpdateRun replaces an existing run record.
func (s *Store) UpdateRun(_ context.Context, run *domain.PipelineRun) error {
	if run == nil {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return repository.ErrNotFound
	}
	s.runs[run.ID] = cloneRun(*run)
	return nil
}

// ListRunsByPipeline returns runs for a pipeline, most recent first.
func (s *Store) ListRunsByPipeline(_ context.Context, pipeline string, limit int) ([]domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PipelineRun, 0)
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run, ok := s.runs[s.runOrder[i]]
		if !ok || run.Pipeline != pipeline {
			continue
		}
		out = append(out, cloneRun(run))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CountActiveRuns counts pending and running executions of a pipeline.
func (s *Store) CountActiveRuns(_ context.Context, pipeline string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, run := range s.runs {
		if run.Pipeline == pipeline && (run.Status == domain.RunPending || run.Status == domain.RunRunning) {
			count++
		}
	}
	return count, nil
}

func cloneBranch(b domain.Branch) domain.Branch {
	if b.Rules != nil {
		rules := *b.Rules
		b.Rules = &rules
	}
	return b
}

func cloneEnvironment(e domain.Environment) domain.Environment {
	e.VersionHistory = append([]string(nil), e.VersionHistory...)
	e.Config.Approvers = append([]string(nil), e.Config.Approvers...)
	return e
}

func clonePipeline(p domain.Pipeline) domain.Pipeline {
	stages := make([]domain.PipelineStage, len(p.Stages))
	for i, st := range p.Stages {
		st.DependsOn = append([]string(nil), st.DependsOn...)
		if st.Gate != nil {
			gate := *st.Gate
			gate.Approvers = append([]string(nil), gate.Approvers...)
			if gate.Conditions != nil {
				conditions := make(map[string]string, len(gate.Conditions))
				for k, v := range gate.Conditions {
					conditions[k] = v
				}
				gate.Conditions = conditions
			}
			st.Gate = &gate
		}
		stages[i] = st
	}
	p.Stages = stages
	return p
}

func cloneRun(r domain.PipelineRun) domain.PipelineRun {
	r.Stages = append([]domain.StageResult(nil), r.Stages...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}
