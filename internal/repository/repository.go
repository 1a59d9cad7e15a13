package repository

import (
	"context"

	"github.com/orcaops/releasecore/internal/domain"
)

// BranchRepository persists the branch graph, keyed by unique name.
type BranchRepository interface {
	CreateBranch(ctx context.Context, branch *domain.Branch) error
	GetBranch(ctx context.Context, name string) (*domain.Branch, error)
	UpdateBranch(ctx context.Context, branch *domain.Branch) error
	DeleteBranch(ctx context.Context, name string) error
	ListBranches(ctx context.Context) ([]domain.Branch, error)
}

// EnvironmentRepository persists environments and their version history.
// History is append-only; implementations must preserve insertion order.
type EnvironmentRepository interface {
	CreateEnvironment(ctx context.Context, env *domain.Environment) error
	GetEnvironment(ctx context.Context, name string) (*domain.Environment, error)
	UpdateEnvironment(ctx context.Context, env *domain.Environment) error
	DeleteEnvironment(ctx context.Context, name string) error
	ListEnvironments(ctx context.Context) ([]domain.Environment, error)
}

// PipelineRepository persists pipeline definitions and run records.
type PipelineRepository interface {
	CreatePipeline(ctx context.Context, pipeline *domain.Pipeline) error
	GetPipeline(ctx context.Context, name string) (*domain.Pipeline, error)
	ListPipelines(ctx context.Context) ([]domain.Pipeline, error)
	CreateRun(ctx context.Context, run *domain.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error)
	UpdateRun(ctx context.Context, run *domain.PipelineRun) error
	ListRunsByPipeline(ctx context.Context, pipeline string, limit int) ([]domain.PipelineRun, error)
	CountActiveRuns(ctx context.Context, pipeline string) (int, error)
}
