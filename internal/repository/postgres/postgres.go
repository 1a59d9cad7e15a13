package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orcaops/releasecore/internal/domain"
	"github.com/orcaops/releasecore/internal/repository"
)

// Repository implements the persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.BranchRepository      = (*Repository)(nil)
	_ repository.EnvironmentRepository = (*Repository)(nil)
	_ repository.PipelineRepository    = (*Repository)(nil)
)

const uniqueViolation = "23505"

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrAlreadyExists
	}
	return err
}

// CreateBranch inserts a branch.
func (r *Repository) CreateBranch(ctx context.Context, branch *domain.Branch) error {
	rules, err := encodeRules(branch.Rules)
	if err != nil {
		return err
	}
	const query = `INSERT INTO branches (name, branch_type, source_branch, protected, rules, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.pool.Exec(ctx, query, branch.Name, branch.Type, branch.SourceBranch, branch.Protected, rules, branch.CreatedAt)
	return mapWriteError(err)
}

// GetBranch fetches a branch by name.
func (r *Repository) GetBranch(ctx context.Context, name string) (*domain.Branch, error) {
	const query = `SELECT name, branch_type, source_branch, protected, rules, created_at FROM branches WHERE name = $1`
	row := r.pool.QueryRow(ctx, query, name)
	branch, err := scanBranch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return branch, nil
}

// UpdateBranch replaces a branch's mutable fields.
func (r *Repository) UpdateBranch(ctx context.Context, branch *domain.Branch) error {
	rules, err := encodeRules(branch.Rules)
	if err != nil {
		return err
	}
	const query = `UPDATE branches SET branch_type = $2, source_branch = $3, protected = $4, rules = $5 WHERE name = $1`
	tag, err := r.pool.Exec(ctx, query, branch.Name, branch.Type, branch.SourceBranch, branch.Protected, rules)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteBranch removes a branch by name.
func (r *Repository) DeleteBranch(ctx context.Context, name string) error {
	const query = `DELETE FROM branches WHERE name = $1`
	tag, err := r.pool.Exec(ctx, query, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListBranches returns all branches ordered by name.
func (r *Repository) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	const query = `SELECT name, branch_type, source_branch, protected, rules, created_at FROM branches ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0)
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, *branch)
	}
	return branches, rows.Err()
}

// CreateEnvironment inserts an environment.
func (r *Repository) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	cfg, err := json.Marshal(env.Config)
	if err != nil {
		return fmt.Errorf("encode environment config: %w", err)
	}
	history, err := json.Marshal(env.VersionHistory)
	if err != nil {
		return fmt.Errorf("encode version history: %w", err)
	}
	const query = `INSERT INTO environments (name, tier, config, status, current_version, version_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.pool.Exec(ctx, query, env.Name, int(env.Tier), cfg, env.Status, env.CurrentVersion, history, env.CreatedAt, env.UpdatedAt)
	return mapWriteError(err)
}

// GetEnvironment fetches an environment by name.
func (r *Repository) GetEnvironment(ctx context.Context, name string) (*domain.Environment, error) {
	const query = `SELECT name, tier, config, status, current_version, version_history, created_at, updated_at FROM environments WHERE name = $1`
	row := r.pool.QueryRow(ctx, query, name)
	env, err := scanEnvironment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return env, nil
}

// UpdateEnvironment replaces an environment's mutable fields.
func (r *Repository) UpdateEnvironment(ctx context.Context, env *domain.Environment) error {
	cfg, err := json.Marshal(env.Config)
	if err != nil {
		return fmt.Errorf("encode environment config: %w", err)
	}
	history, err := json.Marshal(env.VersionHistory)
	if err != nil {
		return fmt.Errorf("encode version history: %w", err)
	}
	const query = `UPDATE environments SET tier = $2, config = $3, status = $4, current_version = $5, version_history = $6, updated_at = $7 WHERE name = $1`
	tag, err := r.pool.Exec(ctx, query, env.Name, int(env.Tier), cfg, env.Status, env.CurrentVersion, history, env.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteEnvironment removes an environment by name.
func (r *Repository) DeleteEnvironment(ctx context.Context, name string) error {
	const query = `DELETE FROM environments WHERE name = $1`
	tag, err := r.pool.Exec(ctx, query, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListEnvironments returns all environments ordered by name.
func (r *Repository) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	const query = `SELECT name, tier, config, status, current_version, version_history, created_at, updated_at FROM environments ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	envs := make([]domain.Environment, 0)
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, *env)
	}
	return envs, rows.Err()
}

// CreatePipeline inserts a pipeline definition.
func (r *Repository) CreatePipeline(ctx context.Context, pipeline *domain.Pipeline) error {
	stages, err := json.Marshal(pipeline.Stages)
	if err != nil {
		return fmt.Errorf("encode pipeline stages: %w", err)
	}
	const query = `INSERT INTO pipelines (name, stages, timeout_minutes, max_concurrent_runs, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err = r.pool.Exec(ctx, query, pipeline.Name, stages, pipeline.TimeoutMinutes, pipeline.MaxConcurrentRuns, pipeline.CreatedAt)
	return mapWriteError(err)
}

// GetPipeline fetches a pipeline by name.
func (r *Repository) GetPipeline(ctx context.Context, name string) (*domain.Pipeline, error) {
	const query = `SELECT name, stages, timeout_minutes, max_concurrent_runs, created_at FROM pipelines WHERE name = $1`
	row := r.pool.QueryRow(ctx, query, name)
	pipeline, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return pipeline, nil
}

// ListPipelines returns all pipelines ordered by name.
func (r *Repository) ListPipelines(ctx context.Context) ([]domain.Pipeline, error) {
	const query = `SELECT name, stages, timeout_minutes, max_concurrent_runs, created_at FROM pipelines ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pipelines := make([]domain.Pipeline, 0)
	for rows.Next() {
		pipeline, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *pipeline)
	}
	return pipelines, rows.Err()
}

// CreateRun records a new pipeline run.
func (r *Repository) CreateRun(ctx context.Context, run *domain.PipelineRun) error {
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("encode run stages: %w", err)
	}
	const query = `INSERT INTO pipeline_runs (id, pipeline, status, triggered_by, stages, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.pool.Exec(ctx, query, run.ID, run.Pipeline, run.Status, run.TriggeredBy, stages, run.StartedAt, run.CompletedAt)
	return mapWriteError(err)
}

// GetRun fetches a run by identifier.
func (r *Repository) GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	const query = `SELECT id, pipeline, status, triggered_by, stages, started_at, completed_at FROM pipeline_runs WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// UpdateRun replaces a run's mutable fields.
func (r *Repository) UpdateRun(ctx context.Context, run *domain.PipelineRun) error {
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("encode run stages: %w", err)
	}
	const query = `UPDATE pipeline_runs SET status = $2, stages = $3, completed_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, run.ID, run.Status, stages, run.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListRunsByPipeline returns recent runs for a pipeline.
func (r *Repository) ListRunsByPipeline(ctx context.Context, pipeline string, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, pipeline, status, triggered_by, stages, started_at, completed_at
		FROM pipeline_runs WHERE pipeline = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, pipeline, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]domain.PipelineRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CountActiveRuns counts pending and running executions of a pipeline.
func (r *Repository) CountActiveRuns(ctx context.Context, pipeline string) (int, error) {
	const query = `SELECT COUNT(1) FROM pipeline_runs WHERE pipeline = $1 AND status IN ('pending', 'running')`
	row := r.pool.QueryRow(ctx, query, pipeline)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanBranch(row pgx.Row) (*domain.Branch, error) {
	var (
		branch domain.Branch
		rules  []byte
	)
	if err := row.Scan(&branch.Name, &branch.Type, &branch.SourceBranch, &branch.Protected, &rules, &branch.CreatedAt); err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		var decoded domain.ProtectionRules
		if err := json.Unmarshal(rules, &decoded); err != nil {
			return nil, fmt.Errorf("decode protection rules: %w", err)
		}
		branch.Rules = &decoded
	}
	return &branch, nil
}

func scanEnvironment(row pgx.Row) (*domain.Environment, error) {
	var (
		env     domain.Environment
		tier    int
		cfg     []byte
		history []byte
	)
	if err := row.Scan(&env.Name, &tier, &cfg, &env.Status, &env.CurrentVersion, &history, &env.CreatedAt, &env.UpdatedAt); err != nil {
		return nil, err
	}
	env.Tier = domain.EnvironmentTier(tier)
	if err := json.Unmarshal(cfg, &env.Config); err != nil {
		return nil, fmt.Errorf("decode environment config: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &env.VersionHistory); err != nil {
			return nil, fmt.Errorf("decode version history: %w", err)
		}
	}
	return &env, nil
}

func scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	var (
		pipeline domain.Pipeline
		stages   []byte
	)
	if err := row.Scan(&pipeline.Name, &stages, &pipeline.TimeoutMinutes, &pipeline.MaxConcurrentRuns, &pipeline.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stages, &pipeline.Stages); err != nil {
		return nil, fmt.Errorf("decode pipeline stages: %w", err)
	}
	return &pipeline, nil
}

func scanRun(row pgx.Row) (*domain.PipelineRun, error) {
	var (
		run    domain.PipelineRun
		stages []byte
	)
	if err := row.Scan(&run.ID, &run.Pipeline, &run.Status, &run.TriggeredBy, &stages, &run.StartedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &run.Stages); err != nil {
			return nil, fmt.Errorf("decode run stages: %w", err)
		}
	}
	return &run, nil
}

func encodeRules(rules *domain.ProtectionRules) ([]byte, error) {
	if rules == nil {
		return nil, nil
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("encode protection rules: %w", err)
	}
	return raw, nil
}
