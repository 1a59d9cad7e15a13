package pipeline

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

// Service records pipeline definitions, runs and gate decisions. It is
// bookkeeping only: stages are executed and gates evaluated by external
// collaborators, and this service records what they decided.
type Service struct {
	mu        sync.Mutex
	pipelines repository.PipelineRepository
	logger    *slog.Logger
	cfg       config.ReleaseManagementConfig
	hub       *events.Hub
}

// New constructs a pipeline service.
func New(pipelines repository.PipelineRepository, logger *slog.Logger, cfg config.ReleaseManagementConfig, hub *events.Hub) *Service {
	return &Service{pipelines: pipelines, logger: logger, cfg: cfg, hub: hub}
}

// CreatePipeline registers a pipeline definition, applying the configured
// timeout and concurrency defaults for its name.
func (s *Service) CreatePipeline(ctx context.Context, name string, stages []domain.PipelineStage) (*domain.Pipeline, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: pipeline name required", repository.ErrInvalidArgument)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: at least one stage required", repository.ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(stages))
	for _, stage := range stages {
		if strings.TrimSpace(stage.Name) == "" {
			return nil, fmt.Errorf("%w: stage name required", repository.ErrInvalidArgument)
		}
		if _, ok := seen[stage.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate stage %q", repository.ErrInvalidArgument, stage.Name)
		}
		seen[stage.Name] = struct{}{}
		for _, dep := range stage.DependsOn {
			if _, ok := seen[dep]; !ok {
				return nil, fmt.Errorf("%w: stage %q depends on unknown or later stage %q", repository.ErrInvalidArgument, stage.Name, dep)
			}
		}
		if stage.Gate != nil {
			if stage.Gate.Type != domain.GateManual && stage.Gate.Type != domain.GateAutomated {
				return nil, fmt.Errorf("%w: stage %q has unknown gate type %q", repository.ErrInvalidArgument, stage.Name, stage.Gate.Type)
			}
			if stage.Gate.Type == domain.GateManual && len(stage.Gate.Approvers) == 0 {
				return nil, fmt.Errorf("%w: manual gate on stage %q requires approvers", repository.ErrInvalidArgument, stage.Name)
			}
		}
	}

	bounds := s.cfg.ResolvePipeline(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	pipeline := &domain.Pipeline{
		Name:              name,
		Stages:            stages,
		TimeoutMinutes:    bounds.DefaultTimeoutMinutes,
		MaxConcurrentRuns: bounds.MaxConcurrentRuns,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.pipelines.CreatePipeline(ctx, pipeline); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("pipeline %q already exists: %w", name, repository.ErrAlreadyExists)
		}
		return nil, err
	}
	s.logger.Info("pipeline created", "pipeline", name, "stages", len(stages))
	events.Publish(s.hub, events.TopicPipelines, events.Event{Kind: "pipeline.created", Entity: name, Success: true})
	return pipeline, nil
}

// StartRun records a new execution of a pipeline. Exceeding the
// concurrency bound is recorded as a rejection, not queued.
func (s *Service) StartRun(ctx context.Context, pipelineName, triggeredBy string) (*domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pipeline, err := s.pipelines.GetPipeline(ctx, pipelineName)
	if err != nil {
		return nil, err
	}
	active, err := s.pipelines.CountActiveRuns(ctx, pipelineName)
	if err != nil {
		return nil, err
	}
	if active >= pipeline.MaxConcurrentRuns {
		s.logger.Warn("run rejected", "pipeline", pipelineName, "active", active, "max", pipeline.MaxConcurrentRuns)
		return nil, fmt.Errorf("%w: pipeline %q already has %d active runs", repository.ErrInvalidArgument, pipelineName, active)
	}

	now := time.Now().UTC()
	run := &domain.PipelineRun{
		ID:          uuid.NewString(),
		Pipeline:    pipelineName,
		Status:      domain.RunRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   now,
	}
	for _, stage := range pipeline.Stages {
		run.Stages = append(run.Stages, domain.StageResult{Stage: stage.Name, Status: domain.StagePending, RecordedAt: now})
	}
	if err := s.pipelines.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	s.logger.Info("pipeline run started", "pipeline", pipelineName, "run_id", run.ID, "triggered_by", triggeredBy)
	events.Publish(s.hub, events.TopicPipelines, events.Event{Kind: "run.started", Entity: pipelineName, Success: true, Detail: map[string]string{"run_id": run.ID}})
	return run, nil
}

// RecordStageResult records a stage outcome reported by the executor.
// When every stage has a terminal status the run itself is closed out.
func (s *Service) RecordStageResult(ctx context.Context, runID, stage string, status domain.StageStatus, message string) (*domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.pipelines.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	idx := stageIndex(run, stage)
	if idx < 0 {
		return nil, fmt.Errorf("%w: run %q has no stage %q", repository.ErrInvalidArgument, runID, stage)
	}
	run.Stages[idx].Status = status
	run.Stages[idx].Message = message
	run.Stages[idx].RecordedAt = time.Now().UTC()
	s.closeOutIfFinished(run)
	if err := s.pipelines.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	s.logger.Info("stage result recorded", "run_id", runID, "stage", stage, "status", status)
	events.Publish(s.hub, events.TopicPipelines, events.Event{Kind: "stage.recorded", Entity: run.Pipeline, Success: status != domain.StageFailed, Detail: map[string]string{"run_id": runID, "stage": stage, "status": string(status)}})
	return run, nil
}

// RecordGateDecision records an approval decision taken by an external
// collaborator for a gated stage. A denial fails the stage.
func (s *Service) RecordGateDecision(ctx context.Context, runID, stage string, approved bool, approver, note string) (*domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.pipelines.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	pipeline, err := s.pipelines.GetPipeline(ctx, run.Pipeline)
	if err != nil {
		return nil, err
	}
	def, ok := pipeline.Stage(stage)
	if !ok || def.Gate == nil {
		return nil, fmt.Errorf("%w: stage %q has no gate", repository.ErrInvalidArgument, stage)
	}
	if def.Gate.Type == domain.GateManual && len(def.Gate.Approvers) > 0 && !contains(def.Gate.Approvers, approver) {
		return nil, fmt.Errorf("%w: %q is not an approver for stage %q", repository.ErrInvalidArgument, approver, stage)
	}
	idx := stageIndex(run, stage)
	if idx < 0 {
		return nil, fmt.Errorf("%w: run %q has no stage %q", repository.ErrInvalidArgument, runID, stage)
	}

	decision := approved
	run.Stages[idx].GateApproved = &decision
	run.Stages[idx].GateApprover = approver
	run.Stages[idx].GateNote = note
	run.Stages[idx].RecordedAt = time.Now().UTC()
	if !approved {
		run.Stages[idx].Status = domain.StageFailed
		if run.Stages[idx].Message == "" {
			run.Stages[idx].Message = "gate denied"
		}
	}
	s.closeOutIfFinished(run)
	if err := s.pipelines.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	s.logger.Info("gate decision recorded", "run_id", runID, "stage", stage, "approved", approved, "approver", approver)
	events.Publish(s.hub, events.TopicPipelines, events.Event{Kind: "gate.recorded", Entity: run.Pipeline, Success: approved, Detail: map[string]string{"run_id": runID, "stage": stage}})
	return run, nil
}

// GetPipeline returns one pipeline definition.
func (s *Service) GetPipeline(ctx context.Context, name string) (*domain.Pipeline, error) {
	return s.pipelines.GetPipeline(ctx, name)
}

// ListPipelines returns every pipeline definition.
func (s *Service) ListPipelines(ctx context.Context) ([]domain.Pipeline, error) {
	return s.pipelines.ListPipelines(ctx)
}

// ListRuns returns recent runs for a pipeline, most recent first.
func (s *Service) ListRuns(ctx context.Context, pipelineName string, limit int) ([]domain.PipelineRun, error) {
	return s.pipelines.ListRunsByPipeline(ctx, pipelineName, limit)
}

// closeOutIfFinished settles the run status once all stages are terminal.
func (s *Service) closeOutIfFinished(run *domain.PipelineRun) {
	failed := false
	for _, stage := range run.Stages {
		switch stage.Status {
		case domain.StagePending, domain.StageRunning:
			return
		case domain.StageFailed:
			failed = true
		}
	}
	now := time.Now().UTC()
	run.CompletedAt = &now
	if failed {
		run.Status = domain.RunFailed
	} else {
		run.Status = domain.RunSuccess
	}
}

func stageIndex(run *domain.PipelineRun, stage string) int {
	for i, result := range run.Stages {
		if result.Stage == stage {
			return i
		}
	}
	return -1
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
