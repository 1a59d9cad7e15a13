package domain

import "time"

// GateType distinguishes human approval gates from automated condition
// gates.
type GateType string

const (
	GateManual    GateType = "manual"
	GateAutomated GateType = "automated"
)

// DeploymentGate records how a stage transition is authorized. Gate
// satisfaction is decided by an external collaborator; the core only
// records the decision. TimeoutHours is metadata for the approval tracker,
// not enforced here.
type DeploymentGate struct {
	Type         GateType          `json:"type" yaml:"type"`
	Approvers    []string          `json:"approvers,omitempty" yaml:"approvers,omitempty"`
	TimeoutHours int               `json:"timeout_hours,omitempty" yaml:"timeout_hours,omitempty"`
	Conditions   map[string]string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// PipelineStage is one step in an ordered, dependency-linked pipeline.
type PipelineStage struct {
	Name      string          `json:"name" yaml:"name"`
	DependsOn []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Gate      *DeploymentGate `json:"gate,omitempty" yaml:"gate,omitempty"`
}

// Pipeline describes a build/test/deploy sequence and its execution
// limits.
type Pipeline struct {
	Name              string          `json:"name"`
	Stages            []PipelineStage `json:"stages"`
	TimeoutMinutes    int             `json:"timeout_minutes"`
	MaxConcurrentRuns int             `json:"max_concurrent_runs"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Stage returns the named stage, if present.
func (p *Pipeline) Stage(name string) (PipelineStage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return PipelineStage{}, false
}

// RunStatus describes the lifecycle of a pipeline run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// StageStatus describes the recorded outcome of a single stage.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// StageResult is the recorded outcome of a stage within a run, including
// any gate decision taken for it.
type StageResult struct {
	Stage        string      `json:"stage"`
	Status       StageStatus `json:"status"`
	Message      string      `json:"message,omitempty"`
	GateApproved *bool       `json:"gate_approved,omitempty"`
	GateApprover string      `json:"gate_approver,omitempty"`
	GateNote     string      `json:"gate_note,omitempty"`
	RecordedAt   time.Time   `json:"recorded_at"`
}

// PipelineRun records one execution of a pipeline. The core tracks status
// and timing; it never executes stages.
type PipelineRun struct {
	ID          string        `json:"id"`
	Pipeline    string        `json:"pipeline"`
	Status      RunStatus     `json:"status"`
	TriggeredBy string        `json:"triggered_by"`
	Stages      []StageResult `json:"stages"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
