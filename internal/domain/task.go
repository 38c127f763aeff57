package domain

import "time"

// TaskStatus is the runtime state of one step within a running workflow
// (SPEC_FULL.md §4.2 state machine).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Terminal reports whether status cannot transition further without operator
// intervention (resume/retry).
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskSkipped, TaskFailed:
		return true
	default:
		return false
	}
}

// TaskResult is what an agent handler returns from Handle.
type TaskResult struct {
	Success       bool              `json:"success"`
	Output        string            `json:"output,omitempty"`
	Artifacts     []string          `json:"artifacts,omitempty"`
	MemoryUpdates []string          `json:"memoryUpdates,omitempty"` // recordIds written during this step
	Error         string            `json:"error,omitempty"`
	ErrorKind     ErrorKind         `json:"errorKind,omitempty"`
}

// TaskState is the engine's runtime shadow of one PlanStep.
type TaskState struct {
	StepID      string     `json:"stepId"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
}

// Clone returns a deep copy of the task state.
func (t TaskState) Clone() TaskState {
	clone := t
	if t.StartedAt != nil {
		v := *t.StartedAt
		clone.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		clone.CompletedAt = &v
	}
	if t.Result != nil {
		r := *t.Result
		r.Artifacts = append([]string(nil), t.Result.Artifacts...)
		r.MemoryUpdates = append([]string(nil), t.Result.MemoryUpdates...)
		clone.Result = &r
	}
	return clone
}

// RunnerConfig snapshots the options a workflow was executed with, so that
// Resume can reconstruct identical scheduling behavior.
type RunnerConfig struct {
	Mode                 string `json:"mode"`
	MaxRetries           int    `json:"maxRetries"`
	ContinueOnFailure    bool   `json:"continueOnFailure"`
	CheckpointIntervalMs int    `json:"checkpointIntervalMs"`
	Parallelism          int    `json:"parallelism"`
}

// WorkflowCheckpoint is a durable snapshot of workflow state, sufficient to
// resume execution (SPEC_FULL.md §3/§4.2).
type WorkflowCheckpoint struct {
	CheckpointID    string                `json:"checkpointId"`
	WorkflowID      string                `json:"workflowId"`
	PlanID          string                `json:"planId"`
	CreatedAt       time.Time             `json:"createdAt"`
	TaskStates      map[string]TaskState  `json:"taskStates"`
	NextReadyTasks  []string              `json:"nextReadyTasks"`
	RunnerConfig    RunnerConfig          `json:"runnerConfig"`
}

// WorkflowStatus is the terminal outcome reported by Execute.
type WorkflowStatus string

const (
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowPartial   WorkflowStatus = "partial"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
	WorkflowTimedOut  WorkflowStatus = "timed-out"
)

// WorkflowResult is returned by Execute/Resume.
type WorkflowResult struct {
	WorkflowID      string               `json:"workflowId"`
	PlanID          string               `json:"planId"`
	Status          WorkflowStatus       `json:"status"`
	CompletedTasks  []string             `json:"completedTasks"`
	FailedTasks     []string             `json:"failedTasks"`
	SkippedTasks    []string             `json:"skippedTasks"`
	Duration        time.Duration        `json:"duration"`
	Checkpoints     []string             `json:"checkpoints"`
	TaskStates      map[string]TaskState `json:"taskStates"`
}
