// Package workflow implements the Workflow Engine: a dependency-resolving
// task scheduler with retries, checkpointing, and resumability
// (SPEC_FULL.md §4.2).
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/basegraph-labs/orchestrator/common/id"
	"github.com/basegraph-labs/orchestrator/internal/agent"
	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/queue"
)

// Options controls one Execute/Resume invocation.
type Options struct {
	Mode                 string // "sequential" or "parallel"
	MaxRetries           int    // default 3
	TimeoutMs            int    // 0 = unbounded
	ContinueOnFailure    bool
	CheckpointIntervalMs int // 0 = checkpoint after every round
	Parallelism          int // 0 = runtime.NumCPU() capped at 8
	DispatchStream       string
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = "sequential"
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	return o
}

func (o Options) runnerConfig() domain.RunnerConfig {
	return domain.RunnerConfig{
		Mode:                 o.Mode,
		MaxRetries:           o.MaxRetries,
		ContinueOnFailure:    o.ContinueOnFailure,
		CheckpointIntervalMs: o.CheckpointIntervalMs,
		Parallelism:          o.Parallelism,
	}
}

// Engine is the Workflow Engine.
type Engine struct {
	agents      *agent.Registry
	bus         eventbus.Bus
	checkpoints *CheckpointStore
	dispatch    queue.Producer // optional: mirrors ready-task dispatch in parallel mode
}

func New(agents *agent.Registry, bus eventbus.Bus, checkpoints *CheckpointStore, dispatch queue.Producer) *Engine {
	return &Engine{agents: agents, bus: bus, checkpoints: checkpoints, dispatch: dispatch}
}

// execution is the mutable state of one Execute/Resume run.
type execution struct {
	engine     *Engine
	workflowID string
	planID     string
	steps      []domain.PlanStep
	stepByID   map[string]domain.PlanStep
	dependents map[string][]string
	opts       Options
	pool       *Pool

	mu    sync.Mutex
	tasks map[string]domain.TaskState

	lastCheckpointAt time.Time
	checkpointIDs    []string
}

// Execute runs plan to completion (or to a terminal stopping condition:
// timeout, cancellation, or no more ready/running tasks).
func (e *Engine) Execute(ctx context.Context, plan domain.Plan, opts Options) (domain.WorkflowResult, error) {
	opts = opts.withDefaults()
	workflowID := id.NewString("wf")

	tasks := make(map[string]domain.TaskState, len(plan.Steps))
	for _, s := range plan.Steps {
		tasks[s.ID] = domain.TaskState{StepID: s.ID, Status: domain.TaskPending}
	}

	return e.run(ctx, workflowID, plan, opts, tasks)
}

// Resume re-hydrates a checkpoint and continues execution of plan under the
// checkpoint's (or the caller-overridden) runner config.
func (e *Engine) Resume(ctx context.Context, plan domain.Plan, checkpointID string, override *Options) (domain.WorkflowResult, error) {
	workflowID := plan.PlanID // checkpoints are looked up by workflow id, but callers that only have a plan pass its id as a fallback key
	cp, err := e.checkpoints.Load(ctx, workflowID, checkpointID)
	if err != nil {
		return domain.WorkflowResult{}, err
	}
	return e.ResumeFrom(ctx, plan, cp, override)
}

// ResumeFrom continues execution from an already-loaded checkpoint.
func (e *Engine) ResumeFrom(ctx context.Context, plan domain.Plan, cp domain.WorkflowCheckpoint, override *Options) (domain.WorkflowResult, error) {
	opts := Options{
		Mode:                 cp.RunnerConfig.Mode,
		MaxRetries:           cp.RunnerConfig.MaxRetries,
		ContinueOnFailure:    cp.RunnerConfig.ContinueOnFailure,
		CheckpointIntervalMs: cp.RunnerConfig.CheckpointIntervalMs,
		Parallelism:          cp.RunnerConfig.Parallelism,
	}
	if override != nil {
		opts = *override
	}
	opts = opts.withDefaults()

	tasks := make(map[string]domain.TaskState, len(plan.Steps))
	for _, s := range plan.Steps {
		prior, ok := cp.TaskStates[s.ID]
		if !ok {
			tasks[s.ID] = domain.TaskState{StepID: s.ID, Status: domain.TaskPending}
			continue
		}
		if prior.Status == domain.TaskRunning {
			prior.Status = domain.TaskReady
		}
		tasks[s.ID] = prior.Clone()
	}

	return e.run(ctx, cp.WorkflowID, plan, opts, tasks)
}

func (e *Engine) run(ctx context.Context, workflowID string, plan domain.Plan, opts Options, tasks map[string]domain.TaskState) (domain.WorkflowResult, error) {
	start := time.Now()

	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	stepByID := make(map[string]domain.PlanStep, len(plan.Steps))
	for _, s := range plan.Steps {
		stepByID[s.ID] = s
	}

	if cycle := detectCycle(plan.Steps); cycle {
		return domain.WorkflowResult{}, domain.NewError(domain.ErrDependencyCycle, "plan "+plan.PlanID+" has a dependency cycle", nil)
	}

	ex := &execution{
		engine:     e,
		workflowID: workflowID,
		planID:     plan.PlanID,
		steps:      plan.Steps,
		stepByID:   stepByID,
		dependents: buildDependents(plan.Steps),
		opts:       opts,
		tasks:      tasks,
	}

	if opts.Mode == "parallel" {
		pool, err := NewPool(opts.Parallelism)
		if err != nil {
			return domain.WorkflowResult{}, err
		}
		ex.pool = pool
		defer pool.Release()
	}

	e.publish(ctx, domain.EventWorkflowStarted, workflowStartedPayload{WorkflowID: workflowID, PlanID: plan.PlanID})
	promoteReady(ex)

	status := domain.WorkflowCompleted
loop:
	for {
		ready := collectReady(ex)
		if len(ready) == 0 {
			break
		}

		batch := ready
		if opts.Mode != "parallel" {
			batch = ready[:1]
		} else if opts.Parallelism > 0 && len(batch) > opts.Parallelism {
			batch = batch[:opts.Parallelism]
		}

		var wg sync.WaitGroup
		for _, stepID := range batch {
			ex.setStatus(stepID, domain.TaskRunning, func(t *domain.TaskState) {
				now := time.Now()
				t.StartedAt = &now
			})
			e.publish(ctx, domain.EventWorkflowTaskStarted, taskEventPayload{WorkflowID: workflowID, StepID: stepID})
			e.mirrorDispatch(ctx, ex, stepID)

			wg.Add(1)
			dispatch := func(stepID string) func() {
				return func() {
					defer wg.Done()
					defer func() {
						if r := recover(); r != nil {
							ex.setStatus(stepID, domain.TaskFailed, func(t *domain.TaskState) {
								now := time.Now()
								t.CompletedAt = &now
								t.LastError = fmt.Sprintf("%s: agent handler panicked: %v", domain.ErrAgentFailure, r)
							})
							e.publish(ctx, domain.EventWorkflowTaskFailed, taskEventPayload{WorkflowID: workflowID, StepID: stepID})
						}
					}()
					ex.runTask(ctx, stepID)
				}
			}(stepID)

			if opts.Mode == "parallel" {
				if err := ex.pool.Submit(ctx, dispatch); err != nil {
					wg.Done()
					ex.setStatus(stepID, domain.TaskFailed, func(t *domain.TaskState) {
						t.LastError = err.Error()
					})
				}
			} else {
				dispatch()
			}
		}
		wg.Wait()

		propagateSkips(ex, opts.ContinueOnFailure)
		promoteReady(ex)
		ex.maybeCheckpoint(ctx)

		if err := ctx.Err(); err != nil {
			if isDeadlineExceeded(err) {
				status = domain.WorkflowTimedOut
			} else {
				status = domain.WorkflowCancelled
			}
			break loop
		}
	}

	ex.finalCheckpoint(ctx)
	result := ex.buildResult(workflowID, plan.PlanID, start, status)
	result.Checkpoints = ex.checkpointIDs

	e.publishCompletion(ctx, result)
	return result, nil
}

func isDeadlineExceeded(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// runTask executes stepID to a terminal state, retrying per opts.MaxRetries
// with exponential backoff. The workflow engine reclassifies every
// non-Cancelled, non-InvalidInput handler error as AgentFailure
// (SPEC_FULL.md §7 propagation policy).
func (ex *execution) runTask(ctx context.Context, stepID string) {
	step := ex.stepByID[stepID]
	e := ex.engine

	handler, ok := e.agents.Lookup(step.Agent)
	if !ok {
		ex.setStatus(stepID, domain.TaskFailed, func(t *domain.TaskState) {
			now := time.Now()
			t.CompletedAt = &now
			t.LastError = fmt.Sprintf("no handler registered for agent %q", step.Agent)
		})
		e.publish(ctx, domain.EventWorkflowTaskFailed, taskEventPayload{WorkflowID: ex.workflowID, StepID: stepID})
		return
	}

	attempts := ex.getAttempts(stepID)
	for {
		attempts++

		if ctx.Err() != nil {
			ex.setStatus(stepID, domain.TaskFailed, func(t *domain.TaskState) {
				now := time.Now()
				t.Attempts = attempts
				t.CompletedAt = &now
				t.LastError = "cancelled"
			})
			e.publish(ctx, domain.EventWorkflowTaskFailed, taskEventPayload{WorkflowID: ex.workflowID, StepID: stepID})
			return
		}

		result, err := handler.Handle(ctx, agent.Task{
			WorkflowID: ex.workflowID, PlanID: ex.planID, Step: step, Attempt: attempts,
		})

		if err == nil && result.Success {
			ex.setStatus(stepID, domain.TaskCompleted, func(t *domain.TaskState) {
				now := time.Now()
				t.Attempts = attempts
				t.CompletedAt = &now
				r := result
				t.Result = &r
			})
			e.publish(ctx, domain.EventWorkflowTaskComplete, taskEventPayload{WorkflowID: ex.workflowID, StepID: stepID})
			return
		}

		kind := classify(err, result)
		retryable := kind != domain.ErrCancelled && kind != domain.ErrInvalidInput && attempts <= ex.opts.MaxRetries

		lastErr := result.Error
		if lastErr == "" && err != nil {
			lastErr = err.Error()
		}

		if !retryable {
			ex.setStatus(stepID, domain.TaskFailed, func(t *domain.TaskState) {
				now := time.Now()
				t.Attempts = attempts
				t.CompletedAt = &now
				t.LastError = lastErr
			})
			e.publish(ctx, domain.EventWorkflowTaskFailed, taskEventPayload{WorkflowID: ex.workflowID, StepID: stepID})
			return
		}

		backoff := retryBackoff(attempts)
		e.publish(ctx, domain.EventWorkflowTaskRetried, taskRetriedPayload{WorkflowID: ex.workflowID, StepID: stepID, Attempt: attempts, BackoffMs: backoff.Milliseconds()})

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			ex.setStatus(stepID, domain.TaskFailed, func(t *domain.TaskState) {
				now := time.Now()
				t.Attempts = attempts
				t.CompletedAt = &now
				t.LastError = "cancelled"
			})
			e.publish(ctx, domain.EventWorkflowTaskFailed, taskEventPayload{WorkflowID: ex.workflowID, StepID: stepID})
			return
		}
	}
}

func classify(err error, result domain.TaskResult) domain.ErrorKind {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = result.ErrorKind
	}
	if kind == domain.ErrCancelled || kind == domain.ErrInvalidInput {
		return kind
	}
	return domain.ErrAgentFailure
}

func retryBackoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * 5 * time.Second
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

func (ex *execution) getAttempts(stepID string) int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.tasks[stepID].Attempts
}

func (ex *execution) setStatus(stepID string, status domain.TaskStatus, mutate func(*domain.TaskState)) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	t := ex.tasks[stepID]
	t.Status = status
	if mutate != nil {
		mutate(&t)
	}
	ex.tasks[stepID] = t
}

func (ex *execution) snapshot() map[string]domain.TaskState {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	out := make(map[string]domain.TaskState, len(ex.tasks))
	for k, v := range ex.tasks {
		out[k] = v.Clone()
	}
	return out
}

// collectReady returns pending steps whose dependencies are all completed,
// in declaration order (tie-break rule from SPEC_FULL.md §4.2).
func collectReady(ex *execution) []string {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	var ready []string
	for _, s := range ex.steps {
		t := ex.tasks[s.ID]
		if t.Status != domain.TaskPending && t.Status != domain.TaskReady {
			continue
		}
		allDepsDone := true
		for _, dep := range s.Dependencies {
			if ex.tasks[dep].Status != domain.TaskCompleted {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, s.ID)
		}
	}
	return ready
}

func promoteReady(ex *execution) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for _, s := range ex.steps {
		t := ex.tasks[s.ID]
		if t.Status != domain.TaskPending {
			continue
		}
		allDepsDone := true
		for _, dep := range s.Dependencies {
			if ex.tasks[dep].Status != domain.TaskCompleted {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			t.Status = domain.TaskReady
			ex.tasks[s.ID] = t
		}
	}
}

// propagateSkips marks every transitive dependent of a failed task as
// skipped, unless continueOnFailure is set.
func propagateSkips(ex *execution, continueOnFailure bool) {
	if continueOnFailure {
		return
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()

	var failed []string
	for id, t := range ex.tasks {
		if t.Status == domain.TaskFailed {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)

	queue := append([]string(nil), failed...)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range ex.dependents[cur] {
			if seen[dep] {
				continue
			}
			t := ex.tasks[dep]
			if t.Status == domain.TaskCompleted || t.Status == domain.TaskFailed || t.Status == domain.TaskSkipped {
				continue
			}
			t.Status = domain.TaskSkipped
			ex.tasks[dep] = t
			seen[dep] = true
			queue = append(queue, dep)
		}
	}
}

func buildDependents(steps []domain.PlanStep) map[string][]string {
	out := make(map[string][]string)
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			out[dep] = append(out[dep], s.ID)
		}
	}
	return out
}

// detectCycle runs a Kahn's-algorithm pre-pass over the step graph.
func detectCycle(steps []domain.PlanStep) bool {
	indegree := make(map[string]int, len(steps))
	adj := make(map[string][]string)
	for _, s := range steps {
		if _, ok := indegree[s.ID]; !ok {
			indegree[s.ID] = 0
		}
		for _, dep := range s.Dependencies {
			adj[dep] = append(adj[dep], s.ID)
			indegree[s.ID]++
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range adj[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return processed != len(steps)
}

func (ex *execution) maybeCheckpoint(ctx context.Context) {
	interval := time.Duration(ex.opts.CheckpointIntervalMs) * time.Millisecond
	if interval > 0 && time.Since(ex.lastCheckpointAt) < interval {
		return
	}
	ex.writeCheckpoint(ctx)
}

func (ex *execution) finalCheckpoint(ctx context.Context) domain.WorkflowCheckpoint {
	return ex.writeCheckpoint(ctx)
}

func (ex *execution) writeCheckpoint(ctx context.Context) domain.WorkflowCheckpoint {
	e := ex.engine
	cp := domain.WorkflowCheckpoint{
		CheckpointID:   id.NewString("ckpt"),
		WorkflowID:     ex.workflowID,
		PlanID:         ex.planID,
		CreatedAt:      time.Now(),
		TaskStates:     ex.snapshot(),
		NextReadyTasks: collectReady(ex),
		RunnerConfig:   ex.opts.runnerConfig(),
	}

	if e.checkpoints != nil {
		if err := e.checkpoints.Save(ctx, cp); err != nil {
			slog.ErrorContext(ctx, "failed to write workflow checkpoint", "workflowId", ex.workflowID, "error", err)
		} else {
			ex.checkpointIDs = append(ex.checkpointIDs, cp.CheckpointID)
			ex.lastCheckpointAt = time.Now()
			e.publish(ctx, domain.EventWorkflowCheckpoint, checkpointPayload{WorkflowID: ex.workflowID, CheckpointID: cp.CheckpointID})
		}
	}
	return cp
}

func (ex *execution) buildResult(workflowID, planID string, start time.Time, status domain.WorkflowStatus) domain.WorkflowResult {
	states := ex.snapshot()

	var completed, failed, skipped []string
	for _, s := range ex.steps {
		switch states[s.ID].Status {
		case domain.TaskCompleted:
			completed = append(completed, s.ID)
		case domain.TaskFailed:
			failed = append(failed, s.ID)
		case domain.TaskSkipped:
			skipped = append(skipped, s.ID)
		}
	}

	if status == domain.WorkflowCompleted {
		switch {
		case len(failed) > 0 && len(completed) > 0:
			status = domain.WorkflowPartial
		case len(failed) > 0:
			status = domain.WorkflowFailed
		}
	}

	return domain.WorkflowResult{
		WorkflowID:     workflowID,
		PlanID:         planID,
		Status:         status,
		CompletedTasks: completed,
		FailedTasks:    failed,
		SkippedTasks:   skipped,
		Duration:       time.Since(start),
		TaskStates:     states,
	}
}

func (e *Engine) mirrorDispatch(ctx context.Context, ex *execution, stepID string) {
	if e.dispatch == nil || ex.opts.DispatchStream == "" || ex.opts.Mode != "parallel" {
		return
	}
	step := ex.stepByID[stepID]
	if err := e.dispatch.Dispatch(ctx, queue.DispatchMessage{
		WorkflowID: ex.workflowID, StepID: stepID, Agent: string(step.Agent),
		Attempt: ex.getAttempts(stepID) + 1,
	}); err != nil {
		slog.WarnContext(ctx, "failed to mirror task dispatch", "workflowId", ex.workflowID, "stepId", stepID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, t domain.EventType, payload any) {
	if e.bus == nil {
		return
	}
	evt, err := domain.NewEvent(id.NewEventID(), t, payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal workflow event", "type", t, "error", err)
		return
	}
	e.bus.Publish(ctx, evt)
}

func (e *Engine) publishCompletion(ctx context.Context, result domain.WorkflowResult) {
	t := domain.EventWorkflowCompleted
	if result.Status == domain.WorkflowFailed {
		t = domain.EventWorkflowFailed
	}
	e.publish(ctx, t, workflowCompletedPayload{
		WorkflowID: result.WorkflowID, Status: string(result.Status),
		Completed: len(result.CompletedTasks), Failed: len(result.FailedTasks), Skipped: len(result.SkippedTasks),
	})
}

type workflowStartedPayload struct {
	WorkflowID string `json:"workflowId"`
	PlanID     string `json:"planId"`
}

type taskEventPayload struct {
	WorkflowID string `json:"workflowId"`
	StepID     string `json:"stepId"`
}

type taskRetriedPayload struct {
	WorkflowID string `json:"workflowId"`
	StepID     string `json:"stepId"`
	Attempt    int    `json:"attempt"`
	BackoffMs  int64  `json:"backoffMs"`
}

type checkpointPayload struct {
	WorkflowID   string `json:"workflowId"`
	CheckpointID string `json:"checkpointId"`
}

type workflowCompletedPayload struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
}
