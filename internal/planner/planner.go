// Package planner implements the Planner Core: a deterministic function
// from a PlannerInput to a Plan (SPEC_FULL.md §4.1). CreatePlan is pure
// except for two side effects it performs on success — publishing
// plan.created and enqueueing the plan — and a best-effort durability
// write that never fails the call.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/basegraph-labs/orchestrator/common/id"
	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/execqueue"
)

// Core is the Planner Core. It owns no state beyond its collaborators: the
// Execution Queue it enqueues onto, the Event Bus it publishes to, and the
// directory plan DTOs are persisted under.
type Core struct {
	queue     execqueue.Queue
	bus       eventbus.Bus
	outputDir string
}

// New constructs a Planner Core. outputDir is where plan DTOs are persisted
// (SPEC_FULL.md §6, default "planner/output").
func New(queue execqueue.Queue, bus eventbus.Bus, outputDir string) *Core {
	return &Core{queue: queue, bus: bus, outputDir: outputDir}
}

// CreatePlan runs the full composition algorithm described in
// SPEC_FULL.md §4.1 and returns a fully-formed Plan, or fails with an
// *domain.Error of kind InvalidInput or Infeasible. It never partially
// mutates the queue or bus on failure.
func (c *Core) CreatePlan(ctx context.Context, input domain.PlannerInput) (domain.Plan, error) {
	if err := validate(input); err != nil {
		return domain.Plan{}, err
	}

	steps, err := compose(input)
	if err != nil {
		return domain.Plan{}, err
	}

	steps, costSensitive := applyPreferences(steps, input.Preferences)

	if input.Constraints != nil {
		steps, err = applyForbidden(steps, input.Constraints.ForbiddenAgents)
		if err != nil {
			return domain.Plan{}, err
		}
		steps, err = applyAllowed(steps, input.Constraints.AllowedAgents)
		if err != nil {
			return domain.Plan{}, err
		}
		steps, err = applyMaxDuration(steps, input.Constraints.MaxDuration)
		if err != nil {
			return domain.Plan{}, err
		}
	}

	steps = assignIDsAndDependencies(steps)

	plan := domain.Plan{
		PlanID:      id.NewString("plan"),
		Description: input.Request,
		Steps:       steps,
		Metadata: domain.PlanMetadata{
			CreatedAt:         time.Now(),
			Version:           1,
			Source:            "planner-core",
			CostSensitive:     costSensitive,
			EstimatedDuration: sumDuration(steps),
		},
	}
	if input.Metadata != nil {
		if p, ok := input.Metadata["priority"]; ok {
			plan.Metadata.Priority = p
		}
	}

	c.queue.Enqueue(ctx, plan.Clone())

	if c.bus != nil {
		evt, evErr := domain.NewEvent(id.NewEventID(), domain.EventPlanCreated, planCreatedPayload{
			PlanID:      plan.PlanID,
			Description: plan.Description,
			StepCount:   len(plan.Steps),
		})
		if evErr == nil {
			c.bus.Publish(ctx, evt)
		}
	}

	c.persist(ctx, plan)

	return plan, nil
}

type planCreatedPayload struct {
	PlanID      string `json:"planId"`
	Description string `json:"description"`
	StepCount   int    `json:"stepCount"`
}

// persist writes the plan DTO to <outputDir>/<planId>.json. Failures are
// logged and otherwise ignored: the in-memory plan and its queue entry
// remain authoritative, per SPEC_FULL.md §4.1 step 9.
func (c *Core) persist(ctx context.Context, plan domain.Plan) {
	if c.outputDir == "" {
		return
	}
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		slog.ErrorContext(ctx, "planner: failed to create output dir", slog.Any("error", err))
		return
	}
	path := filepath.Join(c.outputDir, plan.PlanID+".json")
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "planner: failed to marshal plan", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.ErrorContext(ctx, "planner: failed to write plan output", slog.String("path", path), slog.Any("error", err))
	}
}

func validate(input domain.PlannerInput) error {
	if input.Request == "" {
		return domain.NewError(domain.ErrInvalidInput, "request must not be empty", nil)
	}
	if input.Constraints != nil {
		for a := range input.Constraints.ForbiddenAgents {
			if input.Constraints.AllowedAgents[a] {
				return domain.NewError(domain.ErrInvalidInput,
					fmt.Sprintf("agent %q is both forbidden and allowed", a), nil)
			}
		}
	}
	return nil
}

func compose(_ domain.PlannerInput) ([]domain.PlanStep, error) {
	steps := make([]domain.PlanStep, 0, len(canonicalSequence))
	for _, c := range canonicalSequence {
		steps = append(steps, domain.PlanStep{
			Type:              c.stepType,
			Agent:             c.agent,
			Description:       fmt.Sprintf("%s phase", c.stepType),
			EstimatedDuration: c.duration,
			Complexity:        domain.ComplexityMedium,
		})
	}
	return steps, nil
}

// applyPreferences scales durations and appends the review step per
// SPEC_FULL.md §4.1 step 3. Quality wins when both speed and quality are set.
func applyPreferences(steps []domain.PlanStep, prefs *domain.PlannerPreferences) ([]domain.PlanStep, bool) {
	if prefs == nil {
		return steps, false
	}

	multiplier := 1.0
	appendReview := false
	switch {
	case prefs.PrioritizeQuality:
		multiplier = 1.25
		appendReview = true
	case prefs.PrioritizeSpeed:
		multiplier = 0.75
	}

	if multiplier != 1.0 {
		for i := range steps {
			steps[i].EstimatedDuration = scaleDuration(steps[i].EstimatedDuration, multiplier)
		}
	}

	if appendReview {
		steps = append(steps, domain.PlanStep{
			Type:              domain.StepReview,
			Agent:             domain.AgentDocs,
			Description:       "review phase",
			EstimatedDuration: scaleDuration(reviewStepBaseDuration, multiplier),
			Complexity:        domain.ComplexityLow,
		})
	}

	return steps, prefs.MinimizeCost
}

func scaleDuration(base int, multiplier float64) int {
	return int(math.Ceil(float64(base) * multiplier))
}

// applyForbidden remaps any step whose agent is forbidden, per the fixed
// one-hop substitution table. Fails Infeasible if no substitute exists or
// the substitute is itself forbidden.
func applyForbidden(steps []domain.PlanStep, forbidden map[domain.AgentID]bool) ([]domain.PlanStep, error) {
	if len(forbidden) == 0 {
		return steps, nil
	}
	for i, s := range steps {
		if !forbidden[s.Agent] {
			continue
		}
		sub, ok := forbiddenSubstitution[s.Agent]
		if !ok || forbidden[sub] {
			return nil, domain.NewError(domain.ErrInfeasible,
				fmt.Sprintf("no feasible substitute for forbidden agent %q on step %q", s.Agent, s.Type), nil)
		}
		steps[i].Agent = sub
	}
	return steps, nil
}

// applyAllowed remaps any step whose agent falls outside a non-empty
// allow-list, using the same substitution table as applyForbidden.
func applyAllowed(steps []domain.PlanStep, allowed map[domain.AgentID]bool) ([]domain.PlanStep, error) {
	if len(allowed) == 0 {
		return steps, nil
	}
	for i, s := range steps {
		if allowed[s.Agent] {
			continue
		}
		sub, ok := forbiddenSubstitution[s.Agent]
		if !ok || !allowed[sub] {
			return nil, domain.NewError(domain.ErrInfeasible,
				fmt.Sprintf("no allowed substitute for agent %q on step %q", s.Agent, s.Type), nil)
		}
		steps[i].Agent = sub
	}
	return steps, nil
}

// applyMaxDuration drops optional steps, in optionalDropOrder, until total
// duration fits within maxDuration minutes. A nil maxDuration means the
// constraint isn't set (unbounded); maxDuration == 0 is an explicit zero
// budget and is infeasible for any non-empty plan.
func applyMaxDuration(steps []domain.PlanStep, maxDuration *int) ([]domain.PlanStep, error) {
	if maxDuration == nil {
		return steps, nil
	}
	if *maxDuration == 0 {
		if len(steps) == 0 {
			return steps, nil
		}
		return nil, domain.NewError(domain.ErrInfeasible,
			fmt.Sprintf("plan duration %d exceeds maxDuration 0", sumDuration(steps)), nil)
	}
	budget := *maxDuration
	for sumDuration(steps) > budget {
		dropped := false
		for _, t := range optionalDropOrder {
			idx := indexOfType(steps, t)
			if idx >= 0 {
				steps = append(steps[:idx], steps[idx+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return nil, domain.NewError(domain.ErrInfeasible,
				fmt.Sprintf("plan duration %d exceeds maxDuration %d after dropping all optional steps", sumDuration(steps), budget), nil)
		}
	}
	return steps, nil
}

func indexOfType(steps []domain.PlanStep, t domain.StepType) int {
	for i, s := range steps {
		if s.Type == t {
			return i
		}
	}
	return -1
}

func sumDuration(steps []domain.PlanStep) int {
	total := 0
	for _, s := range steps {
		total += s.EstimatedDuration
	}
	return total
}

// assignIDsAndDependencies assigns seq_N ids in declaration order and makes
// each step depend on its immediate predecessor; if steps were removed,
// dependencies collapse transitively since they are rebuilt from the final
// ordered slice rather than from the original canonical positions.
func assignIDsAndDependencies(steps []domain.PlanStep) []domain.PlanStep {
	for i := range steps {
		steps[i].ID = fmt.Sprintf("seq_%d", i+1)
		if i == 0 {
			steps[i].Dependencies = nil
		} else {
			steps[i].Dependencies = []string{steps[i-1].ID}
		}
	}
	return steps
}
