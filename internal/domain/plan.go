// Package domain holds the data model shared by every orchestrator
// component: plans and steps (Planner Core), the task state machine and
// checkpoints (Workflow Engine), and the error taxonomy shared across all
// four subsystems.
package domain

import "time"

// StepType enumerates the canonical kinds of work a PlanStep performs.
type StepType string

const (
	StepAnalysis      StepType = "analysis"
	StepDesign        StepType = "design"
	StepImplementation StepType = "implementation"
	StepQA            StepType = "quality-assurance"
	StepGovernance    StepType = "governance"
	StepReview        StepType = "review"
)

// Complexity is a coarse effort estimate attached to a PlanStep.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// AgentID names the handler responsible for a PlanStep.
type AgentID string

const (
	AgentPlanner        AgentID = "planner"
	AgentBrain          AgentID = "brain"
	AgentDeveloper      AgentID = "developer"
	AgentQA             AgentID = "qa"
	AgentDocs           AgentID = "docs"
)

// PlannerInput is the request the Planner Core turns into a Plan.
type PlannerInput struct {
	Request     string             `json:"request"`
	Context     *PlannerContext    `json:"context,omitempty"`
	Preferences *PlannerPreferences `json:"preferences,omitempty"`
	Constraints *PlannerConstraints `json:"constraints,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// PlannerContext carries optional project context for plan composition.
type PlannerContext struct {
	TechStack         []string `json:"techStack,omitempty"`
	ExistingArtifacts []string `json:"existingArtifacts,omitempty"`
	ProjectType       string   `json:"projectType,omitempty"`
}

// PlannerPreferences tune duration and step composition.
type PlannerPreferences struct {
	PrioritizeSpeed   bool `json:"prioritizeSpeed,omitempty"`
	PrioritizeQuality bool `json:"prioritizeQuality,omitempty"`
	MinimizeCost      bool `json:"minimizeCost,omitempty"`
}

// PlannerConstraints bound the set of feasible plans.
type PlannerConstraints struct {
	MaxDuration      *int            `json:"maxDuration,omitempty"` // minutes; nil = unbounded, 0 = infeasible for a non-empty plan
	ForbiddenAgents  map[AgentID]bool `json:"forbiddenAgents,omitempty"`
	AllowedAgents    map[AgentID]bool `json:"allowedAgents,omitempty"`
	RequiredAgents   map[AgentID]bool `json:"requiredAgents,omitempty"`
}

// PlanStep is one unit of work in a Plan.
type PlanStep struct {
	ID                string     `json:"id"`
	Type              StepType   `json:"type"`
	Agent             AgentID    `json:"agent"`
	Description       string     `json:"description"`
	Dependencies      []string   `json:"dependencies"`
	EstimatedDuration int        `json:"estimatedDuration"` // minutes
	Complexity        Complexity `json:"complexity"`
	ExpectedOutputs   []string   `json:"expectedOutputs,omitempty"`
	Risk              string     `json:"risk,omitempty"`
	RequiredSkills    []string   `json:"requiredSkills,omitempty"`
	Prerequisites     []string   `json:"prerequisites,omitempty"`
	SuccessCriteria   []string   `json:"successCriteria,omitempty"`
}

// Clone returns a deep copy of the step.
func (s PlanStep) Clone() PlanStep {
	clone := s
	clone.Dependencies = append([]string(nil), s.Dependencies...)
	clone.ExpectedOutputs = append([]string(nil), s.ExpectedOutputs...)
	clone.RequiredSkills = append([]string(nil), s.RequiredSkills...)
	clone.Prerequisites = append([]string(nil), s.Prerequisites...)
	clone.SuccessCriteria = append([]string(nil), s.SuccessCriteria...)
	return clone
}

// PlanMetadata carries bookkeeping fields attached to a Plan.
type PlanMetadata struct {
	CreatedAt         time.Time `json:"createdAt"`
	Version           int       `json:"version"`
	Priority          string    `json:"priority,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	EstimatedDuration int       `json:"estimatedDuration"`
	Source            string    `json:"source,omitempty"`
	CostSensitive     bool      `json:"costSensitive,omitempty"`
}

// Plan is the deterministic output of the Planner Core.
type Plan struct {
	PlanID      string       `json:"planId"`
	Description string       `json:"description"`
	Steps       []PlanStep   `json:"steps"`
	Metadata    PlanMetadata `json:"metadata"`
}

// Clone returns a deep copy of the plan; every operation that hands a Plan
// across a component boundary (Planner Core -> Execution Queue -> Workflow
// Engine) does so via Clone to keep the data model value-like (SPEC_FULL.md §4.1).
func (p Plan) Clone() Plan {
	clone := p
	clone.Steps = make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		clone.Steps[i] = s.Clone()
	}
	clone.Metadata.Tags = append([]string(nil), p.Metadata.Tags...)
	return clone
}

// TotalDuration sums EstimatedDuration across all steps.
func (p Plan) TotalDuration() int {
	total := 0
	for _, s := range p.Steps {
		total += s.EstimatedDuration
	}
	return total
}
