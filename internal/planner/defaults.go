package planner

import "github.com/basegraph-labs/orchestrator/internal/domain"

// canonicalStep is a template entry in the fixed composition order.
type canonicalStep struct {
	stepType domain.StepType
	agent    domain.AgentID
	duration int // minutes, before preference multipliers
	optional bool
}

// canonicalSequence is the fixed step composition every plan starts from:
// analysis -> design -> implementation -> quality-assurance -> governance.
// Durations are baseline estimates; preferences scale them, forbidden/allowed
// constraints may remap the agent, and maxDuration may drop optional steps.
var canonicalSequence = []canonicalStep{
	{stepType: domain.StepAnalysis, agent: domain.AgentPlanner, duration: 30},
	{stepType: domain.StepDesign, agent: domain.AgentPlanner, duration: 45},
	{stepType: domain.StepImplementation, agent: domain.AgentDeveloper, duration: 90},
	{stepType: domain.StepQA, agent: domain.AgentQA, duration: 45},
	{stepType: domain.StepGovernance, agent: domain.AgentDocs, duration: 20, optional: true},
}

// reviewStepBaseDuration is the review step's baseline duration before the
// preference multiplier is applied (the review step only ever exists when
// prioritizeQuality is set, so it always carries the 1.25 factor).
const reviewStepBaseDuration = 20

// forbiddenSubstitution is the fixed one-hop remap table used when a step's
// agent is forbidden or outside an allow-list (SPEC_FULL.md §4.1 step 4/5).
// There is no chained fallback: if the substitute is itself disallowed, the
// plan is infeasible.
var forbiddenSubstitution = map[domain.AgentID]domain.AgentID{
	domain.AgentPlanner:   domain.AgentBrain,
	domain.AgentDeveloper: domain.AgentBrain,
	domain.AgentQA:        domain.AgentDeveloper,
	domain.AgentDocs:      domain.AgentDeveloper,
}

// optionalDropOrder is the order in which optional steps are dropped to
// satisfy a maxDuration constraint. "docs" names the governance step's
// default agent rather than a distinct step type (the data model has no
// standalone docs StepType), so dropping the governance step covers it and
// the list has no separate docs entry.
var optionalDropOrder = []domain.StepType{domain.StepGovernance, domain.StepReview}
