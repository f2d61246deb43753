package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// Scenario outcomes of a breach and attack simulation.
const (
	OutcomeExploited = "exploited"
	OutcomeDetected  = "detected"
	OutcomeBlocked   = "blocked"
)

// Defaults of the optional bas_simulation parameters.
const (
	DefaultSimulationName = "unnamed_simulation"
	DefaultTargetScope    = "default"
)

// BASParams are the parameters of a bas_simulation task. Scenarios is
// accepted as an alias of AttackScenarios.
type BASParams struct {
	SimulationName  string         `json:"simulation_name"`
	TargetScope     string         `json:"target_scope"`
	AttackScenarios []string       `json:"attack_scenarios" validate:"required,min=1,dive,required"`
	Scenarios       []string       `json:"scenarios,omitempty" validate:"-"`
	RLAgentConfig   map[string]any `json:"rl_agent_config,omitempty"`
}

func (p *BASParams) normalize() {
	if len(p.AttackScenarios) == 0 {
		p.AttackScenarios = p.Scenarios
	}
	p.Scenarios = nil
	if p.SimulationName == "" {
		p.SimulationName = DefaultSimulationName
	}
	if p.TargetScope == "" {
		p.TargetScope = DefaultTargetScope
	}
}

// ScenarioResult is the outcome of one attack scenario.
type ScenarioResult struct {
	Scenario         string `json:"scenario"`
	Outcome          string `json:"outcome"`
	ControlsBypassed int    `json:"controls_bypassed"`
}

// BASResult is the result of a bas_simulation task.
type BASResult struct {
	SimulationName           string           `json:"simulation_name"`
	TargetScope              string           `json:"target_scope"`
	AttackScenariosTotal     int              `json:"attack_scenarios_total"`
	AttackScenariosCompleted int              `json:"attack_scenarios_completed"`
	Scenarios                []ScenarioResult `json:"scenarios"`
	FindingsSummary          string           `json:"findings_summary"`
	RLAgentConfig            map[string]any   `json:"rl_agent_config,omitempty"`
}

// BASHandler replays attack scenarios against a target scope, one scenario
// per progress step.
type BASHandler struct {
	stepDelay time.Duration
}

// Validate implements task.Validator.
func (h *BASHandler) Validate(raw json.RawMessage) (task.Plan, error) {
	p, err := decode[BASParams](raw)
	if err != nil {
		return task.Plan{}, err
	}
	return task.Plan{TotalSteps: len(p.AttackScenarios)}, nil
}

// Execute implements task.Handler.
func (h *BASHandler) Execute(ctx context.Context, raw json.RawMessage, progress task.ProgressSink) (any, error) {
	p, err := decode[BASParams](raw)
	if err != nil {
		return nil, err
	}

	total := len(p.AttackScenarios)
	result := BASResult{
		SimulationName:       p.SimulationName,
		TargetScope:          p.TargetScope,
		AttackScenariosTotal: total,
		Scenarios:            make([]ScenarioResult, 0, total),
		RLAgentConfig:        p.RLAgentConfig,
	}

	exploited, bypassed := 0, 0
	for i, scenario := range p.AttackScenarios {
		if err := pace(ctx, h.stepDelay); err != nil {
			return nil, fmt.Errorf("simulation interrupted at scenario %q: %w", scenario, err)
		}

		r := simulate(p.TargetScope, scenario)
		if r.Outcome == OutcomeExploited {
			exploited++
		}
		bypassed += r.ControlsBypassed

		result.Scenarios = append(result.Scenarios, r)
		result.AttackScenariosCompleted = i + 1
		progress(i+1, total)
	}

	result.FindingsSummary = fmt.Sprintf("%d of %d scenarios exploited, %d controls bypassed",
		exploited, total, bypassed)
	return result, nil
}

func simulate(scope, scenario string) ScenarioResult {
	s := score(scope, scenario)
	r := ScenarioResult{Scenario: scenario}
	switch {
	case s >= 0.6:
		r.Outcome = OutcomeExploited
		r.ControlsBypassed = 1 + int((s-0.6)*5)
	case s >= 0.3:
		r.Outcome = OutcomeDetected
		r.ControlsBypassed = 1
	default:
		r.Outcome = OutcomeBlocked
	}
	return r
}
