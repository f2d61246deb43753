package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// Adversarial test types.
const (
	TestEvasion   = "evasion_attack"
	TestPoisoning = "poisoning_attack_simulation"
)

// adversarialSteps are baseline evaluation, example generation and
// evaluation under attack.
const adversarialSteps = 3

// AdversarialParams are the parameters of an adversarial_test task.
type AdversarialParams struct {
	ModelID           string         `json:"model_id" validate:"required"`
	TestType          string         `json:"test_type" validate:"required,oneof=evasion_attack poisoning_attack_simulation"`
	DatasetIdentifier string         `json:"dataset_identifier"`
	AdversarialConfig map[string]any `json:"adversarial_config,omitempty"`
}

// AdversarialResult is the result of an adversarial_test task.
type AdversarialResult struct {
	ModelID             string         `json:"model_id"`
	TestType            string         `json:"test_type"`
	DatasetIdentifier   string         `json:"dataset_identifier"`
	AttackParams        map[string]any `json:"attack_params,omitempty"`
	AccuracyBaseline    float64        `json:"accuracy_baseline"`
	AccuracyUnderAttack float64        `json:"accuracy_under_attack"`
	RobustnessScore     float64        `json:"robustness_score"`
	Findings            []string       `json:"findings"`
}

// AdversarialHandler measures how much a model's accuracy degrades under
// an adversarial attack.
type AdversarialHandler struct {
	stepDelay time.Duration
}

// Validate implements task.Validator.
func (h *AdversarialHandler) Validate(raw json.RawMessage) (task.Plan, error) {
	p, err := decode[AdversarialParams](raw)
	if err != nil {
		return task.Plan{}, err
	}
	if _, err := epsilon(p.AdversarialConfig); err != nil {
		return task.Plan{}, err
	}
	return task.Plan{TotalSteps: adversarialSteps}, nil
}

// Execute implements task.Handler.
func (h *AdversarialHandler) Execute(ctx context.Context, raw json.RawMessage, progress task.ProgressSink) (any, error) {
	p, err := decode[AdversarialParams](raw)
	if err != nil {
		return nil, err
	}
	if p.DatasetIdentifier == "" {
		p.DatasetIdentifier = "default"
	}
	eps, err := epsilon(p.AdversarialConfig)
	if err != nil {
		return nil, err
	}

	steps := []string{"baseline evaluation", "adversarial example generation", "evaluation under attack"}
	for i, step := range steps {
		if err := pace(ctx, h.stepDelay); err != nil {
			return nil, fmt.Errorf("%s interrupted: %w", step, err)
		}
		progress(i+1, adversarialSteps)
	}

	baseline := 0.80 + 0.15*score(p.ModelID, p.DatasetIdentifier)
	underAttack := 0.10 + 0.40*score(p.ModelID, p.TestType, p.DatasetIdentifier)
	if eps > 0 {
		underAttack *= 1 - eps/2
	}
	robustness := underAttack / baseline

	return AdversarialResult{
		ModelID:             p.ModelID,
		TestType:            p.TestType,
		DatasetIdentifier:   p.DatasetIdentifier,
		AttackParams:        p.AdversarialConfig,
		AccuracyBaseline:    round(baseline, 3),
		AccuracyUnderAttack: round(underAttack, 3),
		RobustnessScore:     round(robustness, 3),
		Findings:            robustnessFindings(p.TestType, robustness),
	}, nil
}

// epsilon reads the optional perturbation budget from the attack config.
func epsilon(cfg map[string]any) (float64, error) {
	v, ok := cfg["epsilon"]
	if !ok {
		return 0, nil
	}
	eps, ok := v.(float64)
	if !ok || eps <= 0 || eps > 1 {
		return 0, fmt.Errorf("adversarial_config.epsilon: must be a number in (0, 1], got %v", v)
	}
	return eps, nil
}

func robustnessFindings(testType string, robustness float64) []string {
	var findings []string
	switch {
	case robustness < 0.3:
		findings = append(findings, fmt.Sprintf("model is highly vulnerable to %s", testType))
	case robustness < 0.6:
		findings = append(findings, fmt.Sprintf("model is moderately vulnerable to %s", testType))
	default:
		findings = append(findings, fmt.Sprintf("model is robust against %s", testType))
	}
	if testType == TestPoisoning && robustness < 0.6 {
		findings = append(findings, "training data provenance controls are recommended")
	}
	if testType == TestEvasion && robustness < 0.6 {
		findings = append(findings, "adversarial training or input preprocessing is recommended")
	}
	return findings
}
