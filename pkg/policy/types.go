package policy

import (
	"time"

	"github.com/openfroyo/infractl/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block the run.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that block the run.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with infractl.
	Builtin bool `json:"builtin"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Operation is the operation the violation refers to, if any.
	Operation string `json:"operation,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that deny the run.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies see as `input`.
type Input struct {
	Environment string      `json:"environment"`
	Requested   []string    `json:"requested"`
	Steps       []StepInput `json:"steps"`
}

// StepInput is one planned operation.
type StepInput struct {
	Name        string   `json:"name"`
	Action      string   `json:"action"`
	Description string   `json:"description"`
	TargetEnvs  []string `json:"target_envs"`
	DependsOn   []string `json:"depends_on"`
}

// NewInput builds the policy input for plan.
func NewInput(plan *engine.Plan) *Input {
	in := &Input{
		Environment: string(plan.Environment),
		Requested:   append([]string{}, plan.Requested...),
		Steps:       make([]StepInput, 0, len(plan.Steps)),
	}
	for _, s := range plan.Steps {
		deps := append([]string{}, s.DependsOn...)
		in.Steps = append(in.Steps, StepInput{
			Name:        s.Name,
			Action:      string(s.Action),
			Description: s.Description,
			TargetEnvs:  s.TargetEnvs.Strings(),
			DependsOn:   deps,
		})
	}
	return in
}
