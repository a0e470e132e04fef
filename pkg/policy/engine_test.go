package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/infractl/pkg/engine"
)

func testPlan(env engine.Environment, steps ...engine.PlanStep) *engine.Plan {
	for i := range steps {
		steps[i].Order = i
		if steps[i].Action == "" {
			steps[i].Action = engine.StepRun
			if !steps[i].TargetEnvs.Includes(env) {
				steps[i].Action = engine.StepSkip
			}
		}
	}
	return &engine.Plan{Environment: env, Steps: steps}
}

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
}

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()
	expected := []string{"operation-naming", "prod-wildcard-targets", "untargeted-operations"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Policy %d: expected %s, got %s", i, name, policies[i].Name)
		}
		if !policies[i].Builtin {
			t.Errorf("Policy %s should be marked built-in", name)
		}
		if policies[i].Severity.Blocking() {
			t.Errorf("Built-in policy %s must not block", name)
		}
	}

	bare, err := NewEngine(logger, WithoutBuiltins())
	if err != nil {
		t.Fatal(err)
	}
	if n := len(bare.ListPolicies()); n != 0 {
		t.Errorf("Expected no policies, got %d", n)
	}
}

func TestEvaluatePlan_Builtins(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name     string
		plan     *engine.Plan
		policies map[string]string // policy -> operation
	}{
		{
			name: "clean plan",
			plan: testPlan(engine.EnvProd,
				engine.PlanStep{Name: "deploy-app", TargetEnvs: engine.OnlyEnvironments(engine.EnvProd)},
			),
		},
		{
			name: "camel case name",
			plan: testPlan(engine.EnvLocal,
				engine.PlanStep{Name: "deployApp", TargetEnvs: engine.OnlyEnvironments(engine.EnvLocal)},
			),
			policies: map[string]string{"operation-naming": "deployApp"},
		},
		{
			name: "wildcard in prod",
			plan: testPlan(engine.EnvProd,
				engine.PlanStep{Name: "rotate-keys", TargetEnvs: engine.AllEnvironments()},
			),
			policies: map[string]string{"prod-wildcard-targets": "rotate-keys"},
		},
		{
			name: "wildcard in stage",
			plan: testPlan(engine.EnvStage,
				engine.PlanStep{Name: "rotate-keys", TargetEnvs: engine.AllEnvironments()},
			),
		},
		{
			name: "untargeted",
			plan: testPlan(engine.EnvStage,
				engine.PlanStep{Name: "orphan"},
			),
			policies: map[string]string{"untargeted-operations": "orphan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluatePlan(context.Background(), tt.plan)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if !result.Allowed {
				t.Errorf("Built-in policies must not deny, got %+v", result.Violations)
			}
			if len(result.EvaluatedPolicies) != 3 {
				t.Errorf("Expected 3 evaluated policies, got %v", result.EvaluatedPolicies)
			}
			if len(result.Violations) != len(tt.policies) {
				t.Fatalf("Expected %d violations, got %+v", len(tt.policies), result.Violations)
			}
			for _, v := range result.Violations {
				op, ok := tt.policies[v.Policy]
				if !ok {
					t.Errorf("Unexpected violation from %s", v.Policy)
					continue
				}
				if v.Operation != op {
					t.Errorf("Expected operation %s, got %s", op, v.Operation)
				}
			}
		})
	}
}

const freezePolicy = `# Nothing destructive runs in prod.
package infractl.freeze

import rego.v1

deny contains violation if {
	input.environment == "prod"
	some step in input.steps
	step.action == "run"
	startswith(step.name, "destroy-")
	violation := {
		"message": sprintf("%s is frozen in prod", [step.name]),
		"operation": step.name,
	}
}

deny contains msg if {
	input.environment == "prod"
	count(input.steps) > 3
	msg := "too many operations for one prod run"
}
`

func TestAdmit(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, WithoutBuiltins())
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	writePolicy(t, dir, "freeze.rego", freezePolicy)
	n, err := eng.LoadPolicies(context.Background(), dir)
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 policy loaded, got %d", n)
	}

	p, err := eng.GetPolicy("freeze")
	if err != nil {
		t.Fatal(err)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", p.Severity)
	}
	if p.Description != "Nothing destructive runs in prod." {
		t.Errorf("Unexpected description %q", p.Description)
	}

	stage := testPlan(engine.EnvStage,
		engine.PlanStep{Name: "destroy-cache", TargetEnvs: engine.AllEnvironments()},
	)
	if _, err := eng.Admit(context.Background(), stage); err != nil {
		t.Errorf("Stage plan should be admitted: %v", err)
	}

	prod := testPlan(engine.EnvProd,
		engine.PlanStep{Name: "destroy-cache", TargetEnvs: engine.AllEnvironments()},
		engine.PlanStep{Name: "deploy", TargetEnvs: engine.AllEnvironments()},
	)
	result, err := eng.Admit(context.Background(), prod)
	if err == nil {
		t.Fatal("Expected prod plan to be denied")
	}
	if !engine.IsPolicyError(err) {
		t.Errorf("Expected policy error, got %v", err)
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodeDenied {
		t.Errorf("Expected code %s, got %v", engine.ErrCodeDenied, err)
	}
	if !strings.Contains(err.Error(), "destroy-cache is frozen in prod") {
		t.Errorf("Error should carry the violation message: %v", err)
	}
	if result == nil || result.Allowed {
		t.Fatal("Expected a denied result alongside the error")
	}
	if v := result.Violations[0]; v.Operation != "destroy-cache" || v.Severity != SeverityError {
		t.Errorf("Unexpected violation %+v", v)
	}

	if err := eng.DisablePolicy("freeze"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Admit(context.Background(), prod); err != nil {
		t.Errorf("Disabled policy should not deny: %v", err)
	}
	if err := eng.EnablePolicy("freeze"); err != nil {
		t.Fatal(err)
	}
	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestViolationSeverity(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, WithoutBuiltins())
	if err != nil {
		t.Fatal(err)
	}

	err = eng.AddPolicy(context.Background(), Policy{
		Name:    "advisory",
		Enabled: true,
		Rego: `package infractl.advisory

import rego.v1

deny contains {"message": "heads up", "severity": "warning"} if {
	input.environment == "local"
}

deny contains {"message": "odd", "severity": "loud"} if {
	input.environment == "local"
}
`,
	})
	if err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	result, err := eng.Admit(context.Background(), testPlan(engine.EnvLocal))
	if err == nil {
		t.Fatal("Unknown severity should fall back to the blocking default")
	}
	if len(result.Violations) != 2 {
		t.Fatalf("Expected 2 violations, got %+v", result.Violations)
	}
	bySeverity := map[Severity]string{}
	for _, v := range result.Violations {
		bySeverity[v.Severity] = v.Message
	}
	if bySeverity[SeverityWarning] != "heads up" || bySeverity[SeverityError] != "odd" {
		t.Errorf("Unexpected severities %+v", bySeverity)
	}

	if err := eng.AddPolicy(context.Background(), Policy{Name: "advisory", Rego: "package x"}); err == nil {
		t.Error("Expected duplicate policy name to fail")
	}
}

func TestLoadPolicies_Errors(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	writePolicy(t, dir, "good.rego", "package good\n\nimport rego.v1\n\ndeny contains \"never\" if { false }\n")
	writePolicy(t, dir, "broken.rego", "package broken\n\ndeny[msg] {\n")
	writePolicy(t, dir, "nested/operation-naming.rego", "package dup\n")

	n, err := eng.LoadPolicies(context.Background(), dir)
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if !engine.IsConfigurationError(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken.rego") {
		t.Errorf("Error should name the failing file: %v", err)
	}
	if !strings.Contains(err.Error(), "already defined") {
		t.Errorf("Error should report the name clash: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the valid policy to load, got %d", n)
	}
	if _, err := eng.GetPolicy("good"); err != nil {
		t.Errorf("good policy should be loaded: %v", err)
	}

	n, err = eng.LoadPolicies(context.Background(), filepath.Join(dir, "missing"))
	if err != nil || n != 0 {
		t.Errorf("Missing directory should load nothing, got %d, %v", n, err)
	}
}

func TestNewInput(t *testing.T) {
	plan := testPlan(engine.EnvStage,
		engine.PlanStep{Name: "db", TargetEnvs: engine.OnlyEnvironments(engine.EnvStage, engine.EnvProd)},
		engine.PlanStep{Name: "app", TargetEnvs: engine.AllEnvironments(), DependsOn: []string{"db"}},
		engine.PlanStep{Name: "seed"},
	)
	plan.Requested = []string{"app"}

	in := NewInput(plan)
	if in.Environment != "stage" {
		t.Errorf("Expected stage, got %s", in.Environment)
	}
	if got := in.Steps[0].TargetEnvs; len(got) != 2 || got[1] != "prod" {
		t.Errorf("Unexpected targets %v", got)
	}
	if got := in.Steps[1].TargetEnvs; len(got) != 1 || got[0] != "all" {
		t.Errorf("Expected all sentinel, got %v", got)
	}
	if got := in.Steps[2]; got.TargetEnvs == nil || len(got.TargetEnvs) != 0 || got.Action != "skip" {
		t.Errorf("Expected empty targets and skip, got %+v", got)
	}

	plan.Steps[1].DependsOn[0] = "mutated"
	if in.Steps[1].DependsOn[0] != "db" {
		t.Error("Input must not alias the plan")
	}
}
