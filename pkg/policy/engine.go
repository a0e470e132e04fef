package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/infractl/pkg/engine"
)

// Engine evaluates Rego admission policies against run plans.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	builtins bool
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithoutBuiltins skips the built-in policies.
func WithoutBuiltins() Option {
	return func(e *Engine) {
		e.builtins = false
	}
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtins: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.builtins {
		if err := e.loadBuiltinPolicies(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to load built-in policies: %w", err)
		}
	}

	return e, nil
}

// LoadPolicies compiles every .rego file under dir. A missing directory is
// not an error. Compile failures are collected and reported per file; the
// policies that did compile stay loaded.
func (e *Engine) LoadPolicies(ctx context.Context, dir string) (int, error) {
	loader := NewLoader(e.logger)
	policies, loadErr := loader.LoadDirectory(ctx, dir)

	e.mu.Lock()
	defer e.mu.Unlock()

	errs := []error{loadErr}
	loaded := 0
	for i := range policies {
		p := &policies[i]
		if existing, ok := e.policies[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s: policy %q is already defined by %s", p.Source, p.Name, sourceOf(existing.policy)))
			continue
		}
		if err := e.compileAndStorePolicy(ctx, p); err != nil {
			e.logger.Error().Err(err).
				Str("policy", p.Name).
				Str("source", p.Source).
				Msg("Failed to compile policy")
			errs = append(errs, fmt.Errorf("%s: %w", p.Source, err))
			continue
		}
		loaded++
	}

	if err := errors.Join(errs...); err != nil {
		return loaded, engine.NewConfigurationError(fmt.Sprintf("invalid policies in %s", dir), err).
			WithCode(engine.ErrCodeValidation)
	}

	e.logger.Debug().
		Int("count", loaded).
		Str("dir", dir).
		Msg("Policies loaded")

	return loaded, nil
}

// AddPolicy compiles and registers a single policy.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.policies[p.Name]; ok {
		return engine.NewConfigurationError(fmt.Sprintf("policy %q already exists", p.Name), nil).
			WithCode(engine.ErrCodeAlreadyExists)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	if err := e.compileAndStorePolicy(ctx, &p); err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("invalid policy %q", p.Name), err).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// EvaluatePlan evaluates every enabled policy against plan. A policy that
// fails at evaluation time is reported as a warning rather than a violation.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.Plan) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := NewInput(plan)
	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: make([]string, 0, len(e.policies)),
	}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", name, err))
			continue
		}

		result.Violations = append(result.Violations, violations...)
	}

	result.Allowed = len(result.Blocking()) == 0
	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("environment", input.Environment).
		Int("policies", len(result.EvaluatedPolicies)).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// Admit evaluates plan and returns a policy error when any blocking violation
// is found. The result is returned in both cases.
func (e *Engine) Admit(ctx context.Context, plan *engine.Plan) (*Result, error) {
	result, err := e.EvaluatePlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	if result.Allowed {
		return result, nil
	}

	blocking := result.Blocking()
	msgs := make([]string, len(blocking))
	for i, v := range blocking {
		msgs[i] = fmt.Sprintf("[%s] %s", v.Policy, v.Message)
	}
	return result, engine.NewPolicyError(
		fmt.Sprintf("run denied by %d policy violation(s): %s", len(blocking), strings.Join(msgs, "; ")), nil).
		WithCode(engine.ErrCodeDenied).
		WithDetail("violations", blocking)
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Operation != violations[j].Operation {
			return violations[i].Operation < violations[j].Operation
		}
		return violations[i].Message < violations[j].Message
	})

	return violations, nil
}

// createViolation creates a Violation from one element of a deny set. The
// element is either a message string or an object with message, severity and
// operation keys.
func (e *Engine) createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			if s, valid := parseSeverity(sev); valid {
				violation.Severity = s
			} else {
				e.logger.Warn().
					Str("policy", policy.Name).
					Str("severity", sev).
					Msg("Unknown severity in violation, using policy default")
			}
		}
		if op, ok := v["operation"].(string); ok {
			violation.Operation = op
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. The caller holds the
// write lock.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	filename := policy.Source
	if filename == "" {
		filename = policy.Name + ".rego"
	}

	module, err := ast.ParseModuleWithOpts(filename, policy.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	r := rego.New(
		rego.ParsedModule(module),
		rego.Query(query),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    prepared,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("query", query).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, notFound(name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return notFound(name)
	}

	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func notFound(name string) error {
	return engine.NewConfigurationError(fmt.Sprintf("policy not found: %s", name), nil).
		WithCode(engine.ErrCodeNotFound)
}

func sourceOf(p *Policy) string {
	if p.Builtin {
		return "a built-in policy"
	}
	return p.Source
}

func parseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToLower(s)); sev {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, true
	}
	return "", false
}
