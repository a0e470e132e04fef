package engine

import (
	"fmt"
	"time"
)

// PlanStep is one operation in the order a run would reach it.
type PlanStep struct {
	// Order is the zero-based position in the plan.
	Order int `json:"order"`

	// Name is the operation name.
	Name string `json:"name"`

	// Description is the operation description.
	Description string `json:"description"`

	// Action is what the run would do with the operation.
	Action StepAction `json:"action"`

	// Handler describes the dispatch target.
	Handler string `json:"handler"`

	// TargetEnvs are the environments the operation applies to.
	TargetEnvs TargetEnvs `json:"target_envs"`

	// DependsOn lists the operation's direct dependencies.
	DependsOn []string `json:"depends_on"`
}

// Plan is the resolved execution order for an environment, computed without
// invoking any handler or constructing any holder.
type Plan struct {
	// Environment is the environment the plan targets.
	Environment Environment `json:"environment"`

	// Requested lists the root operations.
	Requested []string `json:"requested"`

	// Steps lists operations in execution order.
	Steps []PlanStep `json:"steps"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`
}

// Step returns the step for name.
func (p *Plan) Step(name string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return PlanStep{}, false
}

// Count returns the number of steps with the given action.
func (p *Plan) Count(action StepAction) int {
	n := 0
	for _, s := range p.Steps {
		if s.Action == action {
			n++
		}
	}
	return n
}

// Planner computes plans and validates the dependency graph of a registry.
type Planner struct {
	registry *Registry
}

// NewPlanner creates a planner over registry.
func NewPlanner(registry *Registry) *Planner {
	return &Planner{registry: registry}
}

// Plan resolves names, or every registered operation when names is empty, the
// way Executor.Run would for env. Errors match the ones Run would return
// before invoking any handler.
func (p *Planner) Plan(env Environment, names []string) (*Plan, error) {
	if err := env.Validate(); err != nil {
		return nil, NewConfigurationError("invalid plan environment", err).WithCode(ErrCodeValidation)
	}

	if len(names) == 0 {
		names = p.registry.Names()
	}

	plan := &Plan{
		Environment: env,
		Requested:   append([]string(nil), names...),
		Steps:       []PlanStep{},
		CreatedAt:   time.Now(),
	}

	completed := make(map[string]bool)
	visited := make(map[string]bool)
	path := make([]string, 0)

	var walk func(name string) error
	walk = func(name string) error {
		if completed[name] {
			return nil
		}
		if visited[name] {
			return NewCycleError(name, append(path, name))
		}
		visited[name] = true
		path = append(path, name)

		op, err := p.registry.Lookup(name)
		if err != nil {
			return err
		}

		for _, dep := range op.dependsOn {
			if err := walk(dep); err != nil {
				return err
			}
		}

		action := StepRun
		if !op.targetEnvs.Includes(env) {
			action = StepSkip
		}

		plan.Steps = append(plan.Steps, PlanStep{
			Order:       len(plan.Steps),
			Name:        name,
			Description: op.description,
			Action:      action,
			Handler:     describeHandler(op.handler),
			TargetEnvs:  op.TargetEnvs(),
			DependsOn:   op.DependsOn(),
		})

		completed[name] = true
		delete(visited, name)
		path = path[:len(path)-1]
		return nil
	}

	for _, name := range names {
		if err := walk(name); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// Validate checks the whole registry: every dependency must be registered and
// there must be no cycle. The cycle error carries the full cycle path.
func (p *Planner) Validate() error {
	ops := p.registry.Operations()
	byName := make(map[string]Operation, len(ops))
	for _, op := range ops {
		byName[op.name] = op
	}

	for _, op := range ops {
		for _, dep := range op.dependsOn {
			if _, ok := byName[dep]; !ok {
				return NewOperationError(
					fmt.Sprintf("operation %q depends on unregistered operation %q", op.name, dep), nil).
					WithOperation(op.name).
					WithCode(ErrCodeNotFound).
					WithDetail("dependency", dep)
			}
		}
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, op := range ops {
		if visited[op.name] {
			continue
		}
		if cycle := detectCycle(op.name, byName, visited, recStack, nil); cycle != nil {
			return NewCycleError(cycle[0], cycle)
		}
	}

	return nil
}

// detectCycle runs a DFS from name and returns the cycle path if one is found.
func detectCycle(
	name string,
	byName map[string]Operation,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dep := range byName[name].dependsOn {
		if !visited[dep] {
			if cycle := detectCycle(dep, byName, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dep] {
			for i, id := range path {
				if id == dep {
					cycle := append([]string(nil), path[i:]...)
					return append(cycle, dep)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}
