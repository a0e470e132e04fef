// Package engine provides the operation registry, handler dispatch and the
// dependency-aware executor at the core of infractl.
//
// # Overview
//
// An infrastructure project is a set of named operations. Each operation has a
// handler, a set of target environments and an ordered list of operations it
// depends on. A run moves through three steps:
//
//  1. Register - Operations are added to an explicit Registry (Define, Register, plugins)
//  2. Plan - The Planner resolves the order and decides run/skip per environment
//  3. Run - The Executor invokes handlers depth-first, dependencies first
//
// # Core Domain Types
//
//   - Environment: local, stage or prod
//   - TargetEnvs: the "all" sentinel, an explicit list, or unset (never runs)
//   - Operation: an immutable registered unit of work
//   - Handler: Func for free functions, Method for methods on a holder type
//   - Container: one lazily constructed singleton per holder type
//   - RunResult: per-operation outcomes of a run
//   - Plan: the ordered steps a run would take
//   - Event: timeline events published during a run
//
// # Defining Operations
//
//	reg := engine.NewRegistry()
//	_, err := reg.Define("Create application secrets", engine.Func(SecretsSetup),
//	    engine.ForEnvironments(engine.EnvLocal, engine.EnvStage))
//	_, err = reg.Define("Create queues", engine.Method((*Queues).Setup),
//	    engine.WithName("queue-setup"),
//	    engine.ForAllEnvironments(),
//	    engine.DependsOn("secrets-setup"))
//
// Without WithName the operation name is the handler identifier in kebab-case,
// so SecretsSetup becomes "secrets-setup". Two operations resolving to the same
// name fail with a duplicate error and the registry keeps the first.
//
// # Execution Semantics
//
// Run walks each requested root depth-first. Dependencies run in listed order
// before the operation itself. An operation already completed in the run is not
// repeated, even when requested by a later root. Revisiting an operation that
// is still being expanded is a cycle error. An operation whose targets exclude
// the run's environment is skipped but still counts as completed, so its
// dependents proceed. The first failure halts the run.
//
// # Error Classification
//
// Errors are classified so callers can tell a broken setup from a failing operation:
//
//   - Configuration: invalid definitions, holder types that cannot be constructed, context loading
//   - Operation: unknown operation or dispatch failure
//   - Cycle: circular dependency, with the active path
//   - Execution: a handler returned an error, panicked, or the run was cancelled
//   - Duplicate: two operations with the same name
//   - Policy: an admission policy denied the run
//
//	if engine.IsCycleError(err) {
//	    // fix the dependency graph
//	}
package engine
