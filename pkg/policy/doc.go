// Package policy provides Open Policy Agent (OPA) admission checks for runs.
//
// Before a run starts, its plan is turned into an Input document and every
// enabled Rego policy is evaluated against it. Each policy contributes a
// `deny` set; entries with severity error or critical deny the run, the rest
// are reported and the run proceeds.
//
// # Components
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Reads .rego files from the project's policies directory
//  3. Built-in Policies - Non-blocking checks shipped with infractl
//
// # Writing Policies
//
// A policy file is a Rego v1 module with a `deny` rule. The file name is the
// policy name, and the leading comment block is its description. User policies
// block by default; a `# severity:` header changes the default for entries
// that do not set their own.
//
//	# Nothing destructive runs in prod on a Friday.
//	# severity: critical
//	package infractl.freeze
//
//	import rego.v1
//
//	deny contains violation if {
//		input.environment == "prod"
//		some step in input.steps
//		step.action == "run"
//		startswith(step.name, "destroy-")
//		violation := {
//			"message": sprintf("%s is frozen", [step.name]),
//			"operation": step.name,
//		}
//	}
//
// The input document looks like:
//
//	{
//	  "environment": "prod",
//	  "requested": ["deploy"],
//	  "steps": [
//	    {"name": "migrate", "action": "run", "description": "...",
//	     "target_envs": ["stage", "prod"], "depends_on": []}
//	  ]
//	}
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if _, err := eng.LoadPolicies(ctx, "./infra/policies"); err != nil {
//	    return err
//	}
//	result, err := eng.Admit(ctx, plan)
//	if err != nil {
//	    return err // engine.IsPolicyError(err) for denials
//	}
//
// # Built-in Policies
//
// operation-naming: operation names should be kebab-case (warning).
//
// prod-wildcard-targets: operations that reach prod only through "all" (warning).
//
// untargeted-operations: operations without targets are always skipped (info).
package policy
