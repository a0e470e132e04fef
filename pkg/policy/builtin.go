package policy

// GetBuiltinPolicies returns all built-in policies. None of them block a run.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		operationNamingPolicy(),
		prodWildcardTargetsPolicy(),
		untargetedOperationsPolicy(),
	}
}

// operationNamingPolicy flags operation names that are not kebab-case.
func operationNamingPolicy() Policy {
	return Policy{
		Name:        "operation-naming",
		Description: "Operation names should be lowercase kebab-case",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package infractl.builtin.naming

import rego.v1

deny contains violation if {
	some step in input.steps
	not regex.match("^[a-z0-9]+(-[a-z0-9]+)*$", step.name)
	violation := {
		"message": sprintf("operation name '%s' is not kebab-case", [step.name]),
		"severity": "warning",
		"operation": step.name,
	}
}
`,
	}
}

// prodWildcardTargetsPolicy flags operations that reach prod only through the
// "all" sentinel.
func prodWildcardTargetsPolicy() Policy {
	return Policy{
		Name:        "prod-wildcard-targets",
		Description: "Operations running in prod should name prod explicitly",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package infractl.builtin.prod_targets

import rego.v1

deny contains violation if {
	input.environment == "prod"
	some step in input.steps
	step.action == "run"
	step.target_envs == ["all"]
	violation := {
		"message": sprintf("operation '%s' targets all environments and will run in prod", [step.name]),
		"severity": "warning",
		"operation": step.name,
	}
}
`,
	}
}

// untargetedOperationsPolicy reports operations without any target
// environment. They are skipped everywhere.
func untargetedOperationsPolicy() Policy {
	return Policy{
		Name:        "untargeted-operations",
		Description: "Operations without target environments never run",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Rego: `package infractl.builtin.untargeted

import rego.v1

deny contains violation if {
	some step in input.steps
	count(step.target_envs) == 0
	violation := {
		"message": sprintf("operation '%s' has no target environments and is always skipped", [step.name]),
		"severity": "info",
		"operation": step.name,
	}
}
`,
	}
}
