package commands

import (
	"github.com/openfroyo/infractl/pkg/engine"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitExecution     = 1
	ExitConfiguration = 2
	ExitOperation     = 3
	ExitCycle         = 4
	ExitPolicy        = 5
)

// ExitCode maps an error to the process exit code. Unclassified errors exit
// like a failed run.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch engine.KindOf(err) {
	case engine.KindConfiguration, engine.KindDuplicate:
		return ExitConfiguration
	case engine.KindOperation:
		return ExitOperation
	case engine.KindCycle:
		return ExitCycle
	case engine.KindPolicy:
		return ExitPolicy
	default:
		return ExitExecution
	}
}
