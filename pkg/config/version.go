package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/openfroyo/infractl/pkg/engine"
)

// CheckRequires verifies the running infractl version against the project's
// requires constraint. Versions that are not semver, such as "dev" builds,
// always pass.
func (p *Project) CheckRequires(version string) error {
	if p.Requires == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(p.Requires)
	if err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("invalid requires constraint %q", p.Requires), err).
			WithCode(engine.ErrCodeValidation)
	}

	current, err := semver.NewVersion(version)
	if err != nil {
		return nil
	}

	if ok, reasons := constraint.Validate(current); !ok {
		return engine.NewConfigurationError(
			fmt.Sprintf("project %s requires infractl %s, running %s", p.Name, p.Requires, current), joinErrors(reasons)).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make(ValidationErrors, len(errs))
	for i, e := range errs {
		msgs[i] = ValidationError{Path: "requires", Message: e.Error()}
	}
	return msgs
}
