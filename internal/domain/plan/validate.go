package plan

import (
	"fmt"
	"strconv"

	"github.com/astrahq/astra/internal/domain"
)

// ValidateSpecs checks a planner-delivered step list before acceptance:
// every step names a known skill, every dependency index points at an
// earlier step, and the dependency graph is acyclic by construction
// (indices only reference preceding steps). knownSkill reports whether a
// skill name resolves in the registry.
func ValidateSpecs(specs []StepSpec, knownSkill func(name string) bool) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: plan has no steps", domain.ErrValidation)
	}
	for i, spec := range specs {
		if spec.Title == "" {
			return fmt.Errorf("%w: step %d has no title", domain.ErrValidation, i)
		}
		if spec.SkillName == "" {
			return fmt.Errorf("%w: step %d has no skill", domain.ErrValidation, i)
		}
		if knownSkill != nil && !knownSkill(spec.SkillName) {
			return fmt.Errorf("%w: step %d references unknown skill %q", domain.ErrValidation, i, spec.SkillName)
		}
		for _, dep := range spec.DependsOn {
			n, err := strconv.Atoi(dep)
			if err != nil {
				return fmt.Errorf("%w: step %d has non-numeric dependency %q", domain.ErrValidation, i, dep)
			}
			if n < 0 || n >= len(specs) {
				return fmt.Errorf("%w: step %d depends on missing step %d", domain.ErrValidation, i, n)
			}
			if n >= i {
				return fmt.Errorf("%w: step %d depends on step %d, dependencies must precede the step", domain.ErrValidation, i, n)
			}
		}
	}
	return nil
}
