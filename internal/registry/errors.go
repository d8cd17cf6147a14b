package registry

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateNameError reports a second registration under a name that
// already exists (after NFC normalization).
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate variable name %q", e.Name)
}

// UndefinedVariableError reports a read of a variable that has never
// been set or refreshed.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("variable %q has no value yet", e.Name)
}

// UnknownVariableError reports a reference to a name that was never
// registered.
type UnknownVariableError struct {
	Name string
	// ReferencedBy is the expression variable whose definitions point
	// at the unknown name, when the reference came from a formula.
	ReferencedBy string
}

func (e *UnknownVariableError) Error() string {
	if e.ReferencedBy != "" {
		return fmt.Sprintf("variable %q references unknown variable %q", e.ReferencedBy, e.Name)
	}
	return fmt.Sprintf("unknown variable %q", e.Name)
}

// CyclicDependencyError reports a cycle in the expression dependency
// graph. Path lists the cycle with the starting variable repeated at
// the end, e.g. ["a", "b", "a"].
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic expression dependency: %s", strings.Join(e.Path, " -> "))
}

// IsCyclicDependency reports whether err is a dependency-cycle error.
// Uses errors.As to handle wrapped errors.
func IsCyclicDependency(err error) bool {
	var ce *CyclicDependencyError
	return errors.As(err, &ce)
}
