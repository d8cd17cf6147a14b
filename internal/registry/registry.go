package registry

import (
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Registry stores declared variables and their current values.
//
// Registration order is preserved: Names() and Snapshot() iterate in
// declaration order, and ResolveOrder() breaks ties by declaration
// order, so identical runcards always evaluate identically.
type Registry struct {
	vars   map[string]*Variable
	values map[string]*value
	order  []string // declaration order

	resolved []string // memoized expression evaluation order
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		vars:   make(map[string]*Variable),
		values: make(map[string]*value),
	}
}

// Canonical returns the canonical form of a variable name. Runcards
// are hand-written UTF-8; NFC normalization keeps visually identical
// names from registering twice.
func Canonical(name string) string {
	return norm.NFC.String(name)
}

// Register adds a variable. Fails with *DuplicateNameError if the
// canonical name already exists. Knob presets become the variable's
// initial value immediately; all other variables start undefined.
func (r *Registry) Register(v *Variable) error {
	name := Canonical(v.Name)
	if _, dup := r.vars[name]; dup {
		return &DuplicateNameError{Name: name}
	}
	v.Name = name
	r.vars[name] = v
	r.values[name] = &value{}
	r.order = append(r.order, name)
	r.resolved = nil // invalidate memoized order

	if v.Kind == Knob && v.Preset != nil {
		r.values[name].v = *v.Preset
		r.values[name].defined = true
	}
	return nil
}

// Lookup returns the declared variable, or nil if the name is unknown.
func (r *Registry) Lookup(name string) *Variable {
	return r.vars[Canonical(name)]
}

// Names returns all variable names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the current value. Fails with *UnknownVariableError for
// unregistered names and *UndefinedVariableError before the first set.
func (r *Registry) Get(name string) (float64, error) {
	name = Canonical(name)
	cell, ok := r.values[name]
	if !ok {
		return 0, &UnknownVariableError{Name: name}
	}
	if !cell.defined {
		return 0, &UndefinedVariableError{Name: name}
	}
	return cell.v, nil
}

// Set stores a value. Used by the scheduler for routine knob writes and
// meter refreshes.
func (r *Registry) Set(name string, v float64) error {
	name = Canonical(name)
	cell, ok := r.values[name]
	if !ok {
		return &UnknownVariableError{Name: name}
	}
	cell.v = v
	cell.defined = true
	return nil
}

// Snapshot copies every defined value, keyed by variable name, in a
// fresh map safe to hand to another goroutine.
func (r *Registry) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(r.order))
	for _, name := range r.order {
		if cell := r.values[name]; cell.defined {
			out[name] = cell.v
		}
	}
	return out
}

// ResolveOrder returns the Expression variables sorted so that every
// dependency is evaluated before its dependents. Fails with
// *CyclicDependencyError on a cycle and *UnknownVariableError when a
// formula definition points at an unregistered name.
//
// The order is computed by depth-first search over the reference graph
// with declaration order as the visiting order, so it is deterministic.
func (r *Registry) ResolveOrder() ([]string, error) {
	if r.resolved != nil {
		out := make([]string, len(r.resolved))
		copy(out, r.resolved)
		return out, nil
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // done
	)
	color := make(map[string]int, len(r.order))
	var sorted []string
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			// Found a cycle: trim the path back to the repeated name.
			cycle := append([]string{}, path...)
			for i, n := range cycle {
				if n == name {
					cycle = cycle[i:]
					break
				}
			}
			return &CyclicDependencyError{Path: append(cycle, name)}
		}

		color[name] = gray
		path = append(path, name)

		v := r.vars[name]
		for _, sym := range v.Compiled.Vars() {
			dep, ok := v.Defs[sym]
			if !ok {
				return &UnknownVariableError{Name: sym, ReferencedBy: name}
			}
			dep = Canonical(dep)
			depVar, ok := r.vars[dep]
			if !ok {
				return &UnknownVariableError{Name: dep, ReferencedBy: name}
			}
			// Only expression dependencies constrain the order; knobs
			// and meters are refreshed earlier in the tick.
			if depVar.Kind == Expression {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		sorted = append(sorted, name)
		return nil
	}

	for _, name := range r.order {
		if r.vars[name].Kind != Expression {
			continue
		}
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	r.resolved = sorted
	out := make([]string, len(sorted))
	copy(out, sorted)
	return out, nil
}

// Refresh re-evaluates every Expression variable in dependency order.
// After Refresh returns, each expression value equals its formula over
// the current bindings. Expressions whose inputs are still undefined
// are skipped (nothing has been measured yet); any other evaluation
// failure is returned.
func (r *Registry) Refresh() error {
	order, err := r.ResolveOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		v := r.vars[name]

		bindings := make(map[string]float64, len(v.Defs))
		ready := true
		for sym, dep := range v.Defs {
			val, err := r.Get(dep)
			if err != nil {
				var ue *UndefinedVariableError
				if errors.As(err, &ue) {
					ready = false
					break
				}
				return fmt.Errorf("refresh %q: %w", name, err)
			}
			bindings[sym] = val
		}
		if !ready {
			continue
		}

		result, err := v.Compiled.Eval(bindings)
		if err != nil {
			return fmt.Errorf("refresh %q: %w", name, err)
		}
		r.values[name].v = result
		r.values[name].defined = true
	}
	return nil
}
