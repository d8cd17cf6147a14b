// Package alarm implements safety conditions evaluated once per tick,
// strictly after the variable registry refresh, so alarms observe the
// same values a snapshot would record.
//
// Runcard condition strings such as ">1" or "<= 0.5" are parsed once
// at validation time into a typed Comparator; nothing is re-parsed in
// the tick loop.
package alarm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/quenchlab/rig/internal/registry"
)

// Op is a relational operator.
type Op string

const (
	OpGT Op = ">"
	OpGE Op = ">="
	OpLT Op = "<"
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// Comparator is a parsed alarm condition: value OP threshold.
type Comparator struct {
	Op        Op
	Threshold float64
}

// ParseCondition parses a runcard condition string into a Comparator.
// Accepted forms: an operator followed by a numeric threshold, with
// optional whitespace (">1", ">= 0.5", "!= 0").
func ParseCondition(s string) (Comparator, error) {
	trimmed := strings.TrimSpace(s)

	var op Op
	switch {
	case strings.HasPrefix(trimmed, ">="):
		op = OpGE
	case strings.HasPrefix(trimmed, "<="):
		op = OpLE
	case strings.HasPrefix(trimmed, "=="):
		op = OpEQ
	case strings.HasPrefix(trimmed, "!="):
		op = OpNE
	case strings.HasPrefix(trimmed, ">"):
		op = OpGT
	case strings.HasPrefix(trimmed, "<"):
		op = OpLT
	default:
		return Comparator{}, fmt.Errorf("condition %q: missing relational operator", s)
	}

	rest := strings.TrimSpace(trimmed[len(op):])
	threshold, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return Comparator{}, fmt.Errorf("condition %q: bad threshold %q: %w", s, rest, err)
	}
	return Comparator{Op: op, Threshold: threshold}, nil
}

// Holds reports whether the condition is true for the given value.
func (c Comparator) Holds(v float64) bool {
	switch c.Op {
	case OpGT:
		return v > c.Threshold
	case OpGE:
		return v >= c.Threshold
	case OpLT:
		return v < c.Threshold
	case OpLE:
		return v <= c.Threshold
	case OpEQ:
		return v == c.Threshold
	case OpNE:
		return v != c.Threshold
	}
	return false
}

func (c Comparator) String() string {
	return fmt.Sprintf("%s %v", c.Op, c.Threshold)
}

// Protocol selects what the scheduler does when an alarm triggers.
type Protocol string

const (
	// ProtocolWait gates the experiment clock: routine advancement and
	// knob writes suspend until the condition clears. Meters continue
	// to be read.
	ProtocolWait Protocol = "wait"

	// ProtocolHold retries the offending knob writes with the previous
	// safe value, up to a bounded retry count, then escalates to abort.
	ProtocolHold Protocol = "hold-and-retry"

	// ProtocolAbort terminates the experiment.
	ProtocolAbort Protocol = "abort"
)

// ParseProtocol normalizes a runcard protocol string. "hold" is an
// accepted shorthand for "hold-and-retry".
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wait":
		return ProtocolWait, nil
	case "hold", "hold-and-retry":
		return ProtocolHold, nil
	case "abort":
		return ProtocolAbort, nil
	}
	return "", fmt.Errorf("unknown alarm protocol %q", s)
}

// Alarm watches one variable against a condition.
type Alarm struct {
	Name     string
	Variable string
	Cond     Comparator
	Protocol Protocol
}

// Check evaluates the alarm against current registry values. A
// variable with no value yet counts as Clear: there is nothing to
// observe before the first refresh.
func (a *Alarm) Check(reg *registry.Registry) (bool, error) {
	v, err := reg.Get(a.Variable)
	if err != nil {
		var ue *registry.UndefinedVariableError
		if errors.As(err, &ue) {
			return false, nil
		}
		return false, fmt.Errorf("alarm %q: %w", a.Name, err)
	}
	return a.Cond.Holds(v), nil
}

// Monitor evaluates a declaration-ordered set of alarms.
type Monitor struct {
	alarms []*Alarm
}

// NewMonitor creates a monitor over alarms in declaration order. The
// slice is copied; evaluation order never changes after construction.
func NewMonitor(alarms []*Alarm) *Monitor {
	copied := make([]*Alarm, len(alarms))
	copy(copied, alarms)
	return &Monitor{alarms: copied}
}

// Alarms returns the monitored alarms in declaration order.
func (m *Monitor) Alarms() []*Alarm { return m.alarms }

// Triggered returns every alarm whose condition currently holds, in
// declaration order. When more than one alarm triggers in the same
// tick, the scheduler applies the first non-wait protocol and ignores
// the rest for that tick (first-in-declaration-order wins).
func (m *Monitor) Triggered(reg *registry.Registry) ([]*Alarm, error) {
	var triggered []*Alarm
	for _, a := range m.alarms {
		hit, err := a.Check(reg)
		if err != nil {
			return nil, err
		}
		if hit {
			triggered = append(triggered, a)
			if a.Protocol != ProtocolWait {
				// Non-wait protocols short-circuit the remaining checks.
				break
			}
		}
	}
	return triggered, nil
}
