package instrument

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a Driver from an opaque address string. The
// address format is driver-specific (serial port, IP, or unused for
// virtual instruments).
type Constructor func(address string) (Driver, error)

var (
	typesMu sync.RWMutex
	types   = map[string]Constructor{}
)

// Register makes a driver type available under the given runcard type
// name. Typically called from a driver's init function. Registering
// the same name twice panics: driver type names are a global namespace
// and a collision is a programming error.
func Register(typeName string, ctor Constructor) {
	typesMu.Lock()
	defer typesMu.Unlock()
	if _, dup := types[typeName]; dup {
		panic(fmt.Sprintf("instrument: duplicate driver type %q", typeName))
	}
	types[typeName] = ctor
}

// UnknownTypeError reports a runcard instrument type with no registered
// driver.
type UnknownTypeError struct {
	TypeName string
	Known    []string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown instrument type %q (registered: %v)", e.TypeName, e.Known)
}

// New constructs a driver of the named type. Fails with
// *UnknownTypeError if no driver registered the name.
func New(typeName, address string) (Driver, error) {
	typesMu.RLock()
	ctor, ok := types[typeName]
	typesMu.RUnlock()
	if !ok {
		return nil, &UnknownTypeError{TypeName: typeName, Known: TypeNames()}
	}
	return ctor(address)
}

// TypeNames returns the registered driver type names, sorted.
func TypeNames() []string {
	typesMu.RLock()
	defer typesMu.RUnlock()
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
