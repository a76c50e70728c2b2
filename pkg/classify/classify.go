// Package classify provides the enumeration classes symbols are reported in.
//
// A Class turns a raw classification value into a named Value, the same way
// a scripting runtime calls an enum class with an integer. Consumers depend
// on the Constructor interface only, so classes can be replaced or extended
// (see LoadClasses) without touching the code that reports symbols.
package classify

import (
	"fmt"
	"sort"

	"github.com/grafana/symbridge/pkg/symbol"
)

const (
	BindingClass = "SymbolBinding"
	KindClass    = "SymbolKind"
)

// Value is one member of an enumeration class.
type Value struct {
	Class string
	Name  string
	Raw   uint64
}

// String returns the qualified member name, e.g. SymbolKind.FUNC.
func (v Value) String() string {
	return v.Class + "." + v.Name
}

// Repr returns the member representation, e.g. <SymbolKind.FUNC: 2>.
func (v Value) Repr() string {
	return fmt.Sprintf("<%s.%s: %d>", v.Class, v.Name, v.Raw)
}

// Constructor builds a Value from a raw classification value.
type Constructor interface {
	Construct(raw uint64) (Value, error)
}

type ConstructorFunc func(raw uint64) (Value, error)

func (f ConstructorFunc) Construct(raw uint64) (Value, error) {
	return f(raw)
}

// InvalidValueError is returned when a raw value has no member in a class.
type InvalidValueError struct {
	Class string
	Raw   uint64
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%d is not a valid %s", e.Raw, e.Class)
}

// Class is an enumeration class with a fixed member set.
type Class struct {
	name    string
	members map[uint64]string
}

// NewClass creates a class from member names to raw values. When several
// names share a raw value, the first one in lexical order names the member.
func NewClass(name string, members map[string]uint64) *Class {
	c := &Class{
		name:    name,
		members: make(map[uint64]string, len(members)),
	}
	for _, memberName := range sortedNames(members) {
		raw := members[memberName]
		if _, ok := c.members[raw]; !ok {
			c.members[raw] = memberName
		}
	}
	return c
}

func sortedNames(members map[string]uint64) []string {
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Class) Name() string { return c.name }

func (c *Class) Construct(raw uint64) (Value, error) {
	name, ok := c.members[raw]
	if !ok {
		return Value{}, &InvalidValueError{Class: c.name, Raw: raw}
	}
	return Value{Class: c.name, Name: name, Raw: raw}, nil
}

// Members returns all members ordered by raw value.
func (c *Class) Members() []Value {
	res := make([]Value, 0, len(c.members))
	for raw, name := range c.members {
		res = append(res, Value{Class: c.name, Name: name, Raw: raw})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Raw < res[j].Raw
	})
	return res
}

func Bindings() *Class {
	return NewClass(BindingClass, map[string]uint64{
		"UNKNOWN": uint64(symbol.BindingUnknown),
		"LOCAL":   uint64(symbol.BindingLocal),
		"GLOBAL":  uint64(symbol.BindingGlobal),
		"WEAK":    uint64(symbol.BindingWeak),
		"UNIQUE":  uint64(symbol.BindingUnique),
	})
}

func Kinds() *Class {
	return NewClass(KindClass, map[string]uint64{
		"UNKNOWN": uint64(symbol.KindUnknown),
		"OBJECT":  uint64(symbol.KindObject),
		"FUNC":    uint64(symbol.KindFunc),
		"SECTION": uint64(symbol.KindSection),
		"FILE":    uint64(symbol.KindFile),
		"COMMON":  uint64(symbol.KindCommon),
		"TLS":     uint64(symbol.KindTLS),
		"IFUNC":   uint64(symbol.KindIFunc),
	})
}
