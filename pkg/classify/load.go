package classify

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type classesConfig struct {
	Classes []classConfig `yaml:"classes"`
}

type classConfig struct {
	Name    string            `yaml:"name"`
	Members map[string]uint64 `yaml:"members"`
}

// Set holds the binding and kind classes used to report symbols.
type Set struct {
	Bindings *Class
	Kinds    *Class
}

func DefaultSet() Set {
	return Set{Bindings: Bindings(), Kinds: Kinds()}
}

// LoadClasses reads class definitions from YAML and applies them on top of
// the defaults. Members listed for SymbolBinding or SymbolKind are added to
// (or rename) the default members. Two members of one class entry may not
// share a raw value.
//
//	classes:
//	  - name: SymbolKind
//	    members:
//	      GNU_IFUNC: 10
func LoadClasses(r io.Reader) (Set, error) {
	var cfg classesConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Set{}, fmt.Errorf("decode classes: %w", err)
	}
	set := DefaultSet()
	for _, c := range cfg.Classes {
		var target *Class
		switch c.Name {
		case BindingClass:
			target = set.Bindings
		case KindClass:
			target = set.Kinds
		default:
			return Set{}, fmt.Errorf("unknown class %q", c.Name)
		}
		seen := make(map[uint64]string, len(c.Members))
		for _, name := range sortedNames(c.Members) {
			raw := c.Members[name]
			if name == "" {
				return Set{}, fmt.Errorf("class %s: empty member name for %d", c.Name, raw)
			}
			if prev, ok := seen[raw]; ok {
				return Set{}, fmt.Errorf("class %s: members %s and %s share value %d", c.Name, prev, name, raw)
			}
			seen[raw] = name
			target.members[raw] = name
		}
	}
	return set, nil
}
