package program

type CompareOp int

const (
	OpLT CompareOp = iota
	OpLE
	OpEQ
	OpNE
	OpGT
	OpGE
)

func (op CompareOp) String() string {
	switch op {
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	default:
		return "?"
	}
}

// Comparison is the result of Compare. NotApplicable means the comparison is
// undefined for the operand type or operator; it is neither true nor false.
type Comparison int

const (
	NotApplicable Comparison = iota
	False
	True
)

func comparisonOf(b bool) Comparison {
	if b {
		return True
	}
	return False
}

func (c Comparison) Applicable() bool {
	return c != NotApplicable
}

// Bool returns the result of an applicable comparison.
func (c Comparison) Bool() bool {
	return c == True
}

func (c Comparison) String() string {
	switch c {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "not applicable"
	}
}

// Compare implements rich comparison. Symbols support == and != only, and
// only against other Symbols; they are equal when their records are equal,
// regardless of which program resolved them.
func (s *Symbol) Compare(other any, op CompareOp) Comparison {
	o, ok := other.(*Symbol)
	if !ok || o == nil || (op != OpEQ && op != OpNE) {
		return NotApplicable
	}
	eq := s.record().Equal(o.record())
	if op == OpNE {
		eq = !eq
	}
	return comparisonOf(eq)
}

// Equal reports whether s and o have equal records.
func (s *Symbol) Equal(o *Symbol) bool {
	return s.record().Equal(o.record())
}
