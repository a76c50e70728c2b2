package symbol

import "debug/elf"

// Binding is the raw linkage classification of a symbol.
// Values are the ELF STB_* values shifted by one, so that zero means unknown.
type Binding uint8

const (
	BindingUnknown Binding = 0
	BindingLocal   Binding = Binding(elf.STB_LOCAL) + 1
	BindingGlobal  Binding = Binding(elf.STB_GLOBAL) + 1
	BindingWeak    Binding = Binding(elf.STB_WEAK) + 1
	// STB_GNU_UNIQUE
	BindingUnique Binding = 10 + 1
)

// Kind is the raw semantic classification of a symbol. Values are the ELF STT_* values.
type Kind uint8

const (
	KindUnknown Kind = Kind(elf.STT_NOTYPE)
	KindObject  Kind = Kind(elf.STT_OBJECT)
	KindFunc    Kind = Kind(elf.STT_FUNC)
	KindSection Kind = Kind(elf.STT_SECTION)
	KindFile    Kind = Kind(elf.STT_FILE)
	KindCommon  Kind = Kind(elf.STT_COMMON)
	KindTLS     Kind = Kind(elf.STT_TLS)
	// STT_GNU_IFUNC
	KindIFunc Kind = 10
)

func BindingFromELF(b elf.SymBind) Binding {
	switch b {
	case elf.STB_LOCAL, elf.STB_GLOBAL, elf.STB_WEAK:
		return Binding(b) + 1
	case 10:
		return BindingUnique
	default:
		return BindingUnknown
	}
}

func KindFromELF(t elf.SymType) Kind {
	switch t {
	case elf.STT_OBJECT, elf.STT_FUNC, elf.STT_SECTION, elf.STT_FILE, elf.STT_COMMON, elf.STT_TLS:
		return Kind(t)
	case 10:
		return KindIFunc
	default:
		return KindUnknown
	}
}

// Rank orders bindings by how strongly they claim a name or an address.
// Global and unique symbols win over weak ones, weak ones over local ones.
func (b Binding) Rank() int {
	switch b {
	case BindingGlobal, BindingUnique:
		return 3
	case BindingWeak:
		return 2
	case BindingLocal:
		return 1
	default:
		return 0
	}
}
