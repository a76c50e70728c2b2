package symbol

import (
	"debug/elf"
	"fmt"
)

// Record is a resolved symbol: name, base address, byte size, binding and kind.
// A Record never changes after construction; its fields are private snapshots
// and do not refer back to the table that produced them.
type Record struct {
	name    string
	address uint64
	size    uint64
	binding Binding
	kind    Kind
}

func NewRecord(name string, address, size uint64, binding Binding, kind Kind) Record {
	return Record{
		name:    name,
		address: address,
		size:    size,
		binding: binding,
		kind:    kind,
	}
}

// FromELF converts a debug/elf symbol. Name may differ from sym.Name, e.g. when demangled.
func FromELF(sym elf.Symbol, name string) Record {
	return NewRecord(name, sym.Value, sym.Size,
		BindingFromELF(elf.ST_BIND(sym.Info)),
		KindFromELF(elf.ST_TYPE(sym.Info)))
}

func (r Record) Name() string      { return r.name }
func (r Record) Address() uint64   { return r.address }
func (r Record) Size() uint64      { return r.size }
func (r Record) Binding() Binding  { return r.binding }
func (r Record) Kind() Kind        { return r.kind }
func (r Record) End() uint64       { return r.address + r.size }
func (r Record) IsZeroSized() bool { return r.size == 0 }

// Contains reports whether addr falls into the symbol. A zero-size symbol
// contains only its own address.
func (r Record) Contains(addr uint64) bool {
	if r.size == 0 {
		return addr == r.address
	}
	return r.address <= addr && addr-r.address < r.size
}

// Rebased returns a copy of r moved by base.
func (r Record) Rebased(base uint64) Record {
	r.address += base
	return r
}

// Equal compares all five fields.
func (r Record) Equal(o Record) bool {
	return r.name == o.name &&
		r.address == o.address &&
		r.size == o.size &&
		r.binding == o.binding &&
		r.kind == o.kind
}

func (r Record) DebugString() string {
	return fmt.Sprintf("Record{ name = %s, address = 0x%x, size = 0x%x, binding = %d, kind = %d }",
		r.name, r.address, r.size, r.binding, r.kind)
}
