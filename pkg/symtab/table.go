package symtab

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/grafana/symbridge/pkg/symbol"
)

// Table is an in-memory symbol table. Records are kept sorted by address and
// relative to the table base; every record handed out is rebased.
type Table struct {
	symbols []symbol.Record
	byName  map[string][]int
	maxSize uint64
	base    uint64
	origin  string

	closer    io.Closer
	cleanOnce sync.Once
	cleanErr  error
}

// NewTable takes ownership of symbols and of closer, which is closed by Cleanup.
func NewTable(symbols []symbol.Record, closer io.Closer) *Table {
	slices.SortStableFunc(symbols, func(a, b symbol.Record) int {
		if a.Address() != b.Address() {
			if a.Address() < b.Address() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name(), b.Name())
	})
	t := &Table{
		symbols: symbols,
		byName:  make(map[string][]int, len(symbols)),
		closer:  closer,
	}
	for i, s := range symbols {
		t.byName[s.Name()] = append(t.byName[s.Name()], i)
		if s.Size() > t.maxSize {
			t.maxSize = s.Size()
		}
	}
	return t
}

func (t *Table) Rebase(base uint64) {
	t.base = base
}

func (t *Table) Base() uint64 {
	return t.base
}

func (t *Table) Size() int {
	return len(t.symbols)
}

// Resolve returns the symbol containing addr. When several symbols contain
// it, the one with the strongest binding wins.
func (t *Table) Resolve(addr uint64) (symbol.Record, bool) {
	return best(t.ByAddress(addr))
}

// Lookup returns the symbol named name, preferring the strongest binding.
func (t *Table) Lookup(name string) (symbol.Record, bool) {
	return best(t.ByName(name))
}

func (t *Table) ByName(name string) []symbol.Record {
	idx := t.byName[name]
	return lo.Map(idx, func(i int, _ int) symbol.Record {
		return t.symbols[i].Rebased(t.base)
	})
}

// ByAddress returns every symbol containing addr, in address order.
func (t *Table) ByAddress(addr uint64) []symbol.Record {
	if len(t.symbols) == 0 || addr < t.base {
		return nil
	}
	addr -= t.base
	if addr < t.symbols[0].Address() {
		return nil
	}
	i := sort.Search(len(t.symbols), func(i int) bool {
		return addr < t.symbols[i].Address()
	})
	var res []symbol.Record
	for i--; i >= 0; i-- {
		s := t.symbols[i]
		if d := addr - s.Address(); d > 0 && d >= t.maxSize {
			break
		}
		if s.Contains(addr) {
			res = append(res, s.Rebased(t.base))
		}
	}
	slices.Reverse(res)
	return res
}

func (t *Table) All() []symbol.Record {
	return lo.Map(t.symbols, func(s symbol.Record, _ int) symbol.Record {
		return s.Rebased(t.base)
	})
}

// Cleanup releases the resources backing the table. Records already handed
// out stay valid.
func (t *Table) Cleanup() error {
	t.cleanOnce.Do(func() {
		if t.closer != nil {
			t.cleanErr = t.closer.Close()
		}
	})
	return t.cleanErr
}

func (t *Table) DebugString() string {
	return fmt.Sprintf("Table{ origin = %s, sz = %d, base = 0x%x }", t.origin, len(t.symbols), t.base)
}

func (t *Table) DebugInfo() TableDebugInfo {
	return TableDebugInfo{
		Origin: t.origin,
		Size:   len(t.symbols),
		Base:   t.base,
	}
}

type TableDebugInfo struct {
	Origin string `yaml:"origin"`
	Size   int    `yaml:"symbol_count"`
	Base   uint64 `yaml:"base"`
}

func best(candidates []symbol.Record) (symbol.Record, bool) {
	if len(candidates) == 0 {
		return symbol.Record{}, false
	}
	res := candidates[0]
	for _, c := range candidates[1:] {
		if c.Binding().Rank() > res.Binding().Rank() {
			res = c
		}
	}
	return res, true
}
