package symtab

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"

	"github.com/grafana/symbridge/pkg/symbol"
)

var kallsymsModule = []byte("kernel")

// kernelAddrSpace is the lowest address of kernel text. Symbols below it,
// such as per-cpu offsets, are skipped.
var kernelAddrSpace = kernelAddrSpaceStart(runtime.GOARCH)

func kernelAddrSpaceStart(goarch string) uint64 {
	if goarch == "amd64" {
		// https://www.kernel.org/doc/Documentation/x86/x86_64/mm.txt
		return 0x00ffffffffffffff
	}
	return 0
}

type kallsym struct {
	rec      symbol.Record
	module   string
	absolute bool
}

func LoadKallsyms(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := NewKallsyms(data)
	if err != nil {
		return nil, err
	}
	t.origin = path
	return t, nil
}

// NewKallsyms parses /proc/kallsyms. Symbol sizes are not part of the format:
// each symbol extends to the next one of the same module, the last one of a
// module and absolute symbols have size 0.
func NewKallsyms(kallsyms []byte) (*Table, error) {
	var syms []kallsym
	allZeros := true
	for len(kallsyms) > 0 {
		i := bytes.IndexByte(kallsyms, '\n')
		var line []byte
		if i == -1 {
			line = kallsyms
			kallsyms = nil
		} else {
			line = kallsyms[:i]
			kallsyms = kallsyms[i+1:]
		}

		if len(line) == 0 {
			continue
		}
		space := bytes.IndexByte(line, ' ')
		if space == -1 {
			return nil, fmt.Errorf("no space found")
		}
		addr := line[:space]
		line = line[space+1:]

		space = bytes.IndexByte(line, ' ')
		if space == -1 || space == 0 {
			return nil, fmt.Errorf("no space found")
		}
		typ := line[:space]
		line = line[space+1:]

		var name []byte
		var mod []byte
		tab := bytes.IndexByte(line, '\t')
		if tab == -1 {
			name = line
			mod = kallsymsModule
		} else {
			name = line[:tab]
			mod = line[tab+1:]
		}
		if typ[0] == 'U' || typ[0] == 'u' {
			continue
		}

		istart, err := strconv.ParseUint(string(addr), 16, 64)
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(mod, []byte{'['}) && bytes.HasSuffix(mod, []byte{']'}) {
			mod = mod[1 : len(mod)-1]
		}
		if istart != 0 {
			allZeros = false
		}
		if istart < kernelAddrSpace {
			continue
		}
		binding, kind := kallsymClass(typ[0])
		syms = append(syms, kallsym{
			rec:      symbol.NewRecord(string(name), istart, 0, binding, kind),
			module:   string(mod),
			absolute: typ[0] == 'A' || typ[0] == 'a',
		})
	}
	if allZeros {
		return NewTable(nil, nil), nil
	}
	return NewTable(sizeKallsyms(syms), nil), nil
}

func sizeKallsyms(syms []kallsym) []symbol.Record {
	byModule := make(map[string][]int)
	res := make([]symbol.Record, len(syms))
	for i, s := range syms {
		if s.absolute {
			res[i] = s.rec
			continue
		}
		byModule[s.module] = append(byModule[s.module], i)
	}
	addr := func(i int) uint64 { return syms[i].rec.Address() }
	for _, idx := range byModule {
		sort.SliceStable(idx, func(a, b int) bool {
			return addr(idx[a]) < addr(idx[b])
		})
		for j := 0; j < len(idx); {
			k := j
			for k < len(idx) && addr(idx[k]) == addr(idx[j]) {
				k++
			}
			var size uint64
			if k < len(idx) {
				size = addr(idx[k]) - addr(idx[j])
			}
			for ; j < k; j++ {
				r := syms[idx[j]].rec
				res[idx[j]] = symbol.NewRecord(r.Name(), r.Address(), size, r.Binding(), r.Kind())
			}
		}
	}
	return res
}

// kallsymClass maps nm(1) type letters: upper case is global, lower case local.
func kallsymClass(typ byte) (symbol.Binding, symbol.Kind) {
	binding := symbol.BindingLocal
	if typ >= 'A' && typ <= 'Z' {
		binding = symbol.BindingGlobal
	}
	switch typ {
	case 't', 'T':
		return binding, symbol.KindFunc
	case 'd', 'D', 'b', 'B', 'r', 'R', 'g', 'G', 's', 'S':
		return binding, symbol.KindObject
	case 'v', 'V':
		return symbol.BindingWeak, symbol.KindObject
	case 'w', 'W':
		return symbol.BindingWeak, symbol.KindUnknown
	case 'i', 'I':
		return binding, symbol.KindIFunc
	default:
		return binding, symbol.KindUnknown
	}
}
