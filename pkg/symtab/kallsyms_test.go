package symtab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/symbridge/pkg/symbol"
	"github.com/grafana/symbridge/pkg/test"
)

const testKallsyms = `ffffffff81000000 T _text
ffffffff81000000 T startup_64
ffffffff81000070 t verify_cpu
ffffffff81000170 T start_cpu0
ffffffff82000000 D init_task
ffffffff82000100 b dummy_bss
ffffffff82000200 W weak_fn
ffffffffc0000000 t mod_init	[nf_tables]
ffffffffc0000040 T mod_exit	[nf_tables]
`

func TestKallsyms(t *testing.T) {
	tab, err := NewKallsyms([]byte(testKallsyms))
	require.NoError(t, err)
	require.Equal(t, 9, tab.Size())

	testcases := []struct {
		name    string
		addr    uint64
		size    uint64
		binding symbol.Binding
		kind    symbol.Kind
	}{
		{"_text", 0xffffffff81000000, 0x70, symbol.BindingGlobal, symbol.KindFunc},
		{"startup_64", 0xffffffff81000000, 0x70, symbol.BindingGlobal, symbol.KindFunc},
		{"verify_cpu", 0xffffffff81000070, 0x100, symbol.BindingLocal, symbol.KindFunc},
		{"init_task", 0xffffffff82000000, 0x100, symbol.BindingGlobal, symbol.KindObject},
		{"dummy_bss", 0xffffffff82000100, 0x100, symbol.BindingLocal, symbol.KindObject},
		{"weak_fn", 0xffffffff82000200, 0, symbol.BindingWeak, symbol.KindUnknown},
		{"mod_init", 0xffffffffc0000000, 0x40, symbol.BindingLocal, symbol.KindFunc},
		{"mod_exit", 0xffffffffc0000040, 0, symbol.BindingGlobal, symbol.KindFunc},
	}
	for _, tc := range testcases {
		r, ok := tab.Lookup(tc.name)
		require.True(t, ok, tc.name)
		require.Equal(t, tc.addr, r.Address(), tc.name)
		require.Equal(t, tc.size, r.Size(), tc.name)
		require.Equal(t, tc.binding, r.Binding(), tc.name)
		require.Equal(t, tc.kind, r.Kind(), tc.name)
	}
	r, ok := tab.Resolve(0xffffffff81000100)
	require.True(t, ok)
	require.Equal(t, "verify_cpu", r.Name())
}

func TestKallsymsAllZeros(t *testing.T) {
	tab, err := NewKallsyms([]byte("0000000000000000 T _text\n0000000000000000 T startup_64\n"))
	require.NoError(t, err)
	require.Equal(t, 0, tab.Size())
}

func TestKallsymsLowAddresses(t *testing.T) {
	const src = `0000000000000000 A fixed_percpu_data
000000000001f000 A runqueues
ffffffff81000000 T _text
ffffffff81000100 T startup_64
`
	require.Equal(t, uint64(0x00ffffffffffffff), kernelAddrSpaceStart("amd64"))
	require.Equal(t, uint64(0), kernelAddrSpaceStart("arm64"))

	defer func(prev uint64) { kernelAddrSpace = prev }(kernelAddrSpace)

	kernelAddrSpace = kernelAddrSpaceStart("amd64")
	tab, err := NewKallsyms([]byte(src))
	require.NoError(t, err)
	require.Equal(t, 2, tab.Size())
	_, ok := tab.Lookup("fixed_percpu_data")
	require.False(t, ok)
	require.Equal(t, uint64(0x100), tab.maxSize)

	kernelAddrSpace = kernelAddrSpaceStart("arm64")
	tab, err = NewKallsyms([]byte(src))
	require.NoError(t, err)
	require.Equal(t, 4, tab.Size())
	r, ok := tab.Lookup("fixed_percpu_data")
	require.True(t, ok)
	require.Equal(t, uint64(0), r.Size())
	require.Equal(t, uint64(0x100), tab.maxSize)

	r, ok = tab.Resolve(0xffffffff81000010)
	require.True(t, ok)
	require.Equal(t, "_text", r.Name())
	_, ok = tab.Resolve(0x1f010)
	require.False(t, ok)
}

func TestKallsymsMalformed(t *testing.T) {
	for _, src := range []string{
		"ffffffff81000000\n",
		"ffffffff81000000 T\n",
		"zzzz T foo\n",
	} {
		_, err := NewKallsyms([]byte(src))
		require.Error(t, err, src)
	}
}

func TestLoaderKallsyms(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kallsyms"), []byte(testKallsyms), 0o644))
	metrics := NewMetrics(nil)
	l, err := NewLoader(test.NewTestingLogger(t), LoaderOptions{Fs: dir, Metrics: metrics})
	require.NoError(t, err)

	tab, err := l.LoadKallsyms("/kallsyms")
	require.NoError(t, err)
	require.Equal(t, 9, tab.Size())
	require.Equal(t, filepath.Join(dir, "kallsyms"), tab.DebugInfo().Origin)

	_, err = l.LoadKallsyms("/missing")
	require.ErrorIs(t, err, os.ErrNotExist)
}
