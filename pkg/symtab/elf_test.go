package symtab

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/grafana/symbridge/pkg/symbol"
	"github.com/grafana/symbridge/pkg/test"
)

// testExecutable returns the running test binary, which is an ELF file with
// a symbol table on linux.
func testExecutable(t *testing.T) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("ELF symbols are only available on linux")
	}
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

func TestElfTable(t *testing.T) {
	exe := testExecutable(t)
	f, err := OpenELF(exe, ElfOptions{})
	require.NoError(t, err)

	tab, err := f.NewTable()
	require.NoError(t, err)
	defer tab.Cleanup()

	require.Greater(t, tab.Size(), 0)
	r, ok := tab.Lookup("runtime.main")
	if !ok {
		t.Skip("test binary is stripped")
	}
	require.Equal(t, symbol.KindFunc, r.Kind())
	require.NotZero(t, r.Address())
	require.NotZero(t, r.Size())

	resolved, ok := tab.Resolve(r.Address() + r.Size()/2)
	require.True(t, ok)
	require.Equal(t, r.Address(), resolved.Address())

	for _, s := range tab.All() {
		require.NotEmpty(t, s.Name())
	}
}

func TestElfBuildID(t *testing.T) {
	exe := testExecutable(t)
	f, err := OpenELF(exe, ElfOptions{})
	require.NoError(t, err)
	defer f.Close()

	id, err := f.BuildID()
	if err != nil {
		require.ErrorIs(t, err, ErrNoBuildIDSection)
		return
	}
	require.False(t, id.Empty())
	require.NotEmpty(t, id.String())
}

func note(order binary.ByteOrder, owner string, desc []byte) []byte {
	name := append([]byte(owner), 0)
	for len(name)%4 != 0 {
		name = append(name, 0)
	}
	hdr := make([]byte, 12)
	order.PutUint32(hdr[0:4], uint32(len(owner)+1))
	order.PutUint32(hdr[4:8], uint32(len(desc)))
	order.PutUint32(hdr[8:12], 3)
	return append(append(hdr, name...), desc...)
}

func TestBuildIDNotes(t *testing.T) {
	sha1 := []byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	desc, err := noteDesc(note(binary.LittleEndian, "GNU", sha1), binary.LittleEndian, "GNU")
	require.NoError(t, err)
	id, err := decodeGNUBuildID(desc)
	require.NoError(t, err)
	require.Equal(t, "deadbeef0102030405060708090a0b0c0d0e0f10", id)
	require.Equal(t, "gnu:"+id, BuildID{Kind: BuildIDGNU, ID: id}.String())

	desc, err = noteDesc(note(binary.BigEndian, "GNU", sha1[:8]), binary.BigEndian, "GNU")
	require.NoError(t, err)
	id, err = decodeGNUBuildID(desc)
	require.NoError(t, err)
	require.Equal(t, "deadbeef01020304", id)

	goID := "abcdefghij/klmnopqrst/uvwxyz0123/456789ABCD"
	desc, err = noteDesc(note(binary.LittleEndian, "Go", []byte(goID)), binary.LittleEndian, "Go")
	require.NoError(t, err)
	id, err = decodeGoBuildID(desc)
	require.NoError(t, err)
	require.Equal(t, goID, id)

	_, err = noteDesc(note(binary.LittleEndian, "Go", sha1), binary.LittleEndian, "GNU")
	require.Error(t, err)
	_, err = noteDesc(note(binary.LittleEndian, "GNU", sha1)[:20], binary.LittleEndian, "GNU")
	require.Error(t, err)
	_, err = noteDesc([]byte{1, 2, 3}, binary.LittleEndian, "GNU")
	require.Error(t, err)
	_, err = decodeGNUBuildID(sha1[:5])
	require.Error(t, err)
	_, err = decodeGoBuildID([]byte("redacted"))
	require.Error(t, err)

	require.True(t, BuildID{}.Empty())
	require.Equal(t, "", BuildID{Kind: BuildIDGo}.String())
	require.False(t, BuildID{Kind: BuildIDGo, ID: goID}.GNU())
}

func TestOpenELFErrors(t *testing.T) {
	_, err := OpenELF(filepath.Join(t.TempDir(), "missing"), ElfOptions{})
	require.ErrorIs(t, err, os.ErrNotExist)

	notElf := filepath.Join(t.TempDir(), "not-elf")
	require.NoError(t, os.WriteFile(notElf, []byte("definitely not an elf file"), 0o644))
	_, err = OpenELF(notElf, ElfOptions{})
	require.Error(t, err)
}

func TestLoaderCachesByBuildID(t *testing.T) {
	exe := testExecutable(t)
	f, err := OpenELF(exe, ElfOptions{})
	require.NoError(t, err)
	id, err := f.BuildID()
	require.NoError(t, f.Close())
	if err != nil || id.Empty() {
		t.Skip("test binary has no build ID")
	}

	metrics := NewMetrics(nil)
	l, err := NewLoader(test.NewTestingLogger(t), LoaderOptions{CacheSize: 4, Metrics: metrics})
	require.NoError(t, err)

	t1, err := l.LoadELF(exe)
	require.NoError(t, err)
	defer t1.Cleanup()
	t2, err := l.LoadELF(exe)
	require.NoError(t, err)
	defer t2.Cleanup()

	require.Equal(t, t1.Size(), t2.Size())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("miss")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.TablesLoaded.WithLabelValues("elf")))
}

func TestLoaderErrorMetrics(t *testing.T) {
	metrics := NewMetrics(nil)
	l, err := NewLoader(test.NewTestingLogger(t), LoaderOptions{Fs: t.TempDir(), Metrics: metrics})
	require.NoError(t, err)
	_, err = l.LoadELF("/usr/bin/nothing")
	require.Error(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ElfErrors.WithLabelValues("ErrNotExist")))
}

func TestCString(t *testing.T) {
	require.Equal(t, "ls.debug", cString([]byte("ls.debug\x00\x00\x00\x00abcd")))
	require.Equal(t, "abc", cString([]byte("abc")))
}
