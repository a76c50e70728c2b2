package symtab

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/slices"

	"github.com/grafana/symbridge/pkg/symbol"
)

type LoaderOptions struct {
	// Fs is prepended to every path the loader opens, e.g. a container root.
	Fs         string
	ElfOptions ElfOptions
	// CacheSize is the number of symbol sets kept by build ID. 0 disables caching.
	CacheSize int
	Metrics   *Metrics // may be nil for tests
}

// Loader reads symbol tables from ELF files and kallsyms, following
// separate debug files and caching symbol sets by build ID.
type Loader struct {
	logger  log.Logger
	options LoaderOptions
	cache   *lru.Cache[string, []symbol.Record]
}

func NewLoader(logger log.Logger, options LoaderOptions) (*Loader, error) {
	l := &Loader{
		logger:  logger,
		options: options,
	}
	if options.CacheSize > 0 {
		cache, err := lru.New[string, []symbol.Record](options.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create symbol cache %w", err)
		}
		l.cache = cache
	}
	return l, nil
}

// LoadELF returns a table for the ELF file at elfFilePath.
func (l *Loader) LoadELF(elfFilePath string) (*Table, error) {
	fsElfFilePath := path.Join(l.options.Fs, elfFilePath)
	me, err := OpenELF(fsElfFilePath, l.options.ElfOptions)
	if err != nil {
		l.onLoadError(elfFilePath, err)
		return nil, err
	}

	buildID, err := me.BuildID()
	if err != nil && !errors.Is(err, ErrNoBuildIDSection) {
		_ = me.Close()
		l.onLoadError(elfFilePath, err)
		return nil, err
	}

	if recs, ok := l.cached(buildID); ok {
		t := NewTable(recs, me)
		t.origin = fsElfFilePath
		return t, nil
	}

	if debugFilePath := l.findDebugFile(buildID, me, elfFilePath); debugFilePath != "" {
		level.Debug(l.logger).Log("msg", "using separate debug file", "f", elfFilePath, "debug", debugFilePath)
		t, err := l.loadDebugFile(debugFilePath)
		if err == nil {
			_ = me.Close()
			l.onLoaded("debugfile", buildID, t)
			return t, nil
		}
		level.Warn(l.logger).Log("msg", "failed to read separate debug file", "debug", debugFilePath, "err", err)
	}

	t, err := me.NewTable()
	if err != nil {
		_ = me.Close()
		l.onLoadError(elfFilePath, err)
		return nil, err
	}
	level.Debug(l.logger).Log("msg", "create symbol table", "f", me.FilePath(), "symbols", t.Size())
	l.onLoaded("elf", buildID, t)
	return t, nil
}

func (l *Loader) loadDebugFile(debugFilePath string) (*Table, error) {
	debugMe, err := OpenELF(path.Join(l.options.Fs, debugFilePath), l.options.ElfOptions)
	if err != nil {
		return nil, err
	}
	t, err := debugMe.NewTable()
	if err != nil {
		_ = debugMe.Close()
		return nil, err
	}
	return t, nil
}

// LoadKallsyms reads a kallsyms formatted file, /proc/kallsyms by default.
func (l *Loader) LoadKallsyms(kallsymsPath string) (*Table, error) {
	if kallsymsPath == "" {
		kallsymsPath = "/proc/kallsyms"
	}
	t, err := LoadKallsyms(path.Join(l.options.Fs, kallsymsPath))
	if err != nil {
		l.onLoadError(kallsymsPath, err)
		return nil, err
	}
	if t.Size() == 0 {
		level.Warn(l.logger).Log("msg", "kallsyms is empty. check your permissions kptr_restrict==0 && sysctl_perf_event_paranoid <= 1 or kptr_restrict==1 && CAP_SYSLOG")
	}
	l.onLoaded("kallsyms", BuildID{}, t)
	return t, nil
}

func (l *Loader) cached(buildID BuildID) ([]symbol.Record, bool) {
	if l.cache == nil || buildID.Empty() {
		return nil, false
	}
	recs, ok := l.cache.Get(buildID.String())
	if l.options.Metrics != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		l.options.Metrics.CacheRequests.WithLabelValues(result).Inc()
	}
	if !ok {
		return nil, false
	}
	return slices.Clone(recs), true
}

func (l *Loader) onLoaded(source string, buildID BuildID, t *Table) {
	if l.cache != nil && !buildID.Empty() {
		l.cache.Add(buildID.String(), slices.Clone(t.symbols))
	}
	if l.options.Metrics != nil {
		l.options.Metrics.TablesLoaded.WithLabelValues(source).Inc()
		l.options.Metrics.SymbolsLoaded.Add(float64(t.Size()))
	}
}

func (l *Loader) findDebugFileWithBuildID(buildID BuildID) string {
	id := buildID.ID
	if len(id) < 3 || !buildID.GNU() {
		return ""
	}

	debugFile := fmt.Sprintf("/usr/lib/debug/.build-id/%s/%s.debug", id[:2], id[2:])
	fsDebugFile := path.Join(l.options.Fs, debugFile)
	_, err := os.Stat(fsDebugFile)
	if err == nil {
		return debugFile
	}

	return ""
}

func (l *Loader) findDebugFile(buildID BuildID, elfFile *ElfFile, elfFilePath string) string {
	// https://sourceware.org/gdb/onlinedocs/gdb/Separate-Debug-Files.html
	// So, for example, suppose you ask GDB to debug /usr/bin/ls, which has a debug link that specifies the file
	// ls.debug, and a build ID whose value in hex is abcdef1234. If the list of the global debug directories
	// includes /usr/lib/debug, then GDB will look for the following debug information files, in the indicated order:
	//
	//- /usr/lib/debug/.build-id/ab/cdef1234.debug
	//- /usr/bin/ls.debug
	//- /usr/bin/.debug/ls.debug
	//- /usr/lib/debug/usr/bin/ls.debug.
	debugFile := l.findDebugFileWithBuildID(buildID)
	if debugFile != "" {
		return debugFile
	}
	return l.findDebugFileWithDebugLink(elfFile, elfFilePath)
}

func (l *Loader) findDebugFileWithDebugLink(elfFile *ElfFile, elfFilePath string) string {
	fs := l.options.Fs
	debugLinkSection := elfFile.Section(".gnu_debuglink")
	if debugLinkSection == nil {
		return ""
	}
	data, err := debugLinkSection.Data()
	if err != nil {
		return ""
	}
	if len(data) < 6 {
		return ""
	}
	debugLink := cString(data)
	if debugLink == "" || debugLink == path.Base(elfFilePath) {
		return ""
	}

	// /usr/bin/ls.debug
	fsDebugFile := path.Join(path.Dir(elfFilePath), debugLink)
	_, err = os.Stat(path.Join(fs, fsDebugFile))
	if err == nil {
		return fsDebugFile
	}
	// /usr/bin/.debug/ls.debug
	fsDebugFile = path.Join(path.Dir(elfFilePath), ".debug", debugLink)
	_, err = os.Stat(path.Join(fs, fsDebugFile))
	if err == nil {
		return fsDebugFile
	}
	// /usr/lib/debug/usr/bin/ls.debug.
	fsDebugFile = path.Join("/usr/lib/debug", path.Dir(elfFilePath), debugLink)
	_, err = os.Stat(path.Join(fs, fsDebugFile))
	if err == nil {
		return fsDebugFile
	}

	return ""
}

func cString(bs []byte) string {
	i := 0
	for ; i < len(bs); i++ {
		if bs[i] == 0 {
			break
		}
	}
	return string(bs[:i])
}

func (l *Loader) onLoadError(f string, err error) {
	level.Error(l.logger).Log("msg", "failed to load symbol table", "err", err,
		"f", f,
		"fs", l.options.Fs)
	if l.options.Metrics != nil {
		l.options.Metrics.ElfErrors.WithLabelValues(errorType(err)).Inc()
	}
}

func errorType(err error) string {
	if errors.Is(err, os.ErrNotExist) {
		return "ErrNotExist"
	}
	if errors.Is(err, os.ErrPermission) {
		return "ErrPermission"
	}
	if errors.Is(err, os.ErrClosed) {
		return "ErrClosed"
	}
	if errors.Is(err, os.ErrInvalid) {
		return "ErrInvalid"
	}
	if errors.Is(err, ErrNoSymbols) {
		return "ErrNoSymbols"
	}
	return "Other"
}
