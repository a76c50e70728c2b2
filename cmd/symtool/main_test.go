package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/symbridge/pkg/classify"
	"github.com/grafana/symbridge/pkg/program"
	"github.com/grafana/symbridge/pkg/test"
)

const testKallsyms = `0000000000000000 A fixed_percpu_data
ffffffff81000000 T _text
ffffffff81000100 T startup_64
ffffffff81000200 t secondary_startup_64
ffffffff81000300 D kernel_data
ffffffff81000400 V weak_hook
ffffffffc0000000 t xfs_init	[xfs]
ffffffffc0000100 t xfs_exit	[xfs]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestProgram(t *testing.T, set classify.Set, reg prometheus.Registerer) *program.Program {
	t.Helper()
	c := defaultConfig()
	c.KallsymsPath = writeFile(t, "kallsyms", testKallsyms)
	require.NoError(t, c.Validate())
	p, err := openProgram(test.NewTestingLogger(t), c, set, reg)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(cfg *Config)
		wantErr bool
	}{
		{
			name:  "elf",
			setup: func(cfg *Config) { cfg.ElfPath = "/bin/true" },
		},
		{
			name:  "kallsyms",
			setup: func(cfg *Config) { cfg.KallsymsPath = "/proc/kallsyms" },
		},
		{
			name:    "no source",
			setup:   func(cfg *Config) {},
			wantErr: true,
		},
		{
			name: "both sources",
			setup: func(cfg *Config) {
				cfg.ElfPath = "/bin/true"
				cfg.KallsymsPath = "/proc/kallsyms"
			},
			wantErr: true,
		},
		{
			name: "negative cache size",
			setup: func(cfg *Config) {
				cfg.ElfPath = "/bin/true"
				cfg.CacheSize = -1
			},
			wantErr: true,
		},
		{
			name: "negative script timeout",
			setup: func(cfg *Config) {
				cfg.ElfPath = "/bin/true"
				cfg.ScriptTimeout = -time.Second
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.setup(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)

	path := writeFile(t, "config.yaml", `
elf_path: /usr/bin/ls
base: 0x400000
demangle: true
cache_size: 4
script_timeout: 5s
`)
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/ls", cfg.ElfPath)
	require.Equal(t, uint64(0x400000), cfg.Base)
	require.True(t, cfg.Demangle)
	require.True(t, cfg.MiniDebugInfo)
	require.Equal(t, 4, cfg.CacheSize)
	require.Equal(t, 5*time.Second, cfg.ScriptTimeout)

	_, err = loadConfig(writeFile(t, "bad.yaml", "unknown_field: 1\n"))
	require.Error(t, err)

	cfg, err = loadConfig(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFlagOverrides(t *testing.T) {
	cfg := defaultConfig()
	cfg.ElfPath = "/usr/bin/ls"
	cfg.Base = 0x1000

	flagOverrides{kallsyms: "/proc/kallsyms", demangle: true}.apply(&cfg)
	require.Equal(t, "", cfg.ElfPath)
	require.Equal(t, "/proc/kallsyms", cfg.KallsymsPath)
	require.Equal(t, uint64(0x1000), cfg.Base)
	require.True(t, cfg.Demangle)
	require.NoError(t, cfg.Validate())

	flagOverrides{elf: "/bin/true", kallsyms: "/proc/kallsyms"}.apply(&cfg)
	require.Error(t, cfg.Validate())
}

func TestParseQuery(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want query
	}{
		{"main", query{name: "main"}},
		{"0x401000", query{address: 0x401000, byAddr: true}},
		{"4198400", query{address: 4198400, byAddr: true}},
		{"0xzz", query{name: "0xzz"}},
		{"_start", query{name: "_start"}},
	} {
		require.Equal(t, tc.want, parseQuery(tc.in), tc.in)
	}
	require.Equal(t, "0x10", parseQuery("16").String())
	require.Equal(t, "main", parseQuery("main").String())
}

func TestLookup(t *testing.T) {
	p := newTestProgram(t, classify.DefaultSet(), nil)
	out := &bytes.Buffer{}
	ctx := withOutput(context.Background(), out)

	require.NoError(t, lookup(ctx, p, []string{"startup_64", "0xffffffff81000210"}))
	require.Equal(t,
		"Symbol(name='startup_64', address=0xffffffff81000100, size=0x100, binding=<SymbolBinding.GLOBAL: 2>, kind=<SymbolKind.FUNC: 2>)\n"+
			"Symbol(name='secondary_startup_64', address=0xffffffff81000200, size=0x100, binding=<SymbolBinding.LOCAL: 1>, kind=<SymbolKind.FUNC: 2>)\n",
		out.String())
	require.Equal(t, int64(1), p.Refs())

	err := lookup(ctx, p, []string{"missing"})
	require.ErrorIs(t, err, program.ErrSymbolNotFound)
}

func TestList(t *testing.T) {
	p := newTestProgram(t, classify.DefaultSet(), nil)
	out := &bytes.Buffer{}
	ctx := withOutput(context.Background(), out)

	require.NoError(t, list(ctx, p, ""))
	s := out.String()
	for _, name := range []string{"_text", "startup_64", "kernel_data", "weak_hook", "xfs_init", "xfs_exit"} {
		require.Contains(t, s, name)
	}
	require.Contains(t, s, "BINDING")
	require.Equal(t, int64(1), p.Refs())

	out.Reset()
	require.NoError(t, list(ctx, p, "xfs_init"))
	require.Contains(t, out.String(), "xfs_init")
	require.NotContains(t, out.String(), "xfs_exit")
}

func TestListCustomClasses(t *testing.T) {
	set, err := loadClassSet(writeFile(t, "classes.yaml", `
classes:
  - name: SymbolKind
    members:
      FUNCTION: 2
`))
	require.NoError(t, err)
	p := newTestProgram(t, set, nil)
	out := &bytes.Buffer{}
	require.NoError(t, list(withOutput(context.Background(), out), p, "startup_64"))
	require.Contains(t, out.String(), "FUNCTION")
}

func TestRunScript(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := newTestProgram(t, classify.DefaultSet(), reg)
	out := &bytes.Buffer{}
	ctx := withOutput(context.Background(), out)

	path := writeFile(t, "script.lua", `
local s = prog:symbol("weak_hook")
print(s.name, tostring(s.binding), tostring(s.kind))
s:release()
`)
	c := defaultConfig()
	require.NoError(t, runScript(ctx, test.NewTestingLogger(t), p, c, classify.DefaultSet(), path))
	require.Equal(t, "weak_hook\tSymbolBinding.WEAK\tSymbolKind.OBJECT\n", out.String())

	metrics := &bytes.Buffer{}
	require.NoError(t, dumpMetrics(metrics, reg))
	require.Contains(t, metrics.String(), "symbridge_program_symbol_lookups_total")
}

func TestLoadClassSet(t *testing.T) {
	set, err := loadClassSet("")
	require.NoError(t, err)
	require.Equal(t, classify.BindingClass, set.Bindings.Name())

	_, err = loadClassSet(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = loadClassSet(writeFile(t, "bad.yaml", "classes:\n  - name: Nope\n    members: {A: 1}\n"))
	require.Error(t, err)
}

func TestCheckError(t *testing.T) {
	require.Equal(t, 0, checkError(nil))
	require.Equal(t, 1, checkError(program.ErrProgramReleased))
}
