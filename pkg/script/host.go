// Package script embeds a Lua interpreter that exposes programs and their
// symbols to scripts.
//
// gopher-lua's LState is not goroutine-safe; Host serializes every call.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lua "github.com/yuin/gopher-lua"

	"github.com/grafana/symbridge/pkg/classify"
	"github.com/grafana/symbridge/pkg/program"
)

const DefaultExecutionTimeout = 30 * time.Second

var ErrHostClosed = errors.New("script host is closed")

type Host struct {
	L      *lua.LState
	logger log.Logger

	mu      sync.Mutex
	closed  bool
	timeout time.Duration
	out     io.Writer
	classes classify.Set
}

type Option func(*Host)

// WithExecutionTimeout bounds each Run. Zero disables the limit.
func WithExecutionTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.timeout = d
	}
}

// WithOutput redirects print.
func WithOutput(w io.Writer) Option {
	return func(h *Host) {
		h.out = w
	}
}

// WithClasses sets the classes published as the SymbolBinding and
// SymbolKind globals.
func WithClasses(set classify.Set) Option {
	return func(h *Host) {
		h.classes = set
	}
}

func NewHost(logger log.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	h := &Host{
		logger:  logger,
		timeout: DefaultExecutionTimeout,
		out:     os.Stdout,
		classes: classify.DefaultSet(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(h.L)
	h.installPrint()
	registerTypes(h.L)
	h.installClasses()
	return h
}

func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func (h *Host) installPrint() {
	h.L.SetGlobal("print", h.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fmt.Fprintln(h.out, strings.Join(parts, "\t"))
		return 0
	}))
}

func (h *Host) installClasses() {
	for _, c := range []*classify.Class{h.classes.Bindings, h.classes.Kinds} {
		if c == nil {
			continue
		}
		tbl := h.L.NewTable()
		for _, v := range c.Members() {
			tbl.RawSetString(v.Name, newEnum(h.L, v))
		}
		h.L.SetGlobal(c.Name(), tbl)
	}
}

// Bind publishes p as the global name. The host does not take a reference;
// the caller keeps p open while scripts may use it.
func (h *Host) Bind(name string, p *program.Program) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHostClosed
	}
	h.L.SetGlobal(name, newProgram(h.L, p))
	return nil
}

// Run executes src. Cancelling ctx interrupts the script.
func (h *Host) Run(ctx context.Context, src string) error {
	return h.exec(ctx, "<string>", func() error {
		return h.L.DoString(src)
	})
}

func (h *Host) RunFile(ctx context.Context, path string) error {
	return h.exec(ctx, path, func() error {
		return h.L.DoFile(path)
	})
}

func (h *Host) exec(ctx context.Context, chunk string, fn func() error) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHostClosed
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	h.L.SetContext(ctx)
	defer h.L.RemoveContext()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if err != nil {
			level.Debug(h.logger).Log("msg", "script failed", "chunk", chunk, "err", err)
			return
		}
		level.Debug(h.logger).Log("msg", "script finished", "chunk", chunk, "duration", time.Since(start))
	}()
	return fn()
}

// Close releases the interpreter. Symbols still referenced only by the
// interpreter are released when they are garbage collected.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.L.Close()
	h.closed = true
	return nil
}
