// Package program provides reference-counted debugging sessions and the
// symbol objects they hand out.
//
// A Program owns a symbol table. Every Symbol it returns owns one resolved
// record and holds a reference on the Program, so the table stays alive
// until the creator has called Close and every Symbol has been released.
// Programs never track the symbols they issued.
package program

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/grafana/symbridge/pkg/classify"
	"github.com/grafana/symbridge/pkg/symbol"
	"github.com/grafana/symbridge/pkg/symtab"
)

type Options struct {
	Logger   log.Logger
	Metrics  *Metrics // nil means unregistered metrics
	Bindings classify.Constructor
	Kinds    classify.Constructor
}

type Program struct {
	logger   log.Logger
	metrics  *Metrics
	table    *symtab.Table
	bindings classify.Constructor
	kinds    classify.Constructor

	// alloc creates the Symbol shell in wrap; tests replace it to fail.
	alloc func() (*Symbol, error)

	refs      atomic.Int64
	closeOnce sync.Once
}

// New returns a Program owning table. The caller holds the first reference
// and drops it with Close.
func New(table *symtab.Table, options Options) *Program {
	if options.Logger == nil {
		options.Logger = log.NewNopLogger()
	}
	if options.Metrics == nil {
		options.Metrics = NewMetrics(nil)
	}
	if options.Bindings == nil {
		options.Bindings = classify.Bindings()
	}
	if options.Kinds == nil {
		options.Kinds = classify.Kinds()
	}
	p := &Program{
		logger:   options.Logger,
		metrics:  options.Metrics,
		table:    table,
		bindings: options.Bindings,
		kinds:    options.Kinds,
		alloc:    newSymbol,
	}
	p.refs.Store(1)
	p.metrics.LivePrograms.Inc()
	level.Debug(p.logger).Log("msg", "program created", "table", table.DebugString())
	return p
}

// Close drops the creator's reference. The table is released once every
// Symbol obtained from the program has been released too.
func (p *Program) Close() {
	p.closeOnce.Do(p.release)
}

// Refs returns the current number of references.
func (p *Program) Refs() int64 {
	return p.refs.Load()
}

// Alive reports whether the program still holds its table.
func (p *Program) Alive() bool {
	return p.refs.Load() > 0
}

func (p *Program) DebugInfo() symtab.TableDebugInfo {
	return p.table.DebugInfo()
}

// acquire adds a reference. It fails once the count has reached zero: a
// released program is never revived.
func (p *Program) acquire() error {
	for {
		n := p.refs.Load()
		if n <= 0 {
			return ErrProgramReleased
		}
		if p.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

func (p *Program) release() {
	n := p.refs.Dec()
	switch {
	case n == 0:
		p.teardown()
	case n < 0:
		p.refs.Inc()
		p.metrics.RefErrors.Inc()
		level.Error(p.logger).Log("msg", "program reference released after teardown")
	}
}

func (p *Program) teardown() {
	p.metrics.LivePrograms.Dec()
	level.Debug(p.logger).Log("msg", "releasing program", "table", p.table.DebugString())
	if err := p.table.Cleanup(); err != nil {
		level.Warn(p.logger).Log("msg", "failed to clean up symbol table", "err", err)
	}
}

// SymbolByName returns the symbol named name. Global symbols are preferred
// over weak ones, weak ones over local ones.
func (p *Program) SymbolByName(name string) (*Symbol, error) {
	return p.lookupOne("name", func() (symbol.Record, bool) {
		return p.table.Lookup(name)
	}, func() error {
		return fmt.Errorf("%w %q", ErrSymbolNotFound, name)
	})
}

// SymbolByAddress returns the symbol containing addr.
func (p *Program) SymbolByAddress(addr uint64) (*Symbol, error) {
	return p.lookupOne("address", func() (symbol.Record, bool) {
		return p.table.Resolve(addr)
	}, func() error {
		return fmt.Errorf("%w containing 0x%x", ErrSymbolNotFound, addr)
	})
}

// Symbols returns every symbol in the program.
func (p *Program) Symbols() ([]*Symbol, error) {
	return p.lookupAll("list", p.table.All)
}

func (p *Program) SymbolsByName(name string) ([]*Symbol, error) {
	return p.lookupAll("name", func() []symbol.Record {
		return p.table.ByName(name)
	})
}

func (p *Program) SymbolsByAddress(addr uint64) ([]*Symbol, error) {
	return p.lookupAll("address", func() []symbol.Record {
		return p.table.ByAddress(addr)
	})
}

func (p *Program) lookupOne(op string, find func() (symbol.Record, bool), notFound func() error) (*Symbol, error) {
	if err := p.acquire(); err != nil {
		p.metrics.Lookups.WithLabelValues(op, lookupError).Inc()
		return nil, err
	}
	defer p.release()

	rec, ok := find()
	if !ok {
		p.metrics.Lookups.WithLabelValues(op, lookupNotFound).Inc()
		return nil, notFound()
	}
	h := symbol.NewHandle(rec)
	s, err := wrap(h, p)
	if err != nil {
		h.Release()
		p.metrics.Lookups.WithLabelValues(op, lookupError).Inc()
		return nil, err
	}
	p.metrics.Lookups.WithLabelValues(op, lookupFound).Inc()
	return s, nil
}

func (p *Program) lookupAll(op string, find func() []symbol.Record) ([]*Symbol, error) {
	if err := p.acquire(); err != nil {
		p.metrics.Lookups.WithLabelValues(op, lookupError).Inc()
		return nil, err
	}
	defer p.release()

	recs := find()
	res := make([]*Symbol, 0, len(recs))
	for _, rec := range recs {
		h := symbol.NewHandle(rec)
		s, err := wrap(h, p)
		if err != nil {
			h.Release()
			for _, issued := range res {
				issued.Release()
			}
			p.metrics.Lookups.WithLabelValues(op, lookupError).Inc()
			return nil, err
		}
		res = append(res, s)
	}
	result := lookupFound
	if len(res) == 0 {
		result = lookupNotFound
	}
	p.metrics.Lookups.WithLabelValues(op, result).Inc()
	return res, nil
}
