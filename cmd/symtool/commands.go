package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-kit/log"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/grafana/symbridge/pkg/classify"
	"github.com/grafana/symbridge/pkg/program"
	"github.com/grafana/symbridge/pkg/script"
)

// query is a symbol name or an address. Anything strconv.ParseUint accepts
// with base 0 is an address.
type query struct {
	name    string
	address uint64
	byAddr  bool
}

func parseQuery(s string) query {
	if addr, err := strconv.ParseUint(s, 0, 64); err == nil {
		return query{address: addr, byAddr: true}
	}
	return query{name: s}
}

func (q query) String() string {
	if q.byAddr {
		return fmt.Sprintf("0x%x", q.address)
	}
	return q.name
}

func lookup(ctx context.Context, p *program.Program, args []string) error {
	out := output(ctx)
	for _, arg := range args {
		q := parseQuery(arg)
		var (
			s   *program.Symbol
			err error
		)
		if q.byAddr {
			s, err = p.SymbolByAddress(q.address)
		} else {
			s, err = p.SymbolByName(q.name)
		}
		if err != nil {
			return err
		}
		r, err := s.Repr()
		s.Release()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, r)
	}
	return nil
}

func list(ctx context.Context, p *program.Program, filter string) error {
	var (
		syms []*program.Symbol
		err  error
	)
	switch q := parseQuery(filter); {
	case filter == "":
		syms, err = p.Symbols()
	case q.byAddr:
		syms, err = p.SymbolsByAddress(q.address)
	default:
		syms, err = p.SymbolsByName(q.name)
	}
	if err != nil {
		return err
	}
	defer func() {
		lo.ForEach(syms, func(s *program.Symbol, _ int) { s.Release() })
	}()

	rows := make([][]string, 0, len(syms))
	for _, s := range syms {
		binding, err := s.Binding()
		if err != nil {
			return err
		}
		kind, err := s.Kind()
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			s.Name(),
			fmt.Sprintf("0x%x", s.Address()),
			fmt.Sprintf("0x%x", s.Size()),
			binding.Name,
			kind.Name,
		})
	}

	table := tablewriter.NewWriter(output(ctx))
	table.SetHeader([]string{"Name", "Address", "Size", "Binding", "Kind"})
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func runScript(ctx context.Context, logger log.Logger, p *program.Program, cfg Config, set classify.Set, path string) error {
	h := script.NewHost(logger,
		script.WithOutput(output(ctx)),
		script.WithClasses(set),
		script.WithExecutionTimeout(cfg.ScriptTimeout),
	)
	defer h.Close()

	if err := h.Bind("prog", p); err != nil {
		return err
	}
	return h.RunFile(ctx, path)
}
