package main

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/symbridge/pkg/classify"
	"github.com/grafana/symbridge/pkg/program"
	"github.com/grafana/symbridge/pkg/symtab"
)

func loadClassSet(path string) (classify.Set, error) {
	if path == "" {
		return classify.DefaultSet(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return classify.Set{}, errors.Wrap(err, "open classes file")
	}
	defer f.Close()
	set, err := classify.LoadClasses(f)
	if err != nil {
		return classify.Set{}, errors.Wrapf(err, "load classes from %s", path)
	}
	return set, nil
}

// openProgram loads the configured symbol source into a new program. The
// caller owns the returned program and must Close it.
func openProgram(logger log.Logger, cfg Config, set classify.Set, reg prometheus.Registerer) (*program.Program, error) {
	loader, err := symtab.NewLoader(logger, symtab.LoaderOptions{
		Fs: cfg.Fs,
		ElfOptions: symtab.ElfOptions{
			Demangle:      cfg.Demangle,
			MiniDebugInfo: cfg.MiniDebugInfo,
		},
		CacheSize: cfg.CacheSize,
		Metrics:   symtab.NewMetrics(reg),
	})
	if err != nil {
		return nil, err
	}

	var table *symtab.Table
	if cfg.ElfPath != "" {
		table, err = loader.LoadELF(cfg.ElfPath)
	} else {
		table, err = loader.LoadKallsyms(cfg.KallsymsPath)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load symbols")
	}
	if cfg.Base != 0 {
		table.Rebase(cfg.Base)
	}
	level.Debug(logger).Log("msg", "symbols loaded", "table", table.DebugString())

	return program.New(table, program.Options{
		Logger:   logger,
		Metrics:  program.NewMetrics(reg),
		Bindings: set.Bindings,
		Kinds:    set.Kinds,
	}), nil
}
