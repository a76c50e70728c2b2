package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/symbridge/pkg/classify"
	"github.com/grafana/symbridge/pkg/program"
)

var cfg struct {
	verbose     bool
	configFile  string
	dumpMetrics bool
	overrides   flagOverrides
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	ctx := withOutput(context.Background(), os.Stdout)

	app := kingpin.New(filepath.Base(os.Args[0]), "Inspect the symbols of ELF files and kallsyms.").UsageWriter(os.Stdout)
	app.Version(version.Print("symtool"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)
	app.Flag("config.file", "YAML configuration file.").StringVar(&cfg.configFile)
	app.Flag("metrics", "Print collected metrics on exit.").BoolVar(&cfg.dumpMetrics)
	app.Flag("fs", "Root prepended to every opened path.").StringVar(&cfg.overrides.fs)
	app.Flag("elf", "ELF file to read symbols from.").StringVar(&cfg.overrides.elf)
	app.Flag("kallsyms", "kallsyms file to read symbols from.").StringVar(&cfg.overrides.kallsyms)
	app.Flag("base", "Load address of the object.").Uint64Var(&cfg.overrides.base)
	app.Flag("demangle", "Demangle C++ and Rust symbol names.").BoolVar(&cfg.overrides.demangle)
	app.Flag("classes.file", "YAML file extending the SymbolBinding and SymbolKind classes.").StringVar(&cfg.overrides.classesFile)

	lookupCmd := app.Command("lookup", "Look up symbols by name or address.")
	lookupArgs := lookupCmd.Arg("query", "Symbol names or addresses.").Required().Strings()

	listCmd := app.Command("list", "List symbols.")
	listFilter := listCmd.Arg("filter", "Only list symbols with this name or containing this address.").String()

	runCmd := app.Command("run", "Run a Lua script with the program bound to 'prog'.")
	runFile := runCmd.Arg("script", "Lua script path.").Required().ExistingFile()

	versionCmd := app.Command("version", "Print version information.")

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// enable verbose logging if requested
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	if parsedCmd == versionCmd.FullCommand() {
		fmt.Fprintln(output(ctx), version.Print("symtool"))
		return
	}

	reg := prometheus.NewRegistry()
	err := withProgram(reg, func(p *program.Program, c Config, set classify.Set) error {
		switch parsedCmd {
		case lookupCmd.FullCommand():
			return lookup(ctx, p, *lookupArgs)
		case listCmd.FullCommand():
			return list(ctx, p, *listFilter)
		case runCmd.FullCommand():
			return runScript(ctx, logger, p, c, set, *runFile)
		default:
			return fmt.Errorf("unknown command %s", parsedCmd)
		}
	})
	if cfg.dumpMetrics {
		if merr := dumpMetrics(os.Stderr, reg); merr != nil {
			level.Warn(logger).Log("msg", "failed to dump metrics", "err", merr)
		}
	}
	os.Exit(checkError(err))
}

func withProgram(reg prometheus.Registerer, fn func(*program.Program, Config, classify.Set) error) error {
	c, err := loadConfig(cfg.configFile)
	if err != nil {
		return err
	}
	cfg.overrides.apply(&c)
	if err := c.Validate(); err != nil {
		return err
	}
	set, err := loadClassSet(c.ClassesFile)
	if err != nil {
		return err
	}
	p, err := openProgram(logger, c, set, reg)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p, c, set)
}

func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}
