package symtab

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ElfErrors     *prometheus.CounterVec
	TablesLoaded  *prometheus.CounterVec
	SymbolsLoaded prometheus.Counter
	CacheRequests *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ElfErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symbridge_symtab_elf_errors_total",
			Help: "Total number of errors while trying to open an elf file",
		}, []string{"error"}),
		TablesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symbridge_symtab_tables_loaded_total",
			Help: "Total number of symbol tables loaded by source",
		}, []string{"source"}),
		SymbolsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symbridge_symtab_symbols_loaded_total",
			Help: "Total number of symbols read from debug information",
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symbridge_symtab_cache_requests_total",
			Help: "Total number of symbol cache lookups by result",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ElfErrors,
			m.TablesLoaded,
			m.SymbolsLoaded,
			m.CacheRequests,
		)
	}

	return m
}
