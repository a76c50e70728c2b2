package program

import "github.com/prometheus/client_golang/prometheus"

const (
	lookupFound    = "found"
	lookupNotFound = "not_found"
	lookupError    = "error"
)

type Metrics struct {
	LivePrograms prometheus.Gauge
	LiveSymbols  prometheus.Gauge
	Lookups      *prometheus.CounterVec
	RefErrors    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LivePrograms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symbridge_program_live",
			Help: "Number of programs with at least one reference",
		}),
		LiveSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symbridge_program_live_symbols",
			Help: "Number of symbol objects not yet released",
		}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symbridge_program_symbol_lookups_total",
			Help: "Total number of symbol lookups by operation and result",
		}, []string{"op", "result"}),
		RefErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symbridge_program_reference_errors_total",
			Help: "Total number of program references dropped after the program was released",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.LivePrograms,
			m.LiveSymbols,
			m.Lookups,
			m.RefErrors,
		)
	}
	return m
}
