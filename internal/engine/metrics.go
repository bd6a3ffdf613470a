package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks simulation progress for the status endpoint.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	FillsExecuted   prometheus.Counter
	ScheduledDates  prometheus.Counter
	EquityReturn    prometheus.Gauge
	HeapDepth       prometheus.Gauge
}

// NewMetrics registers engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtester",
			Name:      "events_processed_total",
			Help:      "Events dispatched by the simulation loop, by kind.",
		}, []string{"kind"}),
		FillsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "backtester",
			Name:      "fills_executed_total",
			Help:      "Fill events applied to the portfolio.",
		}),
		ScheduledDates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "backtester",
			Name:      "scheduled_dates_total",
			Help:      "Callback invocations placed on the event heap.",
		}),
		EquityReturn: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "backtester",
			Name:      "equity_return",
			Help:      "Cumulative portfolio return as a fraction.",
		}),
		HeapDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "backtester",
			Name:      "heap_depth",
			Help:      "Events remaining on the time-ordered heap.",
		}),
	}
}
