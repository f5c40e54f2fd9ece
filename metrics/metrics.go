package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	FetchAttempts  *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	Crawls         *prometheus.CounterVec
	MarketsSettled prometheus.Counter
	TicksInserted  prometheus.Counter
	SweepDuration  prometheus.Histogram
	FixturesDue    prometheus.Gauge
	TicksPruned    prometheus.Counter
}

// New creates the collectors and registers them on reg (nil means the default registerer)
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oddsharvest_fetch_attempts_total",
			Help: "HTTP attempts against the provider by validity",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oddsharvest_fetch_duration_seconds",
			Help:    "duration of single provider requests",
			Buckets: prometheus.DefBuckets,
		}),
		Crawls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oddsharvest_crawls_total",
			Help: "fixture crawls by resulting status",
		}, []string{"status"}),
		MarketsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddsharvest_markets_settled_total",
			Help: "markets that received a result",
		}),
		TicksInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddsharvest_ticks_inserted_total",
			Help: "new odds history ticks written",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oddsharvest_sweep_duration_seconds",
			Help:    "duration of a sweep over due fixtures",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		FixturesDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oddsharvest_fixtures_due",
			Help: "fixtures due at the start of the last sweep",
		}),
		TicksPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddsharvest_ticks_pruned_total",
			Help: "odds history ticks removed by retention",
		}),
	}
	reg.MustRegister(
		m.FetchAttempts, m.FetchDuration, m.Crawls, m.MarketsSettled,
		m.TicksInserted, m.SweepDuration, m.FixturesDue, m.TicksPruned,
	)
	return m
}

// ObserveFetch records one provider request
func (m *Metrics) ObserveFetch(valid bool, elapsed time.Duration) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.FetchAttempts.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(elapsed.Seconds())
}
