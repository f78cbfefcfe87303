// Package metrics exposes Prometheus collectors for the settlement engine and the upkeep sweeper.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gigvault"

// Collector holds every GigVault metric on its own registry.
type Collector struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	payouts    *prometheus.CounterVec
	payoutSum  *prometheus.CounterVec
	sweeps     *prometheus.CounterVec
	escrowed   prometheus.GaugeFunc
}

// New registers the collectors. escrowed, when non-nil, is sampled on every scrape.
func New(escrowed func() float64) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Engine write operations by name and result.",
		}, []string{"op", "result"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "payouts_total",
			Help:      "Committed payout legs by ledger entry type.",
		}, []string{"entry_type"}),
		payoutSum: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "payout_tokens_total",
			Help:      "Token units paid out of escrow by ledger entry type.",
		}, []string{"entry_type"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upkeep",
			Name:      "entries_total",
			Help:      "Upkeep entries by action and outcome.",
		}, []string{"action", "outcome"}),
	}
	c.registry.MustRegister(
		c.operations, c.payouts, c.payoutSum, c.sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if escrowed != nil {
		c.escrowed = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "custodied_tokens",
			Help:      "Token units currently held in escrow across all tasks.",
		}, escrowed)
		c.registry.MustRegister(c.escrowed)
	}
	return c
}

// ObserveOperation counts one engine write. Validation failures and infrastructure
// failures are both counted as errors.
func (c *Collector) ObserveOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.operations.WithLabelValues(op, result).Inc()
}

func (c *Collector) ObservePayout(entryType string, amount int64) {
	c.payouts.WithLabelValues(entryType).Inc()
	c.payoutSum.WithLabelValues(entryType).Add(float64(amount))
}

// ObserveSweep counts one upkeep entry. outcome is performed, skipped or failed.
func (c *Collector) ObserveSweep(action, outcome string) {
	c.sweeps.WithLabelValues(action, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Gatherer exposes the registry for tests and push gateways.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }

// Serve runs a metrics-only HTTP server until it is shut down.
func Serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
