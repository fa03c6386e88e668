// Package metrics holds the Prometheus collectors for the simulation and
// its persistence stack.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide registry served on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		SnapshotSaves, SnapshotSaveDuration, SnapshotLoads,
		AutoSaveLastTick, SimulationTick, AgentsAlive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// SnapshotSaves counts snapshot writes by kind (manual|auto) and result (ok|error).
var SnapshotSaves = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alife_snapshot_saves_total",
		Help: "Snapshot saves by kind and result.",
	},
	[]string{"kind", "result"},
)

// SnapshotSaveDuration is the wall time of one save transaction.
var SnapshotSaveDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "alife_snapshot_save_duration_seconds",
		Help:    "Duration of snapshot save transactions in seconds.",
		Buckets: prometheus.DefBuckets,
	},
)

// SnapshotLoads counts snapshot reads by result (ok|missing|error).
var SnapshotLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alife_snapshot_loads_total",
		Help: "Snapshot loads by result.",
	},
	[]string{"result"},
)

// AutoSaveLastTick is the tick of the most recent successful auto-save.
var AutoSaveLastTick = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "alife_autosave_last_tick",
		Help: "Tick of the last successful auto-save.",
	},
)

// SimulationTick is the current simulation tick.
var SimulationTick = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "alife_simulation_tick",
		Help: "Current simulation tick.",
	},
)

// AgentsAlive is the living agent count after the last tick.
var AgentsAlive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "alife_agents_alive",
		Help: "Living agents after the last tick.",
	},
)

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
