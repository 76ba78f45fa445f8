package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	spawnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kwextract",
		Subsystem: "engine",
		Name:      "spawns_total",
		Help:      "Engine server processes started",
	})

	spawnFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kwextract",
		Subsystem: "engine",
		Name:      "spawn_failures_total",
		Help:      "Engine spawn attempts that did not reach readiness",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(spawnsTotal, spawnFailures)
}
