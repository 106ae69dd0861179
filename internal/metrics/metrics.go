// Package metrics exposes the counter, presence and hub state in the
// Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/hub"
)

// Metrics owns a private registry. Gauges and counters that mirror the store
// read it at scrape time, so values restored from a snapshot show up without
// extra bookkeeping.
type Metrics struct {
	registry *prometheus.Registry

	closures *prometheus.CounterVec
	saves    *prometheus.CounterVec
}

func New(store *counter.Store, presence *counter.Presence, h *hub.Hub) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "concurrent_users",
			Help: "Number of currently connected users",
		}, func() float64 { return float64(presence.Concurrent()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "total_users",
			Help: "Total number of users since the counters were created",
		}, func() float64 { return float64(presence.Total()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "votes_total",
			Help: "Total number of votes across all colors",
		}, func() float64 { return float64(store.Total()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "hub_dropped_subscribers_total",
			Help: "Sessions dropped because they could not keep up with broadcasts",
		}, func() float64 { return float64(h.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hub_subscribers",
			Help: "Subscribers currently registered with the broadcast hub",
		}, func() float64 { return float64(h.Count()) }),
	)

	for _, c := range counter.Colors {
		color := c
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "color_votes_total",
			Help:        "Vote counts per color",
			ConstLabels: prometheus.Labels{"color": color.String()},
		}, func() float64 { return float64(store.Get(color)) }))
	}

	m := &Metrics{
		registry: reg,
		closures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_closures_total",
			Help: "Closed sessions by close reason",
		}, []string{"reason"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_saves_total",
			Help: "Snapshot save attempts by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.closures,
		m.saves,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SessionClosed counts one session closure.
func (m *Metrics) SessionClosed(reason string) {
	m.closures.WithLabelValues(reason).Inc()
}

// SnapshotSaved counts one save attempt. It matches persist.Saver.OnResult.
func (m *Metrics) SnapshotSaved(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
