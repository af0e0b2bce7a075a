// Package metrics exposes Prometheus collectors for the worklist service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkItemsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upsrs_workitems_created_total",
			Help: "Total number of work items created",
		},
	)

	EventsBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upsrs_events_built_total",
			Help: "Total number of event reports built by type",
		},
		[]string{"type"},
	)

	EventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upsrs_events_delivered_total",
			Help: "Total number of event reports handed to an open push channel",
		},
	)

	EventsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upsrs_events_queued_total",
			Help: "Total number of event reports queued for an offline subscriber",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upsrs_events_dropped_total",
			Help: "Total number of queued event reports dropped under overflow",
		},
	)

	PushChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upsrs_push_channels",
			Help: "Number of currently open push channels",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkItemsCreated)
	prometheus.MustRegister(EventsBuilt)
	prometheus.MustRegister(EventsDelivered)
	prometheus.MustRegister(EventsQueued)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(PushChannels)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
