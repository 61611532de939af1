package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	ImageTypesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetconsole_image_types_total",
			Help: "Number of image types in the current image_types set",
		},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetconsole_instances_total",
			Help: "Number of known instances by image type and freshness",
		},
		[]string{"image_type", "state"},
	)

	TargetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetconsole_targets_total",
			Help: "Number of known instances that currently accept commands",
		},
	)

	// Channel metrics
	Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetconsole_connected",
			Help: "Whether the operator channel is open (1 = open, 0 = closed)",
		},
	)

	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetconsole_reconnects_total",
			Help: "Total number of scheduled reconnection attempts",
		},
	)

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetconsole_messages_total",
			Help: "Total number of inbound messages by type",
		},
		[]string{"type"},
	)

	MessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetconsole_messages_dropped_total",
			Help: "Total number of inbound messages discarded by reason",
		},
		[]string{"reason"},
	)

	// Manifest metrics
	ManifestFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetconsole_manifest_fetches_total",
			Help: "Total number of manifest fetches by result",
		},
		[]string{"result"},
	)

	ManifestFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetconsole_manifest_fetch_duration_seconds",
			Help:    "Manifest fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Command metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetconsole_commands_total",
			Help: "Total number of operator commands by result",
		},
		[]string{"result"},
	)

	// Loop metrics
	EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetconsole_event_duration_seconds",
			Help:    "Time spent handling one console event by kind",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(ImageTypesTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(TargetsTotal)
	prometheus.MustRegister(Connected)
	prometheus.MustRegister(ReconnectsTotal)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(MessagesDroppedTotal)
	prometheus.MustRegister(ManifestFetchesTotal)
	prometheus.MustRegister(ManifestFetchDuration)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(EventDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
