package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the plant's Prometheus surface: message processing outcomes,
// trigger dispatch volume, live device-actor count and interface-cache hit
// ratio.
type Metrics struct {
	MessagesProcessed *prometheus.CounterVec // labels: realm, msg_type, outcome (routed|discard)
	TriggersDispatched *prometheus.CounterVec // labels: realm, event_type
	ActiveDeviceActors prometheus.Gauge
	InterfaceCacheHits   prometheus.Counter
	InterfaceCacheMisses prometheus.Counter
	HandlingErrors     *prometheus.CounterVec // labels: kind
}

// NewMetrics registers the plant's metric family with the default
// registerer, the way the teacher's NewHTTPMetrics/NewBusinessMetrics do.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astarte_data_updater_plant_messages_processed_total",
				Help: "Total number of broker messages processed, by outcome.",
			},
			[]string{"realm", "msg_type", "outcome"},
		),
		TriggersDispatched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astarte_data_updater_plant_triggers_dispatched_total",
				Help: "Total number of trigger events published to the outbound exchange.",
			},
			[]string{"realm", "event_type"},
		),
		ActiveDeviceActors: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "astarte_data_updater_plant_active_device_actors",
				Help: "Number of device actors currently registered in the actor registry.",
			},
		),
		InterfaceCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "astarte_data_updater_plant_interface_cache_hits_total",
				Help: "Total number of interface-descriptor cache hits.",
			},
		),
		InterfaceCacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "astarte_data_updater_plant_interface_cache_misses_total",
				Help: "Total number of interface-descriptor cache misses.",
			},
		),
		HandlingErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "astarte_data_updater_plant_handling_errors_total",
				Help: "Total number of message handling errors, by taxonomy kind.",
			},
			[]string{"kind"},
		),
	}
}
