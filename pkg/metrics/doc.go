/*
Package metrics provides Prometheus metrics and health reporting for the
fleet console.

All collectors are package-level variables registered with the default
Prometheus registry at init, so any package can record into them without
plumbing a registry around:

	┌──────────────── METRICS ─────────────────┐
	│                                           │
	│  client    ──► Connected, ReconnectsTotal │
	│  console   ──► MessagesTotal,             │
	│                MessagesDroppedTotal,      │
	│                EventDuration              │
	│  manifest  ──► ManifestFetchesTotal,      │
	│                ManifestFetchDuration      │
	│  command   ──► CommandsTotal              │
	│  Collector ──► ImageTypesTotal,           │
	│                InstancesTotal, Targets    │
	│                                           │
	│            promhttp.Handler() /metrics    │
	└───────────────────────────────────────────┘

# Metric Catalog

	fleetconsole_connected                         gauge
	fleetconsole_reconnects_total                  counter
	fleetconsole_messages_total{type}              counter
	fleetconsole_messages_dropped_total{reason}    counter
	fleetconsole_image_types_total                 gauge
	fleetconsole_instances_total{image_type,state} gauge
	fleetconsole_targets_total                     gauge
	fleetconsole_manifest_fetches_total{result}    counter
	fleetconsole_manifest_fetch_duration_seconds   histogram
	fleetconsole_commands_total{result}            counter
	fleetconsole_event_duration_seconds{kind}      histogram

# Collector

Fleet gauges are derived state. Rather than updating them on every report,
the Collector reads a FleetSnapshot every 15 seconds and sets them in one
pass. Instance gauges of image types that left the set are deleted.

# Health

The health registry tracks named components. The "connection" component is
critical: while it is unhealthy /health answers 503 and /ready is not ready.
Any other unhealthy component, such as "manifest" after a failed fetch,
only degrades the status.

# Timing

	timer := metrics.NewTimer()
	m, err := fetch()
	timer.ObserveDuration(metrics.ManifestFetchDuration)
*/
package metrics
