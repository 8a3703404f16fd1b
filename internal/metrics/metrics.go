package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PacketsUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_packets_uploaded_total",
			Help: "Packets accepted on the ingress path.",
		},
		[]string{"league", "game"},
	)

	PacketsDownloadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_packets_downloaded_total",
			Help: "Packets served on the egress path.",
		},
		[]string{"league", "game", "kind"},
	)

	PacketsCollectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_packets_collected_total",
			Help: "Game-produced packets collected into the hub outbound mailbox.",
		},
		[]string{"source"},
	)

	RequestsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_requests_rejected_total",
			Help: "Boundary rejections by reason.",
		},
		[]string{"endpoint", "reason"},
	)

	ProcessingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_processing_runs_total",
			Help: "Batch processor runs by final status.",
		},
		[]string{"status"},
	)

	ProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "novahub_processing_duration_seconds",
			Help:    "End-to-end batch duration.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	DosemuCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novahub_dosemu_command_duration_seconds",
			Help:    "Wall-clock duration of emulator commands.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"command", "status"},
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novahub_db_write_duration_seconds",
			Help:    "Catalog write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"table", "op"},
	)

	SequenceAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_sequence_alerts_total",
			Help: "Sequence gap alerts created and resolved.",
		},
		[]string{"action"},
	)

	WatcherEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_watcher_events_total",
			Help: "Directory watcher events by outcome.",
		},
		[]string{"outcome"},
	)

	EventSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "novahub_event_subscribers",
			Help: "Connected event bus subscribers.",
		},
		[]string{"channel"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_events_published_total",
			Help: "Events published on the bus by type.",
		},
		[]string{"type"},
	)

	KafkaExportErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "novahub_kafka_export_errors_total",
			Help: "Event export produce failures.",
		},
	)

	RetentionPurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novahub_retention_purged_total",
			Help: "Rows removed by the retention sweep.",
		},
		[]string{"kind"},
	)
)

func Register() {
	prometheus.MustRegister(
		PacketsUploadedTotal,
		PacketsDownloadedTotal,
		PacketsCollectedTotal,
		RequestsRejectedTotal,
		ProcessingRunsTotal,
		ProcessingDuration,
		DosemuCommandDuration,
		DBWriteDuration,
		SequenceAlertsTotal,
		WatcherEventsTotal,
		EventSubscribers,
		EventsPublishedTotal,
		KafkaExportErrorsTotal,
		RetentionPurgedTotal,
	)
}
