package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "robot_"

	resultSuccess = "success"
	resultError   = "error"
)

// Result labels shared across observers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)

var (
	registerOnce sync.Once

	commandsIssued *prometheus.CounterVec
	commandResults *prometheus.CounterVec
	verdictTotal   *prometheus.CounterVec

	dlqEntries prometheus.Counter

	transactionDuration *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	processedTelemetry *prometheus.CounterVec
	telemetrySent      prometheus.Counter

	haltEventsTotal *prometheus.CounterVec

	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency *prometheus.HistogramVec
	outboxDispatchBatch   *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		commandsIssued = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_issued_total",
				Help: "Commands issued by source and action",
			},
			[]string{"source", "action"},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_completions_total",
				Help: "Command completions by status",
			},
			[]string{"status"},
		)
		verdictTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_verdicts_total",
				Help: "Dispatch verdicts by outcome",
			},
			[]string{"outcome"},
		)

		dlqEntries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "dlq_entries_total",
				Help: "Commands sent to the dead-letter path",
			},
		)

		transactionDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "transaction_duration_seconds",
				Help:    "Transaction durations by component",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		processedTelemetry = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_processed_total",
				Help: "Telemetry messages processed by component",
			},
			[]string{"component"},
		)
		telemetrySent = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_sent_total",
				Help: "Telemetry messages sent by producer",
			},
		)

		haltEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "halt_events_total",
				Help: "Emergency halt lifecycle events by type",
			},
			[]string{"event"},
		)

		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchBatch = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_records_total",
				Help: "Outbox records by dispatch disposition",
			},
			[]string{"disposition"},
		)

		prometheus.MustRegister(
			commandsIssued,
			commandResults,
			verdictTotal,
			dlqEntries,
			transactionDuration,
			consumerLag,
			processedTelemetry,
			telemetrySent,
			haltEventsTotal,
			outboxDispatchTotal,
			outboxDispatchLatency,
			outboxDispatchBatch,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncCommandIssued increments the issued command counter.
func IncCommandIssued(source, action string) {
	if source == "" {
		source = "unknown"
	}
	if action == "" {
		action = "unknown"
	}
	if commandsIssued != nil {
		commandsIssued.WithLabelValues(source, action).Inc()
	}
}

// IncCompletion increments the completion counter by status.
func IncCompletion(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// IncVerdict increments the verdict counter by outcome.
func IncVerdict(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if verdictTotal != nil {
		verdictTotal.WithLabelValues(outcome).Inc()
	}
}

// IncDLQ increments the dead-letter counter.
func IncDLQ() {
	if dlqEntries != nil {
		dlqEntries.Inc()
	}
}

// ObserveTransaction records a component transaction duration.
func ObserveTransaction(component string, duration time.Duration) {
	if component == "" {
		component = "unknown"
	}
	if transactionDuration != nil {
		transactionDuration.WithLabelValues(component).Observe(duration.Seconds())
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncTelemetryProcessed increments processed telemetry by component.
func IncTelemetryProcessed(component string) {
	if component == "" {
		component = "unknown"
	}
	if processedTelemetry != nil {
		processedTelemetry.WithLabelValues(component).Inc()
	}
}

// IncTelemetrySent increments the telemetry producer counter.
func IncTelemetrySent() {
	if telemetrySent != nil {
		telemetrySent.Inc()
	}
}

// IncHaltEvent increments halt lifecycle counter by event type.
func IncHaltEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if haltEventsTotal != nil {
		haltEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveOutboxDispatch records an outbox dispatch run.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if outboxDispatchBatch != nil {
		if sent > 0 {
			outboxDispatchBatch.WithLabelValues("sent").Add(float64(sent))
		}
		if failed > 0 {
			outboxDispatchBatch.WithLabelValues("failed").Add(float64(failed))
		}
		if dlq > 0 {
			outboxDispatchBatch.WithLabelValues("dlq").Add(float64(dlq))
		}
	}
}
