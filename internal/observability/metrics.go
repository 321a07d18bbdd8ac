package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the citation graph service.
// Metrics are organized by subsystem: crawls, queue, tasks, sources,
// summarization, rate limiting, and recovery. All counters and histograms
// are registered via promauto for automatic registration with the default
// Prometheus registry.
type Metrics struct {
	// CrawlsStarted counts crawl requests accepted through the API.
	CrawlsStarted prometheus.Counter

	// PapersDiscovered counts unique papers discovered during expansion.
	PapersDiscovered prometheus.Counter

	// PapersSkippedByScore counts neighbors rejected by the score threshold.
	PapersSkippedByScore prometheus.Counter

	// RelationsRecorded counts citation graph edges persisted.
	RelationsRecorded *prometheus.CounterVec

	// CrawlDepth observes the hop count at which papers are crawled.
	CrawlDepth prometheus.Histogram

	// TasksEnqueued counts queue entries created, labeled by task type.
	TasksEnqueued *prometheus.CounterVec

	// TasksDeduplicated counts enqueue attempts collapsed onto an existing
	// active entry, labeled by task type.
	TasksDeduplicated *prometheus.CounterVec

	// TasksCompleted counts tasks that finished successfully, labeled by task type.
	TasksCompleted *prometheus.CounterVec

	// TasksFailed counts task failures, labeled by task type.
	TasksFailed *prometheus.CounterVec

	// TasksRetried counts failed-to-pending retry transitions, labeled by task type.
	TasksRetried *prometheus.CounterVec

	// TaskDuration observes task execution duration in seconds, labeled by task type.
	TaskDuration *prometheus.HistogramVec

	// QueueDepth tracks the number of entries per (task type, status) pair.
	QueueDepth *prometheus.GaugeVec

	// SweepDispatched counts entries re-dispatched by periodic sweeps,
	// labeled by task type.
	SweepDispatched *prometheus.CounterVec

	// MessagesPublished counts broker messages published, labeled by channel.
	MessagesPublished *prometheus.CounterVec

	// MessagesConsumed counts broker messages consumed, labeled by channel.
	MessagesConsumed *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to the bibliographic source,
	// labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed source requests, labeled by source,
	// endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes source request duration in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limit responses from the source.
	SourceRateLimited *prometheus.CounterVec

	// SummariesGenerated counts successful summarization operations.
	SummariesGenerated prometheus.Counter

	// SummariesSkipped counts summarize stages skipped for papers with no PDF.
	SummariesSkipped prometheus.Counter

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation,
	// model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM request duration in seconds.
	LLMRequestDuration *prometheus.HistogramVec

	// RequestsAdmitted counts HTTP requests admitted by the rate limiter,
	// labeled by rule pattern.
	RequestsAdmitted *prometheus.CounterVec

	// RequestsThrottled counts HTTP requests rejected by the rate limiter,
	// labeled by rule pattern and threshold kind (normal, burst).
	RequestsThrottled *prometheus.CounterVec

	// RecoveryAttempts counts recovery attempts, labeled by condition and outcome.
	RecoveryAttempts *prometheus.CounterVec

	// RecoverySuppressed counts recovery attempts skipped due to cooldown,
	// labeled by condition.
	RecoverySuppressed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Crawls
		CrawlsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawls_started_total",
			Help:      "Total number of crawl requests accepted",
		}),
		PapersDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_discovered_total",
			Help:      "Total number of unique papers discovered",
		}),
		PapersSkippedByScore: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_skipped_by_score_total",
			Help:      "Total number of neighbors rejected by the score threshold",
		}),
		RelationsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relations_recorded_total",
			Help:      "Total number of citation graph edges persisted",
		}, []string{"relation_type"}),
		CrawlDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_depth",
			Help:      "Hop count at which papers are crawled",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),

		// Queue
		TasksEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Total number of queue entries created by task type",
		}, []string{"task_type"}),
		TasksDeduplicated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_deduplicated_total",
			Help:      "Total number of enqueue attempts collapsed onto an active entry",
		}, []string{"task_type"}),
		TasksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed by task type",
		}, []string{"task_type"}),
		TasksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of task failures by task type",
		}, []string{"task_type"}),
		TasksRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_retried_total",
			Help:      "Total number of failed-to-pending retry transitions by task type",
		}, []string{"task_type"}),
		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds by task type",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"task_type"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of queue entries by task type and status",
		}, []string{"task_type", "status"}),

		// Dispatch
		SweepDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_dispatched_total",
			Help:      "Total number of entries re-dispatched by periodic sweeps",
		}, []string{"task_type"}),
		MessagesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of broker messages published by channel",
		}, []string{"channel"}),
		MessagesConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total number of broker messages consumed by channel",
		}, []string{"channel"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to bibliographic sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to bibliographic sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to bibliographic sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from bibliographic sources",
		}, []string{"source"}),

		// Summarization
		SummariesGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_generated_total",
			Help:      "Total number of paper summaries generated",
		}),
		SummariesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_skipped_total",
			Help:      "Total number of summarize stages skipped for papers with no PDF",
		}),
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by operation",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests by operation",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "model"}),

		// Rate limiting
		RequestsAdmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_admitted_total",
			Help:      "Total number of HTTP requests admitted by the rate limiter",
		}, []string{"pattern"}),
		RequestsThrottled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_throttled_total",
			Help:      "Total number of HTTP requests rejected by the rate limiter",
		}, []string{"pattern", "threshold"}),

		// Recovery
		RecoveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_attempts_total",
			Help:      "Total number of recovery attempts by condition and outcome",
		}, []string{"condition", "outcome"}),
		RecoverySuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_suppressed_total",
			Help:      "Total number of recovery attempts skipped due to cooldown",
		}, []string{"condition"}),
	}
}

// RecordCrawlStarted records that a crawl request was accepted.
func (m *Metrics) RecordCrawlStarted() {
	m.CrawlsStarted.Inc()
}

// RecordPapersDiscovered records unique papers discovered during expansion.
func (m *Metrics) RecordPapersDiscovered(count int) {
	m.PapersDiscovered.Add(float64(count))
}

// RecordPaperSkippedByScore records a neighbor rejected by the score threshold.
func (m *Metrics) RecordPaperSkippedByScore() {
	m.PapersSkippedByScore.Inc()
}

// RecordRelationRecorded records a persisted citation graph edge.
func (m *Metrics) RecordRelationRecorded(relationType string) {
	m.RelationsRecorded.WithLabelValues(relationType).Inc()
}

// RecordCrawlDepth records the hop count at which a paper was crawled.
func (m *Metrics) RecordCrawlDepth(hopCount int) {
	m.CrawlDepth.Observe(float64(hopCount))
}

// RecordTaskEnqueued records a new queue entry.
func (m *Metrics) RecordTaskEnqueued(taskType string) {
	m.TasksEnqueued.WithLabelValues(taskType).Inc()
}

// RecordTaskDeduplicated records an enqueue collapsed onto an active entry.
func (m *Metrics) RecordTaskDeduplicated(taskType string) {
	m.TasksDeduplicated.WithLabelValues(taskType).Inc()
}

// RecordTaskCompleted records a successfully completed task.
func (m *Metrics) RecordTaskCompleted(taskType string, durationSeconds float64) {
	m.TasksCompleted.WithLabelValues(taskType).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(durationSeconds)
}

// RecordTaskFailed records a failed task.
func (m *Metrics) RecordTaskFailed(taskType string, durationSeconds float64) {
	m.TasksFailed.WithLabelValues(taskType).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(durationSeconds)
}

// RecordTaskRetried records a failed-to-pending retry transition.
func (m *Metrics) RecordTaskRetried(taskType string) {
	m.TasksRetried.WithLabelValues(taskType).Inc()
}

// SetQueueDepth sets the queue depth gauge for a (task type, status) pair.
func (m *Metrics) SetQueueDepth(taskType, status string, depth int) {
	m.QueueDepth.WithLabelValues(taskType, status).Set(float64(depth))
}

// RecordSweepDispatched records entries re-dispatched by a periodic sweep.
func (m *Metrics) RecordSweepDispatched(taskType string, count int) {
	m.SweepDispatched.WithLabelValues(taskType).Add(float64(count))
}

// RecordMessagePublished records a broker message published to a channel.
func (m *Metrics) RecordMessagePublished(channel string) {
	m.MessagesPublished.WithLabelValues(channel).Inc()
}

// RecordMessageConsumed records a broker message consumed from a channel.
func (m *Metrics) RecordMessageConsumed(channel string) {
	m.MessagesConsumed.WithLabelValues(channel).Inc()
}

// RecordSourceRequest records a request to a bibliographic source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a bibliographic source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordSummaryGenerated records a successful summarization.
func (m *Metrics) RecordSummaryGenerated() {
	m.SummariesGenerated.Inc()
}

// RecordSummarySkipped records a summarize stage skipped for a paper with no PDF.
func (m *Metrics) RecordSummarySkipped() {
	m.SummariesSkipped.Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64) {
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}

// RecordRequestAdmitted records an HTTP request admitted by the rate limiter.
func (m *Metrics) RecordRequestAdmitted(pattern string) {
	m.RequestsAdmitted.WithLabelValues(pattern).Inc()
}

// RecordRequestThrottled records an HTTP request rejected by the rate limiter.
func (m *Metrics) RecordRequestThrottled(pattern, threshold string) {
	m.RequestsThrottled.WithLabelValues(pattern, threshold).Inc()
}

// RecordRecoveryAttempt records a recovery attempt outcome.
func (m *Metrics) RecordRecoveryAttempt(condition, outcome string) {
	m.RecoveryAttempts.WithLabelValues(condition, outcome).Inc()
}

// RecordRecoverySuppressed records a recovery attempt skipped due to cooldown.
func (m *Metrics) RecordRecoverySuppressed(condition string) {
	m.RecoverySuppressed.WithLabelValues(condition).Inc()
}
