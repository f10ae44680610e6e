package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	EmailsFetched   prometheus.Counter
	FetchFailures   prometheus.Counter
	GatedOut        prometheus.Counter
	BudgetDeferred  prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	ExtractorCalls  prometheus.Counter
	ExtractorErrors prometheus.Counter
	MalformedOutput prometheus.Counter
	EventsParsed    prometheus.Counter
	EventsDropped   prometheus.Counter
	EventsMerged    prometheus.Counter
	BatchDuration   prometheus.Histogram
	LearnedAliases  prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EmailsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_emails_fetched_total",
			Help: "Total number of emails fetched for processing",
		}),
		FetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_fetch_failures_total",
			Help: "Total number of failed email fetch cycles",
		}),
		GatedOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_gated_out_total",
			Help: "Total number of emails filtered out before extraction",
		}),
		BudgetDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_budget_deferred_total",
			Help: "Total number of emails deferred because the call budget ran out",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_cache_hits_total",
			Help: "Total number of response cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_cache_misses_total",
			Help: "Total number of response cache misses",
		}),
		ExtractorCalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_extractor_calls_total",
			Help: "Total number of external extractor calls",
		}),
		ExtractorErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_extractor_errors_total",
			Help: "Total number of failed external extractor calls",
		}),
		MalformedOutput: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_malformed_output_total",
			Help: "Total number of malformed extractor responses",
		}),
		EventsParsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_events_parsed_total",
			Help: "Total number of validated events produced",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_events_dropped_total",
			Help: "Total number of intentional drop outcomes",
		}),
		EventsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_digest_events_merged_total",
			Help: "Total number of duplicate events merged",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "event_digest_batch_duration_seconds",
			Help:    "Time spent processing one batch of emails",
			Buckets: prometheus.DefBuckets,
		}),
		LearnedAliases: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "event_digest_learned_aliases",
			Help: "Number of learned token-to-category aliases",
		}),
	}
}
