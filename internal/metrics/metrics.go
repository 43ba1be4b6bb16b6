package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "luisamigo"

// Recorder holds the pipeline's Prometheus collectors. A nil *Recorder is
// valid and records nothing, so components can run without metrics.
type Recorder struct {
	requests              *prometheus.CounterVec
	stageDuration         *prometheus.HistogramVec
	documentsRetrieved    prometheus.Histogram
	hallucinationWarnings prometheus.Counter
	providerErrors        *prometheus.CounterVec
	ingestedDocuments     *prometheus.CounterVec
}

// NewRecorder registers every collector on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Questions answered, by outcome",
			},
			[]string{"outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
			},
			[]string{"stage"},
		),
		documentsRetrieved: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "documents_retrieved",
				Help:      "Documents retrieved per question",
				Buckets:   prometheus.LinearBuckets(0, 2, 11),
			},
		),
		hallucinationWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hallucination_warnings_total",
				Help:      "Article citations in answers that were not found in the retrieved context",
			},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Failed provider calls by provider and error category",
			},
			[]string{"provider", "category"},
		),
		ingestedDocuments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_documents_total",
				Help:      "Documents processed by ingestion, by result",
			},
			[]string{"result"},
		),
	}
}

// RecordRequest counts one finished question.
func (r *Recorder) RecordRequest(outcome string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) ObserveRetrieved(n int) {
	if r == nil {
		return
	}
	r.documentsRetrieved.Observe(float64(n))
}

func (r *Recorder) AddHallucinationWarnings(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.hallucinationWarnings.Add(float64(n))
}

func (r *Recorder) RecordProviderError(provider, category string) {
	if r == nil {
		return
	}
	r.providerErrors.WithLabelValues(provider, category).Inc()
}

// AddIngested counts documents by ingestion result (stored, skipped, failed).
func (r *Recorder) AddIngested(result string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ingestedDocuments.WithLabelValues(result).Add(float64(n))
}
