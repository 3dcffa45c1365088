package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_analyses_total",
			Help: "Total number of analysis requests by outcome",
		},
		[]string{"outcome"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docscan_analysis_duration_seconds",
			Help:    "Duration of completed analyses in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"source"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_llm_requests_total",
			Help: "Total number of completion requests by result",
		},
		[]string{"result"},
	)

	LedgerPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docscan_ledger_persist_failures_total",
			Help: "Number of failed account store writes",
		},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"limiter"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_http_requests_total",
			Help: "HTTP requests by method and status class",
		},
		[]string{"method", "status"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docscan_event_subscribers",
			Help: "Connected admin event feed clients",
		},
	)
)
