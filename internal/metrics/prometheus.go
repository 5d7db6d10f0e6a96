package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_agent_analysis_duration_seconds",
			Help:    "Analysis processing duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_agent_analysis_total",
			Help: "Total number of analyses processed",
		},
		[]string{"mode", "status"},
	)

	ProbesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_agent_probes_executed_total",
			Help: "Total exploration probes executed",
		},
		[]string{"status"},
	)

	ProbeRowCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insight_agent_probe_row_count",
			Help:    "Rows returned per probe",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 2000},
		},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insight_agent_confidence_score",
			Help:    "Trust layer confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	OracleTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_agent_oracle_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "insight_agent_active_sessions",
			Help: "Number of live upload sessions",
		},
	)

	SessionEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insight_agent_session_evictions_total",
			Help: "Sessions removed by TTL expiry or LRU eviction",
		},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_agent_uploads_total",
			Help: "Total dataset uploads",
		},
		[]string{"status"},
	)

	ActionsDrafted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_agent_actions_drafted_total",
			Help: "Total follow-up actions drafted",
		},
		[]string{"action_type"},
	)
)

func Init() {
	prometheus.MustRegister(AnalysisDuration)
	prometheus.MustRegister(AnalysisTotal)
	prometheus.MustRegister(ProbesExecuted)
	prometheus.MustRegister(ProbeRowCount)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(OracleTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(SessionEvictions)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(ActionsDrafted)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
