package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Graph API metrics
	GraphRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlaunch_graph_requests_total",
			Help: "Total number of Meta Graph API requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	GraphRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adlaunch_graph_request_duration_seconds",
			Help:    "Meta Graph API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Launch metrics
	CampaignLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlaunch_campaign_launches_total",
			Help: "Total number of campaign launches by result",
		},
		[]string{"result"},
	)

	// Insights sync metrics
	InsightsSyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlaunch_insights_sync_cycles_total",
			Help: "Insights sync cycles by result (completed, skipped)",
		},
		[]string{"result"},
	)

	InsightsSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adlaunch_insights_sync_duration_seconds",
			Help:    "Duration of a full insights sync cycle",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
	)

	InsightsUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlaunch_insights_upserts_total",
			Help: "Insight rows written by level",
		},
		[]string{"level"},
	)

	InsightsTenantFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adlaunch_insights_tenant_failures_total",
			Help: "Tenants whose insights pull failed within a cycle",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adlaunch_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		GraphRequestsTotal,
		GraphRequestDuration,
		CampaignLaunchesTotal,
		InsightsSyncCyclesTotal,
		InsightsSyncDuration,
		InsightsUpsertsTotal,
		InsightsTenantFailuresTotal,
		APIRequestsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on the given observer
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}
