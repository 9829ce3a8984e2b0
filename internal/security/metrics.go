package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency records relational and document store operation latency.
	StoreLatency *prometheus.HistogramVec

	// CacheLookups counts chat cache lookups by structure and result (hit|miss|error).
	CacheLookups *prometheus.CounterVec

	// ReconciliationNeeded counts sends whose relational commit failed after the document write.
	ReconciliationNeeded prometheus.Counter

	// CompensationFailures counts orphaned documents the pipeline could not delete.
	CompensationFailures prometheus.Counter

	// FanoutFailures counts events the push channel rejected, by addressing mode.
	FanoutFailures *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_service_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_service_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_service_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	CacheLookups = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_service_cache_lookups_total",
		Help: "Chat cache lookups by structure and result",
	}, []string{"structure", "result"})

	ReconciliationNeeded = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_service_reconciliation_needed_total",
		Help: "Messages whose relational commit failed after the document was written",
	})

	CompensationFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_service_compensation_failures_total",
		Help: "Orphaned message documents that could not be deleted",
	})

	FanoutFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_service_fanout_failures_total",
		Help: "Real-time events the push channel failed to accept",
	}, []string{"target"})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// ObserveStore records the latency of one store operation started at start.
func ObserveStore(store, op string, start time.Time) {
	if StoreLatency == nil {
		return
	}
	StoreLatency.WithLabelValues(store, op).Observe(time.Since(start).Seconds())
}

// CountCacheLookup records a hit, miss or error for a cache structure.
func CountCacheLookup(structure, result string) {
	if CacheLookups == nil {
		return
	}
	CacheLookups.WithLabelValues(structure, result).Inc()
}

// Inc increments c when metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// CountFanoutFailure records a rejected event for target "room" or "user".
func CountFanoutFailure(target string) {
	if FanoutFailures == nil {
		return
	}
	FanoutFailures.WithLabelValues(target).Inc()
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Label by route template, never the raw path.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(duration.Seconds())
	}
}
