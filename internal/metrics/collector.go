// Package metrics exposes the service's Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 实现 agent.Recorder、streaming.Recorder、speech.Recorder
// 与 database.StatsRecorder
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 注册表
	registryRebuilds        *prometheus.CounterVec
	registryRebuildDuration prometheus.Histogram
	registryAgents          prometheus.Gauge

	// 回合
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// 直播
	liveStateTransitions *prometheus.CounterVec
	liveSessionsTotal    *prometheus.CounterVec
	liveSessionDuration  *prometheus.HistogramVec

	// 语音
	speechCallsTotal   *prometheus.CounterVec
	speechCallDuration *prometheus.HistogramVec

	// 缓存
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库
	dbConnectionsOpen  *prometheus.GaugeVec
	dbConnectionsInUse *prometheus.GaugeVec
	dbConnectionsIdle  *prometheus.GaugeVec
	dbWaitCount        *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 在 reg 上注册全部指标；reg 为 nil 时使用默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	c.httpRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
	c.httpResponseSize = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path"})

	c.registryRebuilds = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_rebuilds_total",
		Help:      "Agent registry rebuilds by outcome",
	}, []string{"status"})
	c.registryRebuildDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "registry_rebuild_duration_seconds",
		Help:      "Time to load and build every agent of a scenario",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	c.registryAgents = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_agents",
		Help:      "Agents in the published registry snapshot",
	})

	c.turnsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Dispatched turns by root agent and outcome",
	}, []string{"agent", "status"})
	c.turnDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Turn duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"agent"})

	c.liveStateTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_state_transitions_total",
		Help:      "Live session state entries",
	}, []string{"state"})
	c.liveSessionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_sessions_total",
		Help:      "Finished live sessions by agent and outcome",
	}, []string{"agent", "outcome"})
	c.liveSessionDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "live_session_duration_seconds",
		Help:      "Live session duration in seconds",
		Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
	}, []string{"agent"})

	c.speechCallsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "speech_calls_total",
		Help:      "Speech backend calls by operation and status",
	}, []string{"op", "status"})
	c.speechCallDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "speech_call_duration_seconds",
		Help:      "Speech backend call duration in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"op"})

	c.cacheHits = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	}, []string{"cache_type"})
	c.cacheMisses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	}, []string{"cache_type"})

	c.dbConnectionsOpen = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	}, []string{"database"})
	c.dbConnectionsInUse = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_in_use",
		Help:      "Number of database connections in use",
	}, []string{"database"})
	c.dbConnectionsIdle = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle database connections",
	}, []string{"database"})
	c.dbWaitCount = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_wait_count",
		Help:      "Cumulative connection waits reported by database/sql",
	}, []string{"database"})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🎭 注册表与回合
// =============================================================================

// RecordRegistryRebuild 记录一次注册表重建
func (c *Collector) RecordRegistryRebuild(status string, agents int, duration time.Duration) {
	c.registryRebuilds.WithLabelValues(status).Inc()
	c.registryRebuildDuration.Observe(duration.Seconds())
	if status == "success" {
		c.registryAgents.Set(float64(agents))
	}
}

// RecordTurn 记录一次回合
func (c *Collector) RecordTurn(agent, status string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(agent, status).Inc()
	c.turnDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// =============================================================================
// 📡 直播
// =============================================================================

// RecordLiveState 记录直播会话进入某状态
func (c *Collector) RecordLiveState(state string) {
	c.liveStateTransitions.WithLabelValues(state).Inc()
}

// RecordLiveSession 记录结束的直播会话
func (c *Collector) RecordLiveSession(agent, outcome string, duration time.Duration) {
	c.liveSessionsTotal.WithLabelValues(agent, outcome).Inc()
	c.liveSessionDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// =============================================================================
// 🔊 语音与缓存
// =============================================================================

// RecordSpeechCall 记录语音后端调用
func (c *Collector) RecordSpeechCall(op, status string, duration time.Duration) {
	c.speechCallsTotal.WithLabelValues(op, status).Inc()
	c.speechCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCacheLookup 记录缓存命中或未命中
func (c *Collector) RecordCacheLookup(cacheType string, hit bool) {
	if hit {
		c.cacheHits.WithLabelValues(cacheType).Inc()
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库
// =============================================================================

// RecordDBPool 记录连接池快照
func (c *Collector) RecordDBPool(database string, open, inUse, idle int, waitCount int64) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsInUse.WithLabelValues(database).Set(float64(inUse))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
	c.dbWaitCount.WithLabelValues(database).Set(float64(waitCount))
}

// statusClass 把 HTTP 状态码折叠为 2xx/3xx/4xx/5xx
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
