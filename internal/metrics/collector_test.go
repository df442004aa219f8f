package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("rehearsed", prometheus.NewRegistry(), zap.NewNop())
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		newTestCollector(t)
		newTestCollector(t)
	})
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/agent/list", 200, 10*time.Millisecond, 128)
	c.RecordHTTPRequest("GET", "/agent/list", 204, 10*time.Millisecond, 0)
	c.RecordHTTPRequest("POST", "/agent/request", 503, time.Second, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/agent/list", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/agent/request", "5xx")))
}

func TestCollector_RecordRegistryRebuild(t *testing.T) {
	c := newTestCollector(t)

	c.RecordRegistryRebuild("success", 4, 5*time.Millisecond)
	c.RecordRegistryRebuild("error", 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.registryRebuilds.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.registryRebuilds.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.registryAgents), "failed rebuild keeps the last published size")
}

func TestCollector_RecordTurn(t *testing.T) {
	c := newTestCollector(t)

	c.RecordTurn("student_agent", "success", time.Second)
	c.RecordTurn("student_agent", "error", time.Second)
	c.RecordTurn("student_agent", "success", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("student_agent", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.turnDuration))
}

func TestCollector_RecordLive(t *testing.T) {
	c := newTestCollector(t)

	for _, s := range []string{"starting", "active", "closing", "terminated"} {
		c.RecordLiveState(s)
	}
	c.RecordLiveSession("student_agent", "disconnected", time.Minute)

	assert.Equal(t, 4, testutil.CollectAndCount(c.liveStateTransitions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.liveSessionsTotal.WithLabelValues("student_agent", "disconnected")))
}

func TestCollector_RecordSpeechAndCache(t *testing.T) {
	c := newTestCollector(t)

	c.RecordSpeechCall("synthesize", "success", 300*time.Millisecond)
	c.RecordSpeechCall("synthesize", "rejected", 0)
	c.RecordCacheLookup("tts", true)
	c.RecordCacheLookup("tts", false)
	c.RecordCacheLookup("tts", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.speechCallsTotal.WithLabelValues("synthesize", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("tts")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("tts")))
}

func TestCollector_RecordDBPool(t *testing.T) {
	c := newTestCollector(t)

	c.RecordDBPool("postgres", 10, 3, 7, 2)

	assert.Equal(t, 10.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.dbConnectionsInUse.WithLabelValues("postgres")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("postgres")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dbWaitCount.WithLabelValues("postgres")))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code))
	}
}
