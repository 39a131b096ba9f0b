package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenotype-similarity-server/internal/cache"
	"github.com/phenotype-similarity-server/internal/infocontent"
	"github.com/phenotype-similarity-server/internal/similarity"
)

var (
	_ similarity.Recorder       = (*Metrics)(nil)
	_ infocontent.BuildObserver = (*Metrics)(nil)
)

func TestRecordCacheLookup(t *testing.T) {
	m := NewMetrics()

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
}

func TestObserveComputation(t *testing.T) {
	m := NewMetrics()

	m.ObserveComputation("open", 2*time.Millisecond)
	m.ObserveComputation("limited", time.Millisecond)
	m.ObserveComputation("open", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.computations.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.computations.WithLabelValues("limited")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.computeDuration))
}

func TestObserveModelBuild(t *testing.T) {
	m := NewMetrics()

	m.ObserveModelBuild("success", time.Second, 120)
	assert.Equal(t, 120.0, testutil.ToFloat64(m.modelTerms))

	m.ObserveModelBuild("failure", time.Second, 0)
	assert.Equal(t, 120.0, testutil.ToFloat64(m.modelTerms), "failed builds keep the published size")

	m.ObserveModelBuild("restored", 0, 80)
	assert.Equal(t, 80.0, testutil.ToFloat64(m.modelTerms))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelBuilds.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelBuilds.WithLabelValues("restored")))
}

func TestUpdateCacheStats(t *testing.T) {
	m := NewMetrics()

	m.UpdateCacheStats(cache.Stats{Backend: cache.BackendMemory, Entries: 42, Evictions: 3})
	m.UpdateCacheStats(cache.Stats{Backend: cache.BackendRedis, Entries: -1, Evictions: 0})

	assert.Equal(t, 42.0, testutil.ToFloat64(m.cacheEntries.WithLabelValues(cache.BackendMemory)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cacheEvictions.WithLabelValues(cache.BackendMemory)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cacheEntries), "unknown entry counts are not exported")
}

func TestObserveRequestAndEvents(t *testing.T) {
	m := NewMetrics()

	m.ObserveRequest(http.MethodPost, "/api/v1/similarity", http.StatusOK, 10*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)
	m.RecordEvent("patient_updated", nil)
	m.RecordEvent("patient_updated", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/v1/similarity", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsProcessed.WithLabelValues("patient_updated", "failed")))
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheLookup(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `phenosim_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
