package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Action(true)
	m.Action(true)
	m.Action(false)
	m.Desync("trace")
	m.Flushed(3)
	m.Flushed(2)
	m.SetMatches(4)
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.RateLimited()
	m.LoopPanic("scheduled")
	m.Tick(2 * time.Millisecond)
	m.ArchiveUpload(true)
	m.ArchiveUpload(false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.actions.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.desyncs.WithLabelValues("trace")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.flushes))
	require.Equal(t, 5.0, testutil.ToFloat64(m.flushedActions))
	require.Equal(t, 4.0, testutil.ToFloat64(m.matches))
	require.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
	require.Equal(t, 1.0, testutil.ToFloat64(m.loopPanics.WithLabelValues("scheduled")))
	require.Equal(t, 1, testutil.CollectAndCount(m.tickDuration))
	require.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("error")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Action(true)
	m.Desync("state")
	m.Flushed(1)
	m.Tick(time.Millisecond)
	m.SetMatches(1)
	m.ConnOpened()
	m.ConnClosed()
	m.RateLimited()
	m.LoopPanic("processor")
	m.ArchiveUpload(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Flushed(1)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "gameframework_sync_flushes_total 1"))
}
