package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMetrics_ObserveRun(t *testing.T) {
	m := NewSyncMetrics()
	finished := time.Unix(1714550400, 0)

	m.ObserveRun("incremental", "success", 3*time.Second, finished)
	m.ObserveRun("incremental", "partial", time.Second, finished)
	m.RowsWrittenTotal.WithLabelValues("inserted").Add(45)

	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("incremental", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("incremental", "partial")), 0)
	assert.InDelta(t, 45, testutil.ToFloat64(m.RowsWrittenTotal.WithLabelValues("inserted")), 0)
	assert.InDelta(t, float64(finished.Unix()), testutil.ToFloat64(m.LastSuccess.WithLabelValues("incremental")), 0)

	n, err := testutil.GatherAndCount(m.Registry(), "calinsight_sync_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSyncMetrics_Push(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewSyncMetrics()
	m.FailedChunksTotal.Inc()
	require.NoError(t, m.Push(context.Background(), srv.URL, "calinsight_sync"))

	assert.Equal(t, "/metrics/job/calinsight_sync", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestSyncMetrics_PushErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewSyncMetrics()
	err := m.Push(context.Background(), srv.URL, "job")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), srv.URL))

	assert.NoError(t, m.Push(context.Background(), "", "job"), "no gateway configured")
}

func TestTracer_SpansWithoutProvider(t *testing.T) {
	tr := NewTracer()
	ctx, run := tr.StartRun(context.Background(), "run-1", "full")
	ctx, chunk := tr.StartChunk(ctx, time.Now().Add(-time.Hour), time.Now())
	_, batch := tr.StartBatch(ctx, 250)

	EndSpan(batch, nil, "")
	EndSpan(chunk, assert.AnError, "transient")
	EndSpan(run, nil, "")
}
