package metrics

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Frames.Add(3)
	m.Instances.WithLabelValues("stands").Inc()
	m.Instances.WithLabelValues("cancha").Add(2)
	m.Runs.WithLabelValues("completed").Inc()
	m.ObserveStage(StageInfer, time.Now())

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Frames))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Instances.WithLabelValues("cancha")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))

	err := testutil.CollectAndCompare(m.Runs, strings.NewReader(`
# HELP standmask_runs_total Pipeline runs by final state
# TYPE standmask_runs_total counter
standmask_runs_total{state="completed"} 1
`))
	assert.NoError(t, err)
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.Frames.Add(5)

	p := filepath.Join(t.TempDir(), "standmask.prom")
	require.NoError(t, m.WriteFile(p))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "standmask_frames_total 5")
}

func TestHandler(t *testing.T) {
	m := New()
	m.RedactedPixels.Add(42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "standmask_redacted_pixels_total 42")
}
