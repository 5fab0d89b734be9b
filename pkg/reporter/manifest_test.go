package reporter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/ta-collector/pkg/config"
	"github.com/husmancristian/ta-collector/pkg/models"
)

const manifestJSON = `{
  "run": {
    "id": "6f1c2a9e-0d4b-4a57-8f3e-9b1d2c3e4f50",
    "component": "checkout",
    "start_time": "2024-05-01T10:00:00Z",
    "duration": 90,
    "metadata": {"ci_provider": "spoofed", "team": "payments"},
    "artifacts": {"notes.txt": {"text": "nightly"}}
  },
  "results": [
    {"test_id": "test_login", "result": "passed", "start_time": "2024-05-01T10:00:01Z", "duration": 1.5},
    {"test_id": "test_pay", "result": "failed", "artifacts": {"trace.log": {"path": "TRACE"}}}
  ],
  "not_run": 2
}`

func TestDeliverManifest(t *testing.T) {
	dir := t.TempDir()
	trace := filepath.Join(dir, "trace.log")
	require.NoError(t, os.WriteFile(trace, []byte("stack"), 0o644))

	path := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(manifestJSON, "TRACE", trace)), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.ArchiveDir = filepath.Join(dir, "out")
	n := &fakeNotifier{}
	r, err := New(context.Background(), cfg, Deps{Notifier: n, Logger: discard()})
	require.NoError(t, err)

	report, err := r.Deliver(context.Background(), m, map[string]any{"ci_provider": "gitlab"})
	require.NoError(t, err)
	require.True(t, report.Success(), "sinks: %+v", report.Sinks)
	assert.Equal(t, "6f1c2a9e-0d4b-4a57-8f3e-9b1d2c3e4f50", report.RunID)

	assert.Equal(t, 2, report.Summary.Tests)
	assert.Equal(t, 1, report.Summary.Failures)
	assert.Equal(t, 2, report.Summary.NotRun)

	archivePath := filepath.Join(cfg.ArchiveDir, report.RunID+".tar.gz")
	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	_, err = gzip.NewReader(f)
	require.NoError(t, err)
	require.Len(t, n.deliveries, 1)
}

func TestDeliverRejectsBadManifest(t *testing.T) {
	cfg := config.Default()
	cfg.ArchiveDir = t.TempDir()
	r, err := New(context.Background(), cfg, Deps{Logger: discard()})
	require.NoError(t, err)

	m := &Manifest{Results: []ManifestResult{{TestID: "t", Result: "exploded"}}}
	_, err = r.Deliver(context.Background(), m, nil)
	assert.ErrorIs(t, err, models.ErrUnknownStatus)
}

func TestSpanClock(t *testing.T) {
	m, err := LoadManifest(writeManifest(t, manifestJSON))
	require.NoError(t, err)

	clock := spanClock(m.Run.StartTime, m.Run.Duration, time.Now)
	run, err := models.NewRun(models.RunOptions{Now: clock})
	require.NoError(t, err)
	run.StartTimer()
	run.StopTimer()
	assert.True(t, m.Run.StartTime.Equal(run.StartTime()))
	assert.InDelta(t, 90.0, run.Duration(), 1e-9)
}

func TestSpanClockWithoutStartTimeKeepsDuration(t *testing.T) {
	replayed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	res, err := models.NewResult(models.ResultOptions{
		Result: models.StatusPassed,
		Now:    spanClock(nil, 2.5, func() time.Time { return replayed }),
	})
	require.NoError(t, err)
	res.StartTimer()
	res.StopTimer()
	assert.Equal(t, replayed, res.StartTime())
	assert.InDelta(t, 2.5, res.Duration(), 1e-9)
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
