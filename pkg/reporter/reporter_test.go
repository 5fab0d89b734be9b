package reporter

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/ta-collector/pkg/api"
	"github.com/husmancristian/ta-collector/pkg/config"
	"github.com/husmancristian/ta-collector/pkg/models"
	"github.com/husmancristian/ta-collector/pkg/queue"
	"github.com/husmancristian/ta-collector/pkg/retry"
	"github.com/husmancristian/ta-collector/pkg/storage/filestore"
	"github.com/husmancristian/ta-collector/pkg/storage/ledger"
	"github.com/husmancristian/ta-collector/pkg/storage/objectstore"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeLedger struct{ entries []ledger.Entry }

func (f *fakeLedger) Record(_ context.Context, e ledger.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

type fakeNotifier struct{ deliveries []queue.Delivery }

func (f *fakeNotifier) Notify(_ context.Context, d queue.Delivery) error {
	f.deliveries = append(f.deliveries, d)
	return nil
}

func (f *fakeNotifier) Close() error { return nil }

type memStore struct{ objects map[string]int64 }

func (m *memStore) Stat(_ context.Context, key string) (int64, error) {
	size, ok := m.objects[key]
	if !ok {
		return 0, objectstore.ErrObjectNotFound
	}
	return size, nil
}

func (m *memStore) Put(_ context.Context, key string, r io.Reader, size int64) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	m.objects[key] = size
	return "s3://bucket/" + key, nil
}

func noSleep() retry.Policy {
	p := retry.Default(discard())
	p.NewTimer = retry.Immediate(nil)
	return p
}

// runSession drives a session with one passed and one failed result.
func runSession(t *testing.T, r *Reporter) (*Session, SessionReport) {
	t.Helper()
	s, err := r.NewSession(models.RunOptions{Component: "checkout", Env: "staging"})
	require.NoError(t, err)
	s.Start()
	s.Run().AddArtifact("env.txt", models.TextArtifact("staging"))

	for _, st := range []models.Status{models.StatusPassed, models.StatusFailed} {
		res, err := models.NewResult(models.ResultOptions{TestID: "test_" + string(st), Result: st})
		require.NoError(t, err)
		res.StartTimer()
		res.AddArtifact("stdout.log", models.TextArtifact("output of "+string(st)))
		require.NoError(t, s.AddResult(res))
	}
	return s, s.Finish(context.Background())
}

func TestLocalModeArchivesAndRecords(t *testing.T) {
	cfg := config.Default()
	cfg.ArchiveDir = t.TempDir()
	l, n := &fakeLedger{}, &fakeNotifier{}

	r, err := New(context.Background(), cfg, Deps{Ledger: l, Notifier: n, Logger: discard()})
	require.NoError(t, err)
	defer r.Close()

	s, report := runSession(t, r)
	require.True(t, report.Success())
	require.Len(t, report.Sinks, 1)

	sink, ok := report.Sink(SinkArchive)
	require.True(t, ok)
	require.Len(t, sink.Locators, 1)
	assert.Equal(t, filepath.Join(cfg.ArchiveDir, s.Run().ID()+".tar.gz"), sink.Locators[0])
	assert.FileExists(t, sink.Locators[0])

	assert.Equal(t, 2, report.Summary.Tests)
	assert.Equal(t, 1, report.Summary.Failures)

	require.Len(t, l.entries, 1)
	assert.Equal(t, SinkArchive, l.entries[0].Sink)
	assert.True(t, l.entries[0].Success)

	require.Len(t, n.deliveries, 1)
	assert.Equal(t, s.Run().ID(), n.deliveries[0].RunID)
}

func TestRemoteModeSurvivesArchiveFailure(t *testing.T) {
	logger := discard()
	dataDir := t.TempDir()
	store, err := filestore.NewStore(dataDir, logger)
	require.NoError(t, err)
	srv := httptest.NewServer(api.SetupRouter(api.NewAPI(store, logger, "https://ui.example"), "tok", 0))
	defer srv.Close()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := config.Default()
	cfg.Mode = config.ModeRemote
	cfg.ArchiveDir = blocker
	cfg.ServerURL = srv.URL
	cfg.Token = "tok"
	cfg.Project = "demo"

	r, err := New(context.Background(), cfg, Deps{Retry: noSleep(), Logger: logger})
	require.NoError(t, err)

	s, report := runSession(t, r)
	assert.False(t, report.Success())

	archiveSink, _ := report.Sink(SinkArchive)
	assert.False(t, archiveSink.Success)
	assert.NotEmpty(t, archiveSink.Errors)

	remoteSink, ok := report.Sink(SinkRemote)
	require.True(t, ok)
	assert.True(t, remoteSink.Success, "errors: %v", remoteSink.Errors)
	assert.Equal(t, "https://ui.example/runs/"+s.Run().ID(), report.RunURL)

	_, err = os.Stat(filepath.Join(dataDir, "demo", "runs", s.Run().ID()+".json"))
	assert.NoError(t, err)
}

func TestRemoteModeWithoutArchive(t *testing.T) {
	logger := discard()
	store, err := filestore.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	srv := httptest.NewServer(api.SetupRouter(api.NewAPI(store, logger, ""), "tok", 0))
	defer srv.Close()

	cfg := config.Default()
	cfg.Mode = config.ModeRemote
	cfg.NoArchive = true
	cfg.ArchiveDir = t.TempDir()
	cfg.ServerURL = srv.URL
	cfg.Token = "tok"
	cfg.Project = "demo"

	r, err := New(context.Background(), cfg, Deps{Retry: noSleep(), Logger: logger})
	require.NoError(t, err)

	_, report := runSession(t, r)
	require.True(t, report.Success())
	require.Len(t, report.Sinks, 1)
	assert.Equal(t, SinkRemote, report.Sinks[0].Sink)

	entries, err := os.ReadDir(cfg.ArchiveDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestS3ModeUploadsArchive(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeS3
	cfg.ArchiveDir = t.TempDir()
	cfg.S3 = config.S3Config{Bucket: "bucket", Endpoint: "s3.example", Profile: "ci"}
	store := &memStore{objects: map[string]int64{}}

	r, err := New(context.Background(), cfg, Deps{ObjectStore: store, Logger: discard()})
	require.NoError(t, err)

	s, report := runSession(t, r)
	require.True(t, report.Success())

	sink, ok := report.Sink(SinkS3)
	require.True(t, ok)
	assert.Equal(t, []string{"s3://bucket/" + s.Run().ID() + ".tar.gz"}, sink.Locators)
	assert.Contains(t, store.objects, s.Run().ID()+".tar.gz")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeRemote
	_, err := New(context.Background(), cfg, Deps{Logger: discard()})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestFinishIsIdempotent(t *testing.T) {
	cfg := config.Default()
	cfg.ArchiveDir = t.TempDir()
	n := &fakeNotifier{}
	r, err := New(context.Background(), cfg, Deps{Notifier: n, Logger: discard()})
	require.NoError(t, err)

	s, first := runSession(t, r)
	second := s.Finish(context.Background())
	assert.Equal(t, first, second)
	assert.Len(t, n.deliveries, 1)

	res, err := models.NewResult(models.ResultOptions{Result: models.StatusPassed})
	require.NoError(t, err)
	assert.ErrorIs(t, s.AddResult(res), ErrSessionFinished)
}

func TestFinishStopsTimers(t *testing.T) {
	cfg := config.Default()
	cfg.ArchiveDir = t.TempDir()
	r, err := New(context.Background(), cfg, Deps{Logger: discard()})
	require.NoError(t, err)

	s, err := r.NewSession(models.RunOptions{})
	require.NoError(t, err)
	s.Start()
	res, err := models.NewResult(models.ResultOptions{Result: models.StatusSkipped})
	require.NoError(t, err)
	res.StartTimer()
	require.NoError(t, s.AddResult(res))

	report := s.Finish(context.Background())
	assert.True(t, s.Run().Timed())
	assert.True(t, res.Timed())
	assert.Empty(t, report.Sinks[0].Errors)
	assert.True(t, report.Success())
}
