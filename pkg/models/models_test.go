package models

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "lowercase", in: "123e4567-e89b-12d3-a456-426614174000", want: true},
		{name: "uppercase", in: "123E4567-E89B-12D3-A456-426614174000", want: true},
		{name: "mixed case", in: "123e4567-E89b-12D3-a456-426614174ABC", want: true},
		{name: "not a uuid", in: "not-a-uuid", want: false},
		{name: "truncated", in: "123e4567-e89b-12d3-a456-42661417400", want: false},
		{name: "empty", in: "", want: false},
		{name: "non hex character", in: "123e4567-e89b-12d3-a456-42661417400g", want: false},
		{name: "braced", in: "{123e4567-e89b-12d3-a456-426614174000}", want: false},
		{name: "urn", in: "urn:uuid:123e4567-e89b-12d3-a456-426614174000", want: false},
		{name: "no hyphens", in: "123e4567e89b12d3a456426614174000", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidID(tt.in))
		})
	}
}

func TestNewRunGeneratesID(t *testing.T) {
	run, err := NewRun(RunOptions{})
	require.NoError(t, err)
	assert.True(t, IsValidID(run.ID()))

	_, err = NewRun(RunOptions{ID: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestSummaryInvariant(t *testing.T) {
	run, err := NewRun(RunOptions{})
	require.NoError(t, err)

	statuses := []Status{
		StatusPassed, StatusFailed, StatusSkipped, StatusError,
		StatusXFailed, StatusXPassed, StatusPassed, StatusFailed,
	}
	for i, st := range statuses {
		require.NoError(t, run.Record(st))
		s := run.Summary()
		assert.Equal(t, i+1, s.Tests)
		assert.Equal(t, i+1, s.Collected)
		assert.True(t, s.Consistent())
	}

	s := run.Summary()
	assert.Equal(t, 2, s.Passed)
	assert.Equal(t, 2, s.Failures)
	assert.Equal(t, 1, s.Skips)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.XFailures)
	assert.Equal(t, 1, s.XPasses)

	require.ErrorIs(t, run.Record("flaky"), ErrUnknownStatus)
	assert.Equal(t, len(statuses), run.Summary().Tests)
}

func TestRunTimer(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run, err := NewRun(RunOptions{Now: func() time.Time { return clock }})
	require.NoError(t, err)

	run.StopTimer()
	assert.Zero(t, run.Duration(), "never started")
	assert.True(t, run.Timed())

	run.StartTimer()
	clock = clock.Add(1500 * time.Millisecond)
	run.StopTimer()
	assert.InDelta(t, 1.5, run.Duration(), 1e-9)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), run.StartTime())
}

func TestEnrichmentIsAdditive(t *testing.T) {
	run, err := NewRun(RunOptions{
		Metadata: map[string]any{
			"owner":     "qa",
			"ci_job_id": "from-caller",
			"build":     "caller-build",
		},
		Enrichment: map[string]any{
			"ci_job_id": "4242",
			"build":     "env-build",
			"ci_branch": "main",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "qa", run.Metadata["owner"])
	assert.Equal(t, "4242", run.Metadata["ci_job_id"], "reserved key is owned by enrichment")
	assert.Equal(t, "caller-build", run.Metadata["build"], "caller key wins")
	assert.Equal(t, "main", run.Metadata["ci_branch"])
}

func TestArtifactOverwrite(t *testing.T) {
	res, err := NewResult(ResultOptions{TestID: "pkg/test_a", Result: StatusPassed})
	require.NoError(t, err)

	res.AddArtifact("log.txt", TextArtifact("A"))
	res.AddArtifact("log.txt", TextArtifact("B"))

	arts := res.Artifacts()
	require.Len(t, arts, 1)
	assert.Equal(t, "B", arts["log.txt"].Text)
}

func TestArtifactsSnapshotIsCopy(t *testing.T) {
	var store ArtifactStore
	store.Add("a.bin", BytesArtifact([]byte{1}))

	snap := store.Artifacts()
	snap["b.bin"] = BytesArtifact([]byte{2})
	delete(snap, "a.bin")

	assert.Equal(t, []string{"a.bin"}, store.Names())
}

func TestArtifactResolveAndSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.log")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	tests := []struct {
		name     string
		artifact Artifact
		wantKind ArtifactKind
		wantSize int64
		wantBody string
	}{
		{name: "bytes", artifact: BytesArtifact([]byte("abc")), wantKind: KindBytes, wantSize: 3, wantBody: "abc"},
		{name: "file", artifact: FileArtifact(path), wantKind: KindFile, wantSize: 10, wantBody: "0123456789"},
		{name: "text naming a file", artifact: TextArtifact(path), wantKind: KindFile, wantSize: 10, wantBody: "0123456789"},
		{name: "plain text", artifact: TextArtifact("héllo"), wantKind: KindText, wantSize: 6, wantBody: "héllo"},
		{name: "text naming a directory", artifact: TextArtifact(dir), wantKind: KindText, wantSize: int64(len(dir)), wantBody: dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, tt.artifact.Resolve().Kind)

			size, err := tt.artifact.Size()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, size)

			rc, err := tt.artifact.Open()
			require.NoError(t, err)
			defer rc.Close()
			body, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(body))
		})
	}

	_, err := FileArtifact(filepath.Join(dir, "missing")).Size()
	assert.Error(t, err)
}

func TestResultJSON(t *testing.T) {
	res, err := NewResult(ResultOptions{
		TestID: "suite::case[1]",
		Result: StatusFailed,
		Params: map[string]any{"n": 1},
	})
	require.NoError(t, err)
	res.StopTimer()

	b, err := json.Marshal(res)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, res.ID(), got["id"])
	assert.Equal(t, "suite::case[1]", got["test_id"])
	assert.Equal(t, "failed", got["result"])
	assert.Contains(t, got, "start_time")
	assert.Contains(t, got, "metadata")
	assert.Equal(t, map[string]any{"n": float64(1)}, got["params"])

	_, err = NewResult(ResultOptions{Result: "broken"})
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestRunJSONOmitsPassedCounter(t *testing.T) {
	run, err := NewRun(RunOptions{Component: "checkout", Env: "stage", Source: "ci"})
	require.NoError(t, err)
	require.NoError(t, run.Record(StatusPassed))

	b, err := json.Marshal(run)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	for _, key := range []string{"id", "component", "env", "metadata", "source", "start_time", "duration", "summary"} {
		assert.Contains(t, got, key)
	}
	summary := got["summary"].(map[string]any)
	assert.NotContains(t, summary, "Passed")
	assert.Equal(t, float64(1), summary["tests"])
}

func TestCheckFinalized(t *testing.T) {
	run, err := NewRun(RunOptions{})
	require.NoError(t, err)
	res, err := NewResult(ResultOptions{TestID: "t1", Result: StatusPassed})
	require.NoError(t, err)

	run.StartTimer()
	assert.ErrorIs(t, CheckFinalized(run, nil), ErrRunNotFinalized)
	run.StopTimer()

	res.StartTimer()
	err = CheckFinalized(run, []*Result{res})
	assert.ErrorIs(t, err, ErrResultNotFinalized)
	assert.Contains(t, err.Error(), res.ID())
	res.StopTimer()

	assert.NoError(t, CheckFinalized(run, []*Result{res}))
	assert.Error(t, CheckFinalized(nil, nil))
}
