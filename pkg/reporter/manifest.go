package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/husmancristian/ta-collector/pkg/models"
)

// ManifestArtifact names an artifact by file path or carries inline text.
type ManifestArtifact struct {
	Path string `json:"path,omitempty"`
	Text string `json:"text,omitempty"`
}

func (a ManifestArtifact) artifact() (models.Artifact, error) {
	switch {
	case a.Path != "" && a.Text != "":
		return models.Artifact{}, fmt.Errorf("artifact has both path and text")
	case a.Path != "":
		return models.FileArtifact(a.Path), nil
	default:
		return models.TextArtifact(a.Text), nil
	}
}

// ManifestResult is one finished test case.
type ManifestResult struct {
	ID        string                      `json:"id,omitempty"`
	TestID    string                      `json:"test_id"`
	Result    models.Status               `json:"result"`
	StartTime *time.Time                  `json:"start_time,omitempty"`
	Duration  float64                     `json:"duration,omitempty"` // seconds
	Metadata  map[string]any              `json:"metadata,omitempty"`
	Params    map[string]any              `json:"params,omitempty"`
	Artifacts map[string]ManifestArtifact `json:"artifacts,omitempty"`
}

// Manifest describes a finished session recorded by an external test runner.
type Manifest struct {
	Run struct {
		ID        string                      `json:"id,omitempty"`
		Source    string                      `json:"source,omitempty"`
		Component string                      `json:"component,omitempty"`
		Env       string                      `json:"env,omitempty"`
		Metadata  map[string]any              `json:"metadata,omitempty"`
		StartTime *time.Time                  `json:"start_time,omitempty"`
		Duration  float64                     `json:"duration,omitempty"` // seconds
		Artifacts map[string]ManifestArtifact `json:"artifacts,omitempty"`
	} `json:"run"`
	Results []ManifestResult `json:"results"`
	// NotRun counts collected tests that never produced a result.
	NotRun int `json:"not_run,omitempty"`
}

// LoadManifest reads a JSON session manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// spanClock returns start on its first call and start+seconds afterwards,
// which makes one StartTimer/StopTimer pair reproduce a recorded span. An
// entry without a start time is anchored at now() on the first call so its
// recorded duration still holds.
func spanClock(start *time.Time, seconds float64, now func() time.Time) func() time.Time {
	d := time.Duration(seconds * float64(time.Second))
	var begin time.Time
	calls := 0
	return func() time.Time {
		calls++
		if calls == 1 {
			if start != nil {
				begin = *start
			} else {
				begin = now()
			}
			return begin
		}
		return begin.Add(d)
	}
}

// Deliver replays m as a session and finishes it. Errors are returned only
// when the manifest itself is invalid; delivery failures are in the report.
func (r *Reporter) Deliver(ctx context.Context, m *Manifest, enrichment map[string]any) (SessionReport, error) {
	s, err := r.NewSession(models.RunOptions{
		ID:         m.Run.ID,
		Source:     m.Run.Source,
		Component:  m.Run.Component,
		Env:        m.Run.Env,
		Metadata:   m.Run.Metadata,
		Enrichment: enrichment,
		Now:        spanClock(m.Run.StartTime, m.Run.Duration, time.Now),
	})
	if err != nil {
		return SessionReport{}, err
	}
	for name, ma := range m.Run.Artifacts {
		a, err := ma.artifact()
		if err != nil {
			return SessionReport{}, fmt.Errorf("run artifact '%s': %w", name, err)
		}
		s.Run().AddArtifact(name, a)
	}
	s.Start()

	for i, mr := range m.Results {
		res, err := models.NewResult(models.ResultOptions{
			ID:       mr.ID,
			TestID:   mr.TestID,
			Result:   mr.Result,
			Metadata: mr.Metadata,
			Params:   mr.Params,
			Now:      spanClock(mr.StartTime, mr.Duration, time.Now),
		})
		if err != nil {
			return SessionReport{}, fmt.Errorf("result %d (%s): %w", i, mr.TestID, err)
		}
		for name, ma := range mr.Artifacts {
			a, err := ma.artifact()
			if err != nil {
				return SessionReport{}, fmt.Errorf("artifact '%s' of result %s: %w", name, mr.TestID, err)
			}
			res.AddArtifact(name, a)
		}
		res.StartTimer()
		res.StopTimer()
		if err := s.AddResult(res); err != nil {
			return SessionReport{}, err
		}
	}
	s.Run().AddNotRun(m.NotRun)

	return s.Finish(ctx), nil
}
