package models

import (
	"encoding/json"
	"sync"
	"time"
)

// ReservedEnrichmentKeys are the metadata keys owned by environment
// enrichment. Enrichment overwrites these and never touches other keys.
var ReservedEnrichmentKeys = []string{
	"ci_provider",
	"ci_job_id",
	"ci_job_url",
	"ci_pipeline_id",
	"ci_commit",
	"ci_branch",
}

// RunOptions is the data used to create a Run.
type RunOptions struct {
	ID         string         // Optional; generated when empty
	Source     string         // Free-text classification, e.g. "ci"
	Component  string         // Component under test
	Env        string         // Target environment
	Metadata   map[string]any // Caller-supplied metadata
	Enrichment map[string]any // Already-resolved environment facts, see ReservedEnrichmentKeys
	Now        func() time.Time
}

// Run is the aggregate record of one test-execution session.
type Run struct {
	mu        sync.Mutex
	id        string
	Source    string
	Component string
	Env       string
	Metadata  map[string]any

	startTime *time.Time
	duration  float64
	stopped   bool
	summary   Summary
	artifacts ArtifactStore
	now       func() time.Time
}

// NewRun creates a Run, generating its ID when none is supplied.
func NewRun(opts RunOptions) (*Run, error) {
	id, err := resolveID(opts.ID)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Run{
		id:        id,
		Source:    opts.Source,
		Component: opts.Component,
		Env:       opts.Env,
		Metadata:  mergeEnrichment(opts.Metadata, opts.Enrichment),
		now:       now,
	}, nil
}

// mergeEnrichment copies metadata and adds the enrichment keys. Caller keys
// win except for the reserved enrichment keys.
func mergeEnrichment(metadata, enrichment map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+len(enrichment))
	for k, v := range metadata {
		out[k] = v
	}
	reserved := make(map[string]bool, len(ReservedEnrichmentKeys))
	for _, k := range ReservedEnrichmentKeys {
		reserved[k] = true
	}
	for k, v := range enrichment {
		if _, exists := out[k]; exists && !reserved[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// ID returns the immutable run identifier.
func (r *Run) ID() string { return r.id }

// StartTimer records the session start time.
func (r *Run) StartTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.now().UTC()
	r.startTime = &t
}

// StopTimer records the session duration. A run that was never started keeps
// a zero duration.
func (r *Run) StopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duration = elapsed(r.startTime, r.now())
	r.stopped = true
}

// Timed reports whether StopTimer has run.
func (r *Run) Timed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// StartTime returns the start time, or the zero time if never started.
func (r *Run) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startTime == nil {
		return time.Time{}
	}
	return *r.startTime
}

// Duration returns the run duration in seconds.
func (r *Run) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

// Record counts a finalized result with the given status.
func (r *Run) Record(st Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary.record(st)
}

// AddNotRun counts tests that were collected but never finalized.
func (r *Run) AddNotRun(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.NotRun += n
}

// Summary returns a copy of the counters.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// AddArtifact attaches a run-level artifact.
func (r *Run) AddArtifact(name string, a Artifact) { r.artifacts.Add(name, a) }

// Artifacts returns a shallow copy of the run-level artifacts.
func (r *Run) Artifacts() map[string]Artifact { return r.artifacts.Artifacts() }

// ArtifactNames returns the run-level artifact names in sorted order.
func (r *Run) ArtifactNames() []string { return r.artifacts.Names() }

// runJSON is the plain-data form written to run.json and sent upstream.
type runJSON struct {
	ID        string         `json:"id"`
	Component string         `json:"component"`
	Env       string         `json:"env"`
	Metadata  map[string]any `json:"metadata"`
	Source    string         `json:"source"`
	StartTime *time.Time     `json:"start_time"`
	Duration  float64        `json:"duration"`
	Summary   Summary        `json:"summary"`
}

// MarshalJSON emits the plain fields of the run.
func (r *Run) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(runJSON{
		ID:        r.id,
		Component: r.Component,
		Env:       r.Env,
		Metadata:  r.Metadata,
		Source:    r.Source,
		StartTime: r.startTime,
		Duration:  r.duration,
		Summary:   r.summary,
	})
}

func elapsed(start *time.Time, now time.Time) float64 {
	if start == nil {
		return 0
	}
	d := now.Sub(*start).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
