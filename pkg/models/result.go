package models

import (
	"encoding/json"
	"sync"
	"time"
)

// ResultOptions is the data used to create a Result.
type ResultOptions struct {
	ID       string         // Optional; generated when empty
	TestID   string         // Logical test identity, not required to be unique
	Result   Status         // Terminal outcome
	Metadata map[string]any // Title, location, retry count, tags
	Params   map[string]any // Parametrized-test arguments
	Now      func() time.Time
}

// Result is the outcome record of one test case within a Run.
type Result struct {
	mu       sync.Mutex
	id       string
	TestID   string
	Result   Status
	Metadata map[string]any
	Params   map[string]any

	startTime *time.Time
	duration  float64
	stopped   bool
	artifacts ArtifactStore
	now       func() time.Time
}

// NewResult creates a Result, generating its ID when none is supplied. An
// empty Result status is allowed until the outcome is known.
func NewResult(opts ResultOptions) (*Result, error) {
	id, err := resolveID(opts.ID)
	if err != nil {
		return nil, err
	}
	if opts.Result != "" {
		if _, err := ParseStatus(string(opts.Result)); err != nil {
			return nil, err
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	metadata := opts.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Result{
		id:       id,
		TestID:   opts.TestID,
		Result:   opts.Result,
		Metadata: metadata,
		Params:   opts.Params,
		now:      now,
	}, nil
}

// ID returns the immutable result identifier.
func (r *Result) ID() string { return r.id }

// StartTimer records when the test case started.
func (r *Result) StartTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.now().UTC()
	r.startTime = &t
}

// StopTimer records the test case duration.
func (r *Result) StopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duration = elapsed(r.startTime, r.now())
	r.stopped = true
}

// Timed reports whether StopTimer has run.
func (r *Result) Timed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Duration returns the test duration in seconds.
func (r *Result) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

// StartTime returns the start time, or the zero time if never started.
func (r *Result) StartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startTime == nil {
		return time.Time{}
	}
	return *r.startTime
}

// AddArtifact attaches an artifact to the result.
func (r *Result) AddArtifact(name string, a Artifact) { r.artifacts.Add(name, a) }

// Artifacts returns a shallow copy of the result artifacts.
func (r *Result) Artifacts() map[string]Artifact { return r.artifacts.Artifacts() }

// ArtifactNames returns the artifact names in sorted order.
func (r *Result) ArtifactNames() []string { return r.artifacts.Names() }

type resultJSON struct {
	ID        string         `json:"id"`
	TestID    string         `json:"test_id"`
	Result    Status         `json:"result"`
	Duration  float64        `json:"duration"`
	StartTime *time.Time     `json:"start_time"`
	Metadata  map[string]any `json:"metadata"`
	Params    map[string]any `json:"params"`
}

// MarshalJSON emits the plain fields of the result.
func (r *Result) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(resultJSON{
		ID:        r.id,
		TestID:    r.TestID,
		Result:    r.Result,
		Duration:  r.duration,
		StartTime: r.startTime,
		Metadata:  r.Metadata,
		Params:    r.Params,
	})
}
