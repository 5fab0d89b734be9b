// Package sender delivers a Run, its Results and their artifacts to the
// remote collection server.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/husmancristian/ta-collector/pkg/models"
	"github.com/husmancristian/ta-collector/pkg/retry"
)

// DefaultMaxArtifactSize is the upload ceiling. Artifacts of this size or
// larger are never sent.
const DefaultMaxArtifactSize int64 = 5 << 20

// ErrArtifactTooLarge is recorded for artifacts at or above the size ceiling.
var ErrArtifactTooLarge = errors.New("artifact exceeds upload size limit")

// ItemKind names the remote operation an ItemResult belongs to.
type ItemKind string

const (
	OpRun      ItemKind = "run"
	OpResult   ItemKind = "result"
	OpArtifact ItemKind = "artifact"
)

// ItemResult is the outcome of one remote operation.
type ItemResult struct {
	Kind    ItemKind
	OwnerID string // Run or Result ID
	Name    string // Artifact filename, empty otherwise
	Err     error
}

// OK reports whether the operation succeeded.
func (i ItemResult) OK() bool { return i.Err == nil }

func (i ItemResult) label() string {
	if i.Name != "" {
		return fmt.Sprintf("%s %s '%s'", i.Kind, i.OwnerID, i.Name)
	}
	return fmt.Sprintf("%s %s", i.Kind, i.OwnerID)
}

func (i ItemResult) String() string {
	if i.Err != nil {
		return i.label() + ": " + i.Err.Error()
	}
	return i.label() + ": ok"
}

// BatchReport collects every operation of one SendData call.
type BatchReport struct {
	Items []ItemResult
	// LookupFailures counts run lookups that failed for a reason other
	// than "not found" and fell through to create.
	LookupFailures int
}

// Errors returns the recorded errors in the order they happened.
func (b BatchReport) Errors() []error {
	var errs []error
	for _, item := range b.Items {
		if item.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.label(), item.Err))
		}
	}
	return errs
}

// Failed returns the failed items.
func (b BatchReport) Failed() []ItemResult {
	var out []ItemResult
	for _, item := range b.Items {
		if item.Err != nil {
			out = append(out, item)
		}
	}
	return out
}

// Options configures a Sender.
type Options struct {
	MaxArtifactSize int64
	Retry           retry.Policy
	Logger          *slog.Logger
}

// Sender performs the upload protocol against a RemoteClient.
type Sender struct {
	client      RemoteClient
	policy      retry.Policy
	maxSize     int64
	logger      *slog.Logger
	report      BatchReport
	frontendURL string
}

// New creates a Sender. Zero-valued options fall back to the defaults.
func New(client RemoteClient, opts Options) *Sender {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.Default(logger)
	}
	maxSize := opts.MaxArtifactSize
	if maxSize <= 0 {
		maxSize = DefaultMaxArtifactSize
	}
	return &Sender{
		client:  client,
		policy:  policy,
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "sender")),
	}
}

// SendData uploads the run, its artifacts, every result with its artifacts
// and finally updates the run again. Failures of single items are recorded
// and never stop later items. It returns true iff nothing was recorded.
//
// A run or result whose timer is still running is rejected before any
// remote call is made.
func (s *Sender) SendData(ctx context.Context, run *models.Run, results []*models.Result) bool {
	if err := models.CheckFinalized(run, results); err != nil {
		var ownerID string
		if run != nil {
			ownerID = run.ID()
		}
		s.logger.Error("Refusing to send unfinalized run data", slog.String("run_id", ownerID), slog.String("error", err.Error()))
		s.record(ItemResult{Kind: OpRun, OwnerID: ownerID, Err: err})
		return false
	}

	logger := s.logger.With(slog.String("run_id", run.ID()))
	s.fetchFrontendURL(ctx)

	s.addOrUpdateRun(ctx, logger, run)
	s.uploadArtifacts(ctx, logger, run.ID(), run.Artifacts())

	for _, res := range results {
		err := s.policy.Do(ctx, "create-result", func(ctx context.Context) error {
			return s.client.CreateResult(ctx, run.ID(), res)
		})
		s.record(ItemResult{Kind: OpResult, OwnerID: res.ID(), Err: err})
		if err != nil {
			logger.Error("Failed to upload result; skipping its artifacts",
				slog.String("result_id", res.ID()),
				slog.String("test_id", res.TestID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.uploadArtifacts(ctx, logger, res.ID(), res.Artifacts())
	}

	// The second call lets the server finalize with the complete result set.
	s.addOrUpdateRun(ctx, logger, run)

	ok := s.Success()
	logger.Info("Finished sending run data",
		slog.Bool("success", ok),
		slog.Int("results", len(results)),
		slog.Int("errors", len(s.report.Failed())),
	)
	return ok
}

// addOrUpdateRun updates the run if it exists and creates it otherwise. A
// failed lookup is treated as absent so the create still happens; the two
// cases are logged and counted separately.
func (s *Sender) addOrUpdateRun(ctx context.Context, logger *slog.Logger, run *models.Run) {
	lookupErr := s.policy.Do(ctx, "get-run", func(ctx context.Context) error {
		return s.client.GetRun(ctx, run.ID())
	})

	var err error
	switch {
	case lookupErr == nil:
		err = s.policy.Do(ctx, "update-run", func(ctx context.Context) error {
			return s.client.UpdateRun(ctx, run)
		})
	case errors.Is(lookupErr, ErrNotFound):
		logger.Debug("Run not found on server, creating", slog.String("lookup", "absent"))
		err = s.policy.Do(ctx, "create-run", func(ctx context.Context) error {
			return s.client.CreateRun(ctx, run)
		})
	default:
		s.report.LookupFailures++
		logger.Warn("Run lookup failed, attempting create",
			slog.String("lookup", "failed"),
			slog.String("error", lookupErr.Error()),
		)
		err = s.policy.Do(ctx, "create-run", func(ctx context.Context) error {
			return s.client.CreateRun(ctx, run)
		})
	}
	if err != nil {
		logger.Error("Failed to add or update run", slog.String("error", err.Error()))
	}
	s.record(ItemResult{Kind: OpRun, OwnerID: run.ID(), Err: err})
}

func (s *Sender) uploadArtifacts(ctx context.Context, logger *slog.Logger, ownerID string, artifacts map[string]models.Artifact) {
	for _, name := range slices.Sorted(maps.Keys(artifacts)) {
		err := s.uploadArtifact(ctx, ownerID, name, artifacts[name])
		if err != nil {
			logger.Error("Failed to upload artifact",
				slog.String("owner_id", ownerID),
				slog.String("filename", name),
				slog.String("error", err.Error()),
			)
		}
		s.record(ItemResult{Kind: OpArtifact, OwnerID: ownerID, Name: name, Err: err})
	}
}

func (s *Sender) uploadArtifact(ctx context.Context, ownerID, name string, artifact models.Artifact) error {
	size, err := artifact.Size()
	if err != nil {
		return err
	}
	if size >= s.maxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrArtifactTooLarge, size, s.maxSize)
	}
	return s.policy.Do(ctx, "upload-artifact", func(ctx context.Context) error {
		return s.client.UploadArtifact(ctx, ownerID, name, artifact)
	})
}

func (s *Sender) fetchFrontendURL(ctx context.Context) {
	if s.frontendURL != "" {
		return
	}
	info, err := s.client.Info(ctx)
	if err != nil {
		s.logger.Debug("Could not fetch server info", slog.String("error", err.Error()))
		return
	}
	s.frontendURL = strings.TrimRight(info.FrontendURL, "/")
}

func (s *Sender) record(item ItemResult) {
	s.report.Items = append(s.report.Items, item)
}

// Success reports whether no error has been recorded.
func (s *Sender) Success() bool { return len(s.report.Failed()) == 0 }

// Errors returns every recorded error.
func (s *Sender) Errors() []error { return s.report.Errors() }

// Report returns the per-item outcomes so far.
func (s *Sender) Report() BatchReport { return s.report }

// FrontendURL returns the server's frontend URL, or "" if it is unknown.
func (s *Sender) FrontendURL() string { return s.frontendURL }

// RunURL returns the frontend page for runID, or "" if the frontend URL is unknown.
func (s *Sender) RunURL(runID string) string {
	if s.frontendURL == "" {
		return ""
	}
	return s.frontendURL + "/runs/" + runID
}
