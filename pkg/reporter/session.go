package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/husmancristian/ta-collector/pkg/config"
	"github.com/husmancristian/ta-collector/pkg/models"
	"github.com/husmancristian/ta-collector/pkg/queue"
	"github.com/husmancristian/ta-collector/pkg/sender"
	"github.com/husmancristian/ta-collector/pkg/storage/ledger"
)

// Sink names used in reports, the ledger and notifications.
const (
	SinkArchive = "archive"
	SinkRemote  = "remote"
	SinkS3      = "s3"
)

// ErrSessionFinished is returned when a result is added after Finish.
var ErrSessionFinished = errors.New("session already finished")

// SinkReport is the outcome of one sink.
type SinkReport struct {
	Sink     string
	Success  bool
	Errors   []error
	Locators []string
}

// SessionReport is the outcome of Finish.
type SessionReport struct {
	RunID   string
	Summary models.Summary
	Sinks   []SinkReport
	// RunURL is the frontend page of the run in remote mode, when known.
	RunURL string
}

// Success reports whether every sink succeeded.
func (r SessionReport) Success() bool {
	for _, s := range r.Sinks {
		if !s.Success {
			return false
		}
	}
	return true
}

// Sink returns the report of the named sink.
func (r SessionReport) Sink(name string) (SinkReport, bool) {
	for _, s := range r.Sinks {
		if s.Sink == name {
			return s, true
		}
	}
	return SinkReport{}, false
}

// Session accumulates one run and its results until Finish.
type Session struct {
	reporter *Reporter
	run      *models.Run
	logger   *slog.Logger

	mu       sync.Mutex
	results  []*models.Result
	finished bool
	report   SessionReport
}

// NewSession creates the run for a new session.
func (r *Reporter) NewSession(opts models.RunOptions) (*Session, error) {
	run, err := models.NewRun(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &Session{
		reporter: r,
		run:      run,
		logger:   r.logger.With(slog.String("run_id", run.ID())),
	}, nil
}

// Run returns the session's run.
func (s *Session) Run() *models.Run { return s.run }

// Start starts the run timer.
func (s *Session) Start() {
	s.run.StartTimer()
	s.logger.Info("Session started", slog.String("mode", string(s.reporter.cfg.Mode)))
}

// AddResult counts res in the run summary and queues it for delivery.
// Results are delivered in the order they are added.
func (s *Session) AddResult(res *models.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrSessionFinished
	}
	if err := s.run.Record(res.Result); err != nil {
		return fmt.Errorf("failed to record result %s: %w", res.ID(), err)
	}
	s.results = append(s.results, res)
	return nil
}

// Finish stops all timers, archives the run unless disabled, delivers it to
// the mode sink, then records and announces the outcome. A second call
// returns the first report.
func (s *Session) Finish(ctx context.Context) SessionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return s.report
	}
	s.finished = true

	for _, res := range s.results {
		if !res.Timed() {
			res.StopTimer()
		}
	}
	s.run.StopTimer()

	r := s.reporter
	report := SessionReport{RunID: s.run.ID(), Summary: s.run.Summary()}

	if !r.cfg.NoArchive {
		report.Sinks = append(report.Sinks, s.archive())
	}
	switch r.cfg.Mode {
	case config.ModeRemote:
		sink, runURL := s.sendRemote(ctx)
		report.Sinks = append(report.Sinks, sink)
		report.RunURL = runURL
	case config.ModeS3:
		report.Sinks = append(report.Sinks, s.uploadArchives(ctx))
	}

	s.recordLedger(ctx, report)
	s.notify(ctx, report)

	attrs := []any{slog.Bool("success", report.Success()), slog.Int("results", len(s.results))}
	for _, sink := range report.Sinks {
		attrs = append(attrs, slog.Int(sink.Sink+"_errors", len(sink.Errors)))
	}
	if report.RunURL != "" {
		attrs = append(attrs, slog.String("run_url", report.RunURL))
	}
	s.logger.Info("Session finished", attrs...)

	s.report = report
	return report
}

func (s *Session) archive() SinkReport {
	sink := SinkReport{Sink: SinkArchive}
	rep, err := s.reporter.archiver.CreateWithReport(s.run, s.results)
	if err != nil {
		// The remote sink still runs; it does not depend on the archive.
		s.logger.Error("Failed to create run archive", slog.String("error", err.Error()))
		sink.Errors = append(sink.Errors, err)
		return sink
	}
	for _, f := range rep.Failures {
		sink.Errors = append(sink.Errors, f)
	}
	sink.Locators = []string{rep.Path}
	sink.Success = len(sink.Errors) == 0
	return sink
}

func (s *Session) sendRemote(ctx context.Context) (SinkReport, string) {
	r := s.reporter
	snd := sender.New(r.remote, sender.Options{Retry: r.retry, Logger: s.logger})
	ok := snd.SendData(ctx, s.run, s.results)
	runURL := snd.RunURL(s.run.ID())
	sink := SinkReport{Sink: SinkRemote, Success: ok, Errors: snd.Errors()}
	if runURL != "" {
		sink.Locators = []string{runURL}
	}
	return sink, runURL
}

func (s *Session) uploadArchives(ctx context.Context) SinkReport {
	sink := SinkReport{Sink: SinkS3}
	locators, err := s.reporter.uploader.UploadArchives(ctx, s.reporter.cfg.ArchiveDir)
	if err != nil {
		s.logger.Error("Failed to upload archives", slog.String("error", err.Error()))
		sink.Errors = append(sink.Errors, err)
		return sink
	}
	for name, ferr := range s.reporter.uploader.LastReport().Failed {
		sink.Errors = append(sink.Errors, fmt.Errorf("%s: %w", name, ferr))
	}
	sink.Locators = locators
	sink.Success = len(sink.Errors) == 0
	return sink
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func (s *Session) recordLedger(ctx context.Context, report SessionReport) {
	if s.reporter.ledger == nil {
		return
	}
	for _, sink := range report.Sinks {
		var locator string
		if len(sink.Locators) > 0 {
			locator = sink.Locators[0]
		}
		err := s.reporter.ledger.Record(ctx, ledger.Entry{
			RunID:   report.RunID,
			Sink:    sink.Sink,
			Success: sink.Success,
			Errors:  errorStrings(sink.Errors),
			Locator: locator,
		})
		if err != nil {
			s.logger.Warn("Failed to record delivery", slog.String("sink", sink.Sink), slog.String("error", err.Error()))
		}
	}
}

func (s *Session) notify(ctx context.Context, report SessionReport) {
	if s.reporter.notifier == nil {
		return
	}
	d := queue.Delivery{RunID: report.RunID, Project: s.reporter.cfg.Project, Summary: report.Summary}
	for _, sink := range report.Sinks {
		d.Sinks = append(d.Sinks, queue.SinkOutcome{
			Sink:     sink.Sink,
			Success:  sink.Success,
			Errors:   errorStrings(sink.Errors),
			Locators: sink.Locators,
		})
	}
	if err := s.reporter.notifier.Notify(ctx, d); err != nil {
		s.logger.Warn("Failed to publish delivery notification", slog.String("error", err.Error()))
	}
}
