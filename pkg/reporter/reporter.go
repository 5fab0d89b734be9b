// Package reporter drives one test session through archiving and the
// configured delivery sink, then records and announces the outcome.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/husmancristian/ta-collector/pkg/archive"
	"github.com/husmancristian/ta-collector/pkg/config"
	"github.com/husmancristian/ta-collector/pkg/queue"
	"github.com/husmancristian/ta-collector/pkg/queue/rabbitmq"
	"github.com/husmancristian/ta-collector/pkg/retry"
	"github.com/husmancristian/ta-collector/pkg/sender"
	"github.com/husmancristian/ta-collector/pkg/storage/ledger"
	"github.com/husmancristian/ta-collector/pkg/storage/objectstore"
)

// ErrConfiguration is returned by New when the configuration cannot drive a
// session. Hosts should disable reporting instead of failing the test run.
var ErrConfiguration = config.ErrConfiguration

// DeliveryRecorder stores sink outcomes, see ledger.Ledger.
type DeliveryRecorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Deps overrides the collaborators New would otherwise build from the
// configuration. Nil fields are built on demand.
type Deps struct {
	Remote      sender.RemoteClient
	ObjectStore objectstore.ObjectStore
	Ledger      DeliveryRecorder
	Notifier    queue.Notifier
	Retry       retry.Policy
	Logger      *slog.Logger
}

// Reporter holds the sinks shared by every session.
type Reporter struct {
	cfg      *config.Config
	archiver *archive.Archiver
	remote   sender.RemoteClient
	uploader *objectstore.Uploader
	ledger   DeliveryRecorder
	notifier queue.Notifier
	retry    retry.Policy
	logger   *slog.Logger

	closers []func() error
}

// New validates cfg and prepares the sinks of its mode.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Reporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{
		cfg:      cfg,
		archiver: archive.New(cfg.ArchiveDir, logger),
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		retry:    deps.Retry,
		logger:   logger.With(slog.String("component", "reporter")),
	}

	switch cfg.Mode {
	case config.ModeRemote:
		r.remote = deps.Remote
		if r.remote == nil {
			client, err := sender.NewClient(cfg.ServerURL, cfg.Token, cfg.Project, &http.Client{Timeout: cfg.RequestTimeout}, logger)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			r.remote = client
		}
	case config.ModeS3:
		store := deps.ObjectStore
		if store == nil {
			minioStore, err := objectstore.NewMinIOStore(objectstore.MinIOConfig{
				Endpoint:  cfg.S3.Endpoint,
				Bucket:    cfg.S3.Bucket,
				AccessKey: cfg.S3.AccessKey,
				SecretKey: cfg.S3.SecretKey,
				Profile:   cfg.S3.Profile,
				UseSSL:    cfg.S3.UseSSL,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			store = minioStore
		}
		r.uploader = objectstore.NewUploader(store, logger)
	}

	if r.ledger == nil && cfg.LedgerDSN != "" {
		l, err := ledger.Open(ctx, cfg.LedgerDSN, logger)
		if err != nil {
			r.logger.Warn("Delivery ledger unavailable, outcomes will not be recorded", slog.String("error", err.Error()))
		} else {
			r.ledger = l
			r.closers = append(r.closers, l.Close)
		}
	}
	if r.notifier == nil && cfg.NotifyURL != "" {
		n, err := rabbitmq.NewNotifier(cfg.NotifyURL, logger)
		if err != nil {
			r.logger.Warn("Delivery notifier unavailable, no notifications will be published", slog.String("error", err.Error()))
		} else {
			r.notifier = n
			r.closers = append(r.closers, n.Close)
		}
	}
	return r, nil
}

// Uploader returns the object-store uploader, or nil outside s3 mode.
func (r *Reporter) Uploader() *objectstore.Uploader { return r.uploader }

// Close releases the connections New opened.
func (r *Reporter) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
