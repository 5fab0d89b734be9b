package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/husmancristian/ta-collector/pkg/models"
)

const archiveSuffix = ".tar.gz"

// Report lists what one UploadArchives call did with each archive.
type Report struct {
	Uploaded []string
	Skipped  []string
	Failed   map[string]error
}

// Uploader copies run archives from a local directory to an ObjectStore.
type Uploader struct {
	store  ObjectStore
	logger *slog.Logger

	mu   sync.Mutex
	last Report
}

func NewUploader(store ObjectStore, logger *slog.Logger) *Uploader {
	return &Uploader{store: store, logger: logger.With(slog.String("component", "objectstore"))}
}

// isArchiveName reports whether name has the <UUID>.tar.gz shape.
func isArchiveName(name string) bool {
	id, ok := strings.CutSuffix(name, archiveSuffix)
	return ok && models.IsValidID(id)
}

// UploadArchives uploads every archive in dir that the store does not
// already hold at the same size. It returns the locators of the objects
// actually uploaded. Per-file failures are logged and recorded in
// LastReport; only an unreadable directory is returned as an error.
func (u *Uploader) UploadArchives(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory %s: %w", dir, err)
	}

	report := Report{Failed: make(map[string]error)}
	var locators []string
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() || !isArchiveName(entry.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Failed[entry.Name()] = err
			continue
		}
		name := entry.Name()
		logger := u.logger.With(slog.String("archive", name))

		locator, skipped, err := u.uploadOne(ctx, filepath.Join(dir, name), name, logger)
		switch {
		case err != nil:
			logger.Error("Failed to upload archive", slog.String("error", err.Error()))
			report.Failed[name] = err
		case skipped:
			logger.Info("Archive already present with identical size, skipping")
			report.Skipped = append(report.Skipped, name)
		default:
			logger.Info("Uploaded archive", slog.String("locator", locator))
			report.Uploaded = append(report.Uploaded, name)
			locators = append(locators, locator)
		}
	}

	u.mu.Lock()
	u.last = report
	u.mu.Unlock()
	return locators, nil
}

func (u *Uploader) uploadOne(ctx context.Context, path, key string, logger *slog.Logger) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false, fmt.Errorf("failed to stat archive: %w", err)
	}
	size := info.Size()

	remoteSize, err := u.store.Stat(ctx, key)
	switch {
	case err == nil:
		if remoteSize == size {
			return "", true, nil
		}
		logger.Debug("Remote archive differs in size, re-uploading",
			slog.Int64("local_size", size), slog.Int64("remote_size", remoteSize))
	case errors.Is(err, ErrObjectNotFound):
	default:
		// Treat as absent so the archive is still delivered.
		logger.Warn("Failed to check remote archive, uploading anyway", slog.String("error", err.Error()))
	}

	locator, err := u.store.Put(ctx, key, f, size)
	if err != nil {
		return "", false, err
	}
	return locator, false, nil
}

// LastReport returns the outcome of the most recent UploadArchives call.
func (u *Uploader) LastReport() Report {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}
