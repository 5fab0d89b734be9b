// Package filestore is a directory-backed storage.CollectorStore used by the
// local collection server.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/husmancristian/ta-collector/pkg/storage"
)

// Ensure Store implements storage.CollectorStore interface at compile time
var _ storage.CollectorStore = (*Store)(nil)

// Store lays data out as:
//
//	<root>/<project>/runs/<runId>.json
//	<root>/<project>/results/<runId>/<resultId>.json
//	<root>/<project>/artifacts/<ownerId>/<filename>
type Store struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex // Serializes run document replacement
}

// NewStore creates the root directory if needed.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory '%s': %w", root, err)
	}
	logger.Info("File store initialized", slog.String("root", root))
	return &Store{root: root, logger: logger}, nil
}

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error { return nil }

func segment(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		return fmt.Errorf("invalid path segment %q", name)
	}
	return nil
}

func (s *Store) path(segments ...string) (string, error) {
	for _, seg := range segments {
		if err := segment(seg); err != nil {
			return "", err
		}
	}
	return filepath.Join(append([]string{s.root}, segments...)...), nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// GetRun returns nil, nil when the run does not exist.
func (s *Store) GetRun(_ context.Context, project, runID string) (json.RawMessage, error) {
	p, err := s.path(project, "runs", runID+".json")
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	return b, nil
}

// SaveRun writes the run document, replacing any earlier version.
func (s *Store) SaveRun(_ context.Context, project, runID string, doc json.RawMessage) error {
	p, err := s.path(project, "runs", runID+".json")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(p, doc); err != nil {
		return fmt.Errorf("failed to save run %s: %w", runID, err)
	}
	s.logger.Info("Saved run", slog.String("project", project), slog.String("run_id", runID))
	return nil
}

// SaveResult writes a result document under its run.
func (s *Store) SaveResult(_ context.Context, project, runID, resultID string, doc json.RawMessage) error {
	p, err := s.path(project, "results", runID, resultID+".json")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(p, doc); err != nil {
		return fmt.Errorf("failed to save result %s: %w", resultID, err)
	}
	s.logger.Info("Saved result", slog.String("run_id", runID), slog.String("result_id", resultID))
	return nil
}

// StoreArtifact copies reader to disk and returns a file:// locator.
func (s *Store) StoreArtifact(_ context.Context, project, ownerID, filename string, reader io.Reader, size int64) (string, error) {
	p, err := s.path(project, "artifacts", ownerID, filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact '%s': %w", filename, err)
	}
	n, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to store artifact '%s': %w", filename, err)
	}
	if size >= 0 && n != size {
		s.logger.Warn("Artifact size differs from declared size",
			slog.String("filename", filename), slog.Int64("declared", size), slog.Int64("written", n))
	}
	s.logger.Info("Stored artifact", slog.String("owner_id", ownerID), slog.String("filename", filename), slog.Int64("size", n))
	return "file://" + filepath.ToSlash(p), nil
}
