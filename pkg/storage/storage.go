package storage

import (
	"context"
	"encoding/json"
	"io"
)

// CollectorStore persists what the local collection server receives.
type CollectorStore interface {
	// GetRun returns the stored run document, or nil if the run does not exist.
	GetRun(ctx context.Context, project, runID string) (json.RawMessage, error)

	// SaveRun creates or replaces a run document.
	SaveRun(ctx context.Context, project, runID string, doc json.RawMessage) error

	// SaveResult stores a result document under its run.
	SaveResult(ctx context.Context, project, runID, resultID string, doc json.RawMessage) error

	// StoreArtifact stores an artifact for a run or result and returns its locator.
	StoreArtifact(ctx context.Context, project, ownerID, filename string, reader io.Reader, size int64) (string, error)

	// Close releases any resources held by the store.
	Close() error
}
