package filestore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s, root
}

func TestRunRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	doc, err := s.GetRun(ctx, "demo", "r1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, s.SaveRun(ctx, "demo", "r1", json.RawMessage(`{"id":"r1","env":"a"}`)))
	require.NoError(t, s.SaveRun(ctx, "demo", "r1", json.RawMessage(`{"id":"r1","env":"b"}`)))

	doc, err = s.GetRun(ctx, "demo", "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","env":"b"}`, string(doc))
}

func TestStoreArtifact(t *testing.T) {
	s, root := newTestStore(t)

	locator, err := s.StoreArtifact(context.Background(), "demo", "owner", "log.txt", strings.NewReader("hello"), 5)
	require.NoError(t, err)

	p := filepath.Join(root, "demo", "artifacts", "owner", "log.txt")
	assert.Equal(t, "file://"+filepath.ToSlash(p), locator)
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestRejectsPathTraversal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"../escape.txt", "a/b.txt", "..", ""} {
		_, err := s.StoreArtifact(ctx, "demo", "owner", name, strings.NewReader("x"), 1)
		assert.Error(t, err, "filename %q", name)
	}
	assert.Error(t, s.SaveRun(ctx, "../other", "r1", json.RawMessage(`{}`)))
}
