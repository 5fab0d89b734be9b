package models

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// ArtifactKind tags the content held by an Artifact.
type ArtifactKind uint8

const (
	KindBytes ArtifactKind = iota // Raw bytes held in memory
	KindFile                      // Reference to a file read lazily
	KindText                      // UTF-8 text (or a path, see Resolve)
)

func (k ArtifactKind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindFile:
		return "file"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Artifact is a named blob attached to a Run or a Result. Exactly one of
// Data, Path or Text is meaningful, selected by Kind.
type Artifact struct {
	Kind ArtifactKind
	Data []byte
	Path string
	Text string
}

// BytesArtifact wraps raw bytes.
func BytesArtifact(data []byte) Artifact { return Artifact{Kind: KindBytes, Data: data} }

// FileArtifact references a file on disk; it is read when packaged or sent.
func FileArtifact(path string) Artifact { return Artifact{Kind: KindFile, Path: path} }

// TextArtifact holds text content.
func TextArtifact(text string) Artifact { return Artifact{Kind: KindText, Text: text} }

// Resolve turns a text artifact naming an existing regular file into a file
// artifact. Any other artifact is returned unchanged.
func (a Artifact) Resolve() Artifact {
	if a.Kind != KindText || a.Text == "" || strings.ContainsRune(a.Text, '\n') {
		return a
	}
	info, err := os.Stat(a.Text)
	if err != nil || !info.Mode().IsRegular() {
		return a
	}
	return FileArtifact(a.Text)
}

// Size returns the content length in bytes after resolution.
func (a Artifact) Size() (int64, error) {
	r := a.Resolve()
	switch r.Kind {
	case KindBytes:
		return int64(len(r.Data)), nil
	case KindFile:
		info, err := os.Stat(r.Path)
		if err != nil {
			return 0, fmt.Errorf("failed to stat artifact file '%s': %w", r.Path, err)
		}
		return info.Size(), nil
	case KindText:
		return int64(len(r.Text)), nil
	default:
		return 0, fmt.Errorf("unsupported artifact kind %s", r.Kind)
	}
}

// Open returns a reader over the resolved content. The caller closes it.
func (a Artifact) Open() (io.ReadCloser, error) {
	r := a.Resolve()
	switch r.Kind {
	case KindBytes:
		return io.NopCloser(bytes.NewReader(r.Data)), nil
	case KindFile:
		f, err := os.Open(r.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact file '%s': %w", r.Path, err)
		}
		return f, nil
	case KindText:
		return io.NopCloser(strings.NewReader(r.Text)), nil
	default:
		return nil, fmt.Errorf("unsupported artifact kind %s", r.Kind)
	}
}

// ArtifactStore maps artifact filenames to content. A later Add with the
// same name replaces the earlier value.
type ArtifactStore struct {
	mu    sync.Mutex
	items map[string]Artifact
}

// Add stores content under name, overwriting any previous entry.
func (s *ArtifactStore) Add(name string, a Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[string]Artifact)
	}
	s.items[name] = a
}

// Artifacts returns a shallow copy of the store.
func (s *ArtifactStore) Artifacts() map[string]Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Artifact, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// Names returns the artifact filenames in sorted order.
func (s *ArtifactStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.items))
	for k := range s.items {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stored artifacts.
func (s *ArtifactStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
