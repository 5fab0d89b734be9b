// Package archive packages a Run, its Results and their artifacts into a
// single <runId>.tar.gz file.
//
// Archive layout:
//
//	<runId>/run.json
//	<runId>/<run artifact>
//	<runId>/<resultId>/result.json
//	<runId>/<resultId>/<result artifact>
package archive

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/husmancristian/ta-collector/pkg/models"
)

const (
	runFileName    = "run.json"
	resultFileName = "result.json"
	archiveSuffix  = ".tar.gz"
	stagingPrefix  = ".staging-"
)

// Re-exported so callers of this package can match on them directly.
var (
	ErrRunNotFinalized    = models.ErrRunNotFinalized
	ErrResultNotFinalized = models.ErrResultNotFinalized
)

// ArtifactFailure describes one artifact that could not be staged.
type ArtifactFailure struct {
	OwnerID  string // Run or Result ID
	Filename string
	Err      error
}

func (f ArtifactFailure) Error() string {
	return fmt.Sprintf("artifact '%s' of %s: %v", f.Filename, f.OwnerID, f.Err)
}

// Report is the outcome of one Create call.
type Report struct {
	Path     string
	Failures []ArtifactFailure
}

// Archiver writes run archives into a single output directory.
type Archiver struct {
	outputDir string
	logger    *slog.Logger
}

// New creates an Archiver writing to outputDir.
func New(outputDir string, logger *slog.Logger) *Archiver {
	return &Archiver{outputDir: outputDir, logger: logger.With(slog.String("component", "archiver"))}
}

// OutputDir returns the directory archives are written to.
func (a *Archiver) OutputDir() string { return a.outputDir }

// Create packages run and results and returns the archive path.
func (a *Archiver) Create(run *models.Run, results []*models.Result) (string, error) {
	rep, err := a.CreateWithReport(run, results)
	if err != nil {
		return "", err
	}
	return rep.Path, nil
}

// CreateWithReport is Create that also returns the artifacts that failed to stage.
func (a *Archiver) CreateWithReport(run *models.Run, results []*models.Result) (Report, error) {
	if err := models.CheckFinalized(run, results); err != nil {
		return Report{}, fmt.Errorf("cannot archive: %w", err)
	}
	logger := a.logger.With(slog.String("run_id", run.ID()))

	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("failed to create archive directory '%s': %w", a.outputDir, err)
	}
	staging, err := os.MkdirTemp(a.outputDir, stagingPrefix)
	if err != nil {
		return Report{}, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warn("Failed to remove staging directory", slog.String("path", staging), slog.String("error", err.Error()))
		}
	}()

	runDir := filepath.Join(staging, run.ID())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("failed to create run staging directory: %w", err)
	}
	if err := writeJSON(filepath.Join(runDir, runFileName), run); err != nil {
		return Report{}, fmt.Errorf("failed to write %s: %w", runFileName, err)
	}

	var rep Report
	rep.Failures = append(rep.Failures, a.stageArtifacts(logger, runDir, run.ID(), run.Artifacts())...)

	for _, res := range results {
		resDir := filepath.Join(runDir, res.ID())
		if err := os.MkdirAll(resDir, 0o755); err != nil {
			return Report{}, fmt.Errorf("failed to create staging directory for result %s: %w", res.ID(), err)
		}
		if err := writeJSON(filepath.Join(resDir, resultFileName), res); err != nil {
			return Report{}, fmt.Errorf("failed to write %s for result %s: %w", resultFileName, res.ID(), err)
		}
		rep.Failures = append(rep.Failures, a.stageArtifacts(logger, resDir, res.ID(), res.Artifacts())...)
	}

	dst := filepath.Join(a.outputDir, run.ID()+archiveSuffix)
	if err := tarGzDir(runDir, dst); err != nil {
		return Report{}, err
	}
	rep.Path = dst

	logger.Info("Created run archive",
		slog.String("path", dst),
		slog.Int("results", len(results)),
		slog.Int("artifact_failures", len(rep.Failures)),
	)
	return rep, nil
}

// stageArtifacts writes every artifact into dir. Failures are logged and
// collected; they never stop the remaining writes.
func (a *Archiver) stageArtifacts(logger *slog.Logger, dir, ownerID string, artifacts map[string]models.Artifact) []ArtifactFailure {
	var failures []ArtifactFailure
	for name, art := range artifacts {
		if err := writeArtifact(dir, name, art); err != nil {
			logger.Error("Failed to write artifact",
				slog.String("owner_id", ownerID),
				slog.String("filename", name),
				slog.String("error", err.Error()),
			)
			failures = append(failures, ArtifactFailure{OwnerID: ownerID, Filename: name, Err: err})
		}
	}
	return failures
}

func writeArtifact(dir, name string, art models.Artifact) error {
	if !filepath.IsLocal(name) || name == runFileName || name == resultFileName {
		return fmt.Errorf("invalid artifact filename %q", name)
	}
	dst := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	src, err := art.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// tarGzDir writes srcDir into dstFile with srcDir's base name as the single
// top-level directory. The archive is written next to dstFile and renamed
// into place once complete.
func tarGzDir(srcDir, dstFile string) (err error) {
	tmp := dstFile + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	root := filepath.Clean(srcDir)
	base := filepath.Base(root)
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(base, rel))
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write archive entries: %w", err)
	}
	if err = tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err = gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize gzip stream: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	if err = os.Rename(tmp, dstFile); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	return nil
}
