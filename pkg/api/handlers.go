package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	httperrors "github.com/husmancristian/ta-collector/errors" // Error helpers
	"github.com/husmancristian/ta-collector/pkg/models"
	"github.com/husmancristian/ta-collector/pkg/storage"

	"github.com/go-chi/chi/v5"
)

const (
	maxDocumentSize   = 4 << 20  // 4 MB run/result JSON
	maxUploadMemory   = 32 << 20 // 32 MB
	artifactFieldName = "file"
)

// API implements the collection protocol on top of a CollectorStore.
type API struct {
	ResultStore     storage.CollectorStore
	Logger          *slog.Logger
	FrontendURL     string
	Version         string
	MaxArtifactSize int64
}

func NewAPI(rs storage.CollectorStore, logger *slog.Logger, frontendURL string) *API {
	return &API{ResultStore: rs, Logger: logger, FrontendURL: frontendURL, Version: "v1", MaxArtifactSize: 5 << 20}
}

// idDocument extracts the id field of a posted run or result.
type idDocument struct {
	ID string `json:"id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// readDocument reads a JSON body and returns it with its validated id.
func readDocument(r *http.Request) (json.RawMessage, string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > maxDocumentSize {
		return nil, "", fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
	}
	var doc idDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, "", fmt.Errorf("invalid JSON: %w", err)
	}
	if !models.IsValidID(doc.ID) {
		return nil, "", fmt.Errorf("id %q is not a canonical UUID", doc.ID)
	}
	return body, doc.ID, nil
}

// HandleInfo reports the frontend URL used in user-facing links.
func (a *API) HandleInfo(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, map[string]string{"frontend_url": a.FrontendURL, "version": a.Version}); err != nil {
		a.Logger.Error("Failed to encode info response", slog.String("error", err.Error()))
	}
}

// HandleGetRun returns a stored run document.
func (a *API) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	runID := chi.URLParam(r, "runId")
	logger := a.Logger.With(slog.String("handler", "HandleGetRun"), slog.String("run_id", runID))

	doc, err := a.ResultStore.GetRun(r.Context(), project, runID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve run")
		return
	}
	if doc == nil {
		httperrors.NotFound(w, logger, nil, "Run not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// HandleCreateRun stores a new run.
func (a *API) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	logger := a.Logger.With(slog.String("handler", "HandleCreateRun"), slog.String("project", project))

	doc, runID, err := readDocument(r)
	if err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid run document")
		return
	}
	if err := a.ResultStore.SaveRun(r.Context(), project, runID, doc); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to save run")
		return
	}
	if err := writeJSON(w, http.StatusCreated, map[string]string{"id": runID}); err != nil {
		logger.Error("Failed to encode create run response", slog.String("error", err.Error()))
	}
}

// HandleUpdateRun replaces an existing run.
func (a *API) HandleUpdateRun(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	runID := chi.URLParam(r, "runId")
	logger := a.Logger.With(slog.String("handler", "HandleUpdateRun"), slog.String("run_id", runID))

	doc, docID, err := readDocument(r)
	if err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid run document")
		return
	}
	if docID != runID {
		httperrors.BadRequest(w, logger, nil, "Run id in body does not match path")
		return
	}
	existing, err := a.ResultStore.GetRun(r.Context(), project, runID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve run")
		return
	}
	if existing == nil {
		httperrors.NotFound(w, logger, nil, "Run not found")
		return
	}
	if err := a.ResultStore.SaveRun(r.Context(), project, runID, doc); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to save run")
		return
	}
	if err := writeJSON(w, http.StatusOK, map[string]string{"id": runID}); err != nil {
		logger.Error("Failed to encode update run response", slog.String("error", err.Error()))
	}
}

// HandleCreateResult stores a result under an existing run.
func (a *API) HandleCreateResult(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	runID := chi.URLParam(r, "runId")
	logger := a.Logger.With(slog.String("handler", "HandleCreateResult"), slog.String("run_id", runID))

	doc, resultID, err := readDocument(r)
	if err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid result document")
		return
	}
	existing, err := a.ResultStore.GetRun(r.Context(), project, runID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve run")
		return
	}
	if existing == nil {
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("Run %s not found", runID))
		return
	}
	if err := a.ResultStore.SaveResult(r.Context(), project, runID, resultID, doc); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to save result")
		return
	}
	if err := writeJSON(w, http.StatusCreated, map[string]string{"id": resultID}); err != nil {
		logger.Error("Failed to encode create result response", slog.String("error", err.Error()))
	}
}

// HandleUploadArtifact stores one multipart file for a run or result.
func (a *API) HandleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	ownerID := chi.URLParam(r, "ownerId")
	logger := a.Logger.With(slog.String("handler", "HandleUploadArtifact"), slog.String("owner_id", ownerID))

	if !models.IsValidID(ownerID) {
		httperrors.BadRequest(w, logger, nil, "Owner id is not a canonical UUID")
		return
	}
	if a.MaxArtifactSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxArtifactSize+maxUploadMemory)
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httperrors.BadRequest(w, logger, err, "Failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(artifactFieldName)
	if err != nil {
		httperrors.BadRequest(w, logger, err, "Missing file field")
		return
	}
	defer file.Close()

	if a.MaxArtifactSize > 0 && header.Size >= a.MaxArtifactSize {
		httperrors.RequestEntityTooLarge(w, logger, nil, "Artifact exceeds size limit")
		return
	}

	locator, err := a.ResultStore.StoreArtifact(r.Context(), project, ownerID, header.Filename, file, header.Size)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to store artifact")
		return
	}
	if err := writeJSON(w, http.StatusCreated, map[string]string{"locator": locator}); err != nil {
		logger.Error("Failed to encode artifact response", slog.String("error", err.Error()))
	}
}
