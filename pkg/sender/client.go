package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	httperrors "github.com/husmancristian/ta-collector/errors"
	"github.com/husmancristian/ta-collector/pkg/models"
)

const (
	apiPrefix          = "/api/v1"
	artifactFieldName  = "file"
	contentTypeJSON    = "application/json"
	defaultHTTPTimeout = 30 * time.Second
)

// ErrNotFound is returned by GetRun when the server has no such run.
var ErrNotFound = errors.New("not found")

// Info is the collection server's self-description.
type Info struct {
	FrontendURL string `json:"frontend_url"`
	Version     string `json:"version,omitempty"`
}

// RemoteClient is the request/response protocol of the collection server.
type RemoteClient interface {
	Info(ctx context.Context) (Info, error)
	GetRun(ctx context.Context, runID string) error
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	CreateResult(ctx context.Context, runID string, result *models.Result) error
	UploadArtifact(ctx context.Context, ownerID, filename string, artifact models.Artifact) error
}

// Client talks to the collection server over HTTP with bearer-token auth.
type Client struct {
	baseURL    string
	token      string
	project    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ RemoteClient = (*Client)(nil)

// NewClient creates a collection server client. A nil httpClient gets a
// default client with a 30s timeout.
func NewClient(baseURL, token, project string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid collection server URL %q", baseURL)
	}
	if token == "" {
		return nil, fmt.Errorf("collection server token is required")
	}
	if project == "" {
		return nil, fmt.Errorf("collection server project is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		project:    project,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "collector_client")),
	}, nil
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + path.Join(append([]string{apiPrefix}, escaped...)...)
}

func (c *Client) projectEndpoint(parts ...string) string {
	return c.endpoint(append([]string{"projects", c.project}, parts...)...)
}

// do sends req and decodes a JSON body into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httperrors.FromResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Redacted(), err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, target string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	return c.do(req, nil)
}

// Info fetches the server description, including the frontend URL.
func (c *Client) Info(ctx context.Context) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("info"), nil)
	if err != nil {
		return Info{}, fmt.Errorf("failed to create info request: %w", err)
	}
	var info Info
	if err := c.do(req, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// GetRun checks whether the run exists. It returns ErrNotFound on 404.
func (c *Client) GetRun(ctx context.Context, runID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.projectEndpoint("runs", runID), nil)
	if err != nil {
		return fmt.Errorf("failed to create run lookup request: %w", err)
	}
	err = c.do(req, nil)
	var apiErr *httperrors.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// CreateRun creates the run on the server.
func (c *Client) CreateRun(ctx context.Context, run *models.Run) error {
	return c.sendJSON(ctx, http.MethodPost, c.projectEndpoint("runs"), run)
}

// UpdateRun replaces the server copy of the run.
func (c *Client) UpdateRun(ctx context.Context, run *models.Run) error {
	return c.sendJSON(ctx, http.MethodPut, c.projectEndpoint("runs", run.ID()), run)
}

// CreateResult adds a result to a run.
func (c *Client) CreateResult(ctx context.Context, runID string, result *models.Result) error {
	return c.sendJSON(ctx, http.MethodPost, c.projectEndpoint("runs", runID, "results"), result)
}

// UploadArtifact posts one artifact as a multipart form. The content is
// reopened on every call so a retried upload starts from the beginning.
func (c *Client) UploadArtifact(ctx context.Context, ownerID, filename string, artifact models.Artifact) error {
	src, err := artifact.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(artifactFieldName, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file for '%s': %w", filename, err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("failed to copy content of '%s': %w", filename, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.projectEndpoint("artifacts", ownerID), body)
	if err != nil {
		return fmt.Errorf("failed to create artifact upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := c.do(req, nil); err != nil {
		return err
	}
	c.logger.Debug("Uploaded artifact", slog.String("owner_id", ownerID), slog.String("filename", filename))
	return nil
}
