package apiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	syncpkg "github.com/foliosync/foliosync/internal/sync"
)

// apiKeyHeader is the authentication header every request carries (§6).
const apiKeyHeader = "X-API-Key"

// Client is a single-attempt HTTP client for the remote content service.
// It satisfies sync.APIClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. httpClient defaults to http.DefaultClient if nil.
func New(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

var _ syncpkg.APIClient = (*Client)(nil)

// errorBody mirrors the server's error response shape: {msg|message|error}
// plus an optional details.suggestions array (§4.3's 409 name-taken case).
type errorBody struct {
	Msg     string `json:"msg"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Details struct {
		Suggestions []string `json:"suggestions"`
	} `json:"details"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.Msg, b.Message, b.Error} {
		if s != "" {
			return s
		}
	}

	return "unknown error"
}

// do issues a single request and decodes a JSON response into out (if
// non-nil). A non-2xx response is parsed as an errorBody and returned as
// *APIError. Network-level failures (dial, timeout, DNS) are wrapped in
// ErrNetwork.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encoding request body: %w", err)
		}

		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("apiclient: building request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w: %s %s: %v", ErrNetwork, syncpkg.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	respBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("%w: %w: reading response body: %v", ErrNetwork, syncpkg.ErrNetwork, readErr)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var eb errorBody
		_ = json.Unmarshal(respBytes, &eb) // best-effort; empty body yields zero value

		c.logger.Debug("apiclient: request failed",
			slog.String("method", method), slog.String("path", path),
			slog.Int("status", resp.StatusCode))

		return newAPIError(resp.StatusCode, eb.text(), eb.Details.Suggestions)
	}

	if out == nil || len(respBytes) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("apiclient: decoding response: %w", err)
	}

	return nil
}

type statusResponse struct {
	Username   string    `json:"username"`
	ServerTime time.Time `json:"serverTime"`
}

func (c *Client) Status(ctx context.Context) (syncpkg.StatusResult, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return syncpkg.StatusResult{}, err
	}

	return syncpkg.StatusResult{Username: resp.Username, ServerTime: resp.ServerTime}, nil
}

type siteRecordWire struct {
	NodeID     json.Number `json:"nodeId"`
	Filename   string      `json:"filename"`
	Path       string      `json:"path"`
	Checksum   string      `json:"checksum"`
	ModifiedAt time.Time   `json:"modifiedAt"`
}

func (c *Client) ListSites(ctx context.Context) ([]syncpkg.SiteRecord, error) {
	var resp []siteRecordWire
	if err := c.do(ctx, http.MethodGet, "/sites", nil, &resp); err != nil {
		return nil, err
	}

	records := make([]syncpkg.SiteRecord, 0, len(resp))
	for _, r := range resp {
		records = append(records, syncpkg.SiteRecord{
			NodeID:     syncpkg.NodeID(r.NodeID.String()),
			Filename:   r.Filename,
			Path:       r.Path,
			Checksum:   r.Checksum,
			ModifiedAt: r.ModifiedAt,
		})
	}

	return records, nil
}

type downloadResponse struct {
	Content    string    `json:"content"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Checksum   string    `json:"checksum"`
}

func (c *Client) Download(ctx context.Context, pathNoExt string) (syncpkg.DownloadResult, error) {
	var resp downloadResponse

	path := "/sites/" + url.PathEscape(pathNoExt)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return syncpkg.DownloadResult{}, err
	}

	return syncpkg.DownloadResult{
		Content:    resp.Content,
		ModifiedAt: resp.ModifiedAt,
		Checksum:   resp.Checksum,
	}, nil
}

type uploadRequestWire struct {
	Filename     string    `json:"filename"`
	Content      string    `json:"content"`
	ModifiedAt   time.Time `json:"modifiedAt"`
	SnapshotHTML string    `json:"snapshotHtml,omitempty"`
	SenderID     string    `json:"senderId,omitempty"`
}

type uploadResponse struct {
	NodeID json.Number `json:"nodeId"`
}

func (c *Client) Upload(ctx context.Context, req syncpkg.UploadRequest) (syncpkg.UploadResult, error) {
	wire := uploadRequestWire{
		Filename:     req.Filename,
		Content:      req.Content,
		ModifiedAt:   req.ModifiedAt,
		SnapshotHTML: req.SnapshotHTML,
		SenderID:     req.SenderID,
	}

	var resp uploadResponse
	if err := c.do(ctx, http.MethodPost, "/sites", wire, &resp); err != nil {
		return syncpkg.UploadResult{}, err
	}

	return syncpkg.UploadResult{NodeID: syncpkg.NodeID(resp.NodeID.String())}, nil
}

func (c *Client) Delete(ctx context.Context, id syncpkg.NodeID) error {
	return c.do(ctx, http.MethodDelete, "/sites", map[string]string{"nodeId": string(id)}, nil)
}

func (c *Client) Rename(ctx context.Context, id syncpkg.NodeID, newName string) error {
	return c.do(ctx, http.MethodPatch, "/sites", map[string]string{
		"nodeId":  string(id),
		"newName": newName,
	}, nil)
}

func (c *Client) Move(ctx context.Context, id syncpkg.NodeID, targetFolderPath string) error {
	return c.do(ctx, http.MethodPatch, "/sites", map[string]string{
		"nodeId":           string(id),
		"targetFolderPath": targetFolderPath,
	}, nil)
}

type uploadRecordWire struct {
	Path       string    `json:"path"`
	Checksum   string    `json:"checksum"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func (c *Client) ListUploads(ctx context.Context) ([]syncpkg.UploadRecord, error) {
	var resp []uploadRecordWire
	if err := c.do(ctx, http.MethodGet, "/uploads", nil, &resp); err != nil {
		return nil, err
	}

	records := make([]syncpkg.UploadRecord, 0, len(resp))
	for _, r := range resp {
		records = append(records, syncpkg.UploadRecord{
			Path:       r.Path,
			Checksum:   r.Checksum,
			ModifiedAt: r.ModifiedAt,
		})
	}

	return records, nil
}

type downloadUploadResponse struct {
	Content    string    `json:"content"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Checksum   string    `json:"checksum"`
}

func (c *Client) DownloadUpload(ctx context.Context, path string) (syncpkg.DownloadUploadResult, error) {
	var resp downloadUploadResponse

	reqPath := "/uploads/" + url.PathEscape(path)
	if err := c.do(ctx, http.MethodGet, reqPath, nil, &resp); err != nil {
		return syncpkg.DownloadUploadResult{}, err
	}

	decoded, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return syncpkg.DownloadUploadResult{}, fmt.Errorf("apiclient: decoding upload content: %w", err)
	}

	return syncpkg.DownloadUploadResult{
		Content:    decoded,
		ModifiedAt: resp.ModifiedAt,
		Checksum:   resp.Checksum,
	}, nil
}

type uploadUploadRequestWire struct {
	Path       string    `json:"path"`
	Content    string    `json:"content"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func (c *Client) UploadUpload(ctx context.Context, req syncpkg.UploadUploadRequest) error {
	wire := uploadUploadRequestWire{
		Path:       req.Path,
		Content:    base64.StdEncoding.EncodeToString(req.Content),
		ModifiedAt: req.ModifiedAt,
	}

	return c.do(ctx, http.MethodPost, "/uploads", wire, nil)
}

// OpenStream opens the SSE connection and returns the raw response body for
// the sync package's realtime.go frame reader to consume. The caller must close it.
func (c *Client) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sync/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: building stream request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: opening stream: %v", ErrNetwork, syncpkg.ErrNetwork, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		respBytes, _ := io.ReadAll(resp.Body)

		var eb errorBody
		_ = json.Unmarshal(respBytes, &eb)

		return nil, newAPIError(resp.StatusCode, eb.text(), nil)
	}

	return resp.Body, nil
}
