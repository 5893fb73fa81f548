// Package remote talks to the optional note server that keeps version
// history and a server-side trash for a synchronized note folder.
//
// The server's versioning and trash components are optional. A capability
// probe finds out which are present; features whose component is absent fail
// with ErrRemoteCapabilityMissing while the rest of the application keeps
// working from the local folder.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 32 << 20

// ClientConfig configures a Client.
type ClientConfig struct {
	URL      string
	Username string
	// Password is the app password used with Username for basic auth.
	Password string
	// Token, when set, is sent as a bearer token instead of basic auth.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a thin JSON client for the server API.
type Client struct {
	baseURL    string
	username   string
	password   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates cfg and returns a client. The URL may include a path
// prefix; API paths are appended to it.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", cfg.URL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger.With("component", "remote"),
	}, nil
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Wire formats.

type capabilitiesResponse struct {
	APIVersion string `json:"api_version"`
	Versions   bool   `json:"versions"`
	Trash      bool   `json:"trash"`
}

type versionJSON struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
	Label     string `json:"label"`
}

type versionListResponse struct {
	Versions []versionJSON `json:"versions"`
}

type trashJSON struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	DeletedAt int64  `json:"deleted_at"`
	Size      int64  `json:"size"`
}

type trashListResponse struct {
	Entries []trashJSON `json:"entries"`
}

type contentResponse struct {
	Content string `json:"content"`
}

type restoreRequest struct {
	ID string `json:"id"`
}

// errorResponse is the server's error body. Code "not_found" on a 404 means
// the component exists but the requested item does not.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// fetchCapabilities asks the server which optional components it runs. A
// 404 means none are installed and is not an error.
func (c *Client) fetchCapabilities(ctx context.Context) (*Capabilities, error) {
	var resp capabilitiesResponse
	err := c.get(ctx, "probe capabilities", "/api/v1/capabilities", nil, &resp)
	var re *Error
	if errors.As(err, &re) && re.Kind == KindCapabilityMissing {
		return &Capabilities{ServerURL: c.baseURL, ProbedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Capabilities{
		ServerURL:  c.baseURL,
		APIVersion: resp.APIVersion,
		Versions:   resp.Versions,
		Trash:      resp.Trash,
		ProbedAt:   time.Now(),
	}, nil
}

func (c *Client) listVersions(ctx context.Context, notePath string) ([]VersionEntry, error) {
	var resp versionListResponse
	q := url.Values{"path": {notePath}}
	if err := c.get(ctx, "list versions", "/api/v1/versions", q, &resp); err != nil {
		return nil, err
	}
	out := make([]VersionEntry, 0, len(resp.Versions))
	for _, v := range resp.Versions {
		p := v.Path
		if p == "" {
			p = notePath
		}
		out = append(out, VersionEntry{
			ID:        v.ID,
			Path:      p,
			Timestamp: time.Unix(v.Timestamp, 0),
			Label:     v.Label,
		})
	}
	return out, nil
}

func (c *Client) versionContent(ctx context.Context, notePath, id string) (string, error) {
	var resp contentResponse
	q := url.Values{"path": {notePath}, "id": {id}}
	if err := c.get(ctx, "fetch version", "/api/v1/versions/content", q, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) listTrash(ctx context.Context) ([]TrashEntry, error) {
	var resp trashListResponse
	if err := c.get(ctx, "list trash", "/api/v1/trash", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]TrashEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, TrashEntry{
			ID:        e.ID,
			Path:      e.Path,
			DeletedAt: time.Unix(e.DeletedAt, 0),
			Size:      e.Size,
		})
	}
	return out, nil
}

func (c *Client) trashContent(ctx context.Context, id string) (string, error) {
	var resp contentResponse
	if err := c.get(ctx, "fetch trashed note", "/api/v1/trash/content", url.Values{"id": {id}}, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) restoreTrash(ctx context.Context, id string) error {
	return c.post(ctx, "restore trashed note", "/api/v1/trash/restore", restoreRequest{ID: id}, nil)
}

// HTTP helpers

func (c *Client) get(ctx context.Context, op, path string, query url.Values, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return transportError(op, 0, err)
	}
	return c.doRequest(op, req, result)
}

func (c *Client) post(ctx context.Context, op, path string, body, result any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return transportError(op, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return transportError(op, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(op, req, result)
}

func (c *Client) doRequest(op string, req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportError(op, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}
	c.logger.Debug("remote request", "op", op, "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		var detail error
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			detail = errors.New(errResp.Error)
		}
		kind := kindForStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound && errResp.Code == "not_found" {
			kind = KindNotFound
		}
		return &Error{Kind: kind, Op: op, Status: resp.StatusCode, Err: detail}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return transportError(op, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusNotFound, http.StatusNotImplemented:
		return KindCapabilityMissing
	default:
		return KindTransport
	}
}
