package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TokenProvider returns the bearer token for an outgoing request. It is
// called once per operation so callers can rotate tokens underneath the
// client without rebuilding it.
type TokenProvider func(ctx context.Context) (string, error)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	UserAgent  string
}

// Client talks to the cloud API, the system of record for synced
// documents. All binary document state travels base64-encoded inside
// JSON payloads.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	userAgent  string
}

func NewClient(cfg Config, tokens TokenProvider) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.quillmark.app"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		userAgent:  strings.TrimSpace(cfg.UserAgent),
	}
}

type Document struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	FolderID     *string   `json:"folder_id,omitempty"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	ContentType  string    `json:"content_type"`
	Tags         []string  `json:"tags,omitempty"`
	IsStarred    bool      `json:"is_starred"`
	IsTemplate   bool      `json:"is_template"`
	StorageMode  string    `json:"storage_mode,omitempty"`
	Version      int64     `json:"version"`
	StateVersion int64     `json:"yjs_version"`
	State        []byte    `json:"yjs_state_b64,omitempty"`
	WordCount    int       `json:"word_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateDocumentRequest struct {
	Title       string   `json:"title"`
	Content     string   `json:"content,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	FolderID    *string  `json:"folder_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsTemplate  bool     `json:"is_template,omitempty"`
	State       []byte   `json:"yjs_state_b64,omitempty"`
}

type UpdateDocumentRequest struct {
	Title    *string  `json:"title,omitempty"`
	Content  *string  `json:"content,omitempty"`
	FolderID *string  `json:"folder_id,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	State    []byte   `json:"yjs_state_b64,omitempty"`

	// ExpectedVersion makes the update conditional: the remote rejects
	// it with a conflict when its state version has moved past this.
	ExpectedVersion *int64 `json:"expected_yjs_version,omitempty"`
}

type Folder struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	ParentID    *string   `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

type Workspace struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CreateWorkspaceRequest struct {
	// ID lets the engine push its locally generated workspace ID so
	// both sides agree on identity from the first sync.
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
}

type workspacePage struct {
	Items   []Workspace `json:"items"`
	Total   int         `json:"total"`
	HasMore bool        `json:"has_more"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type createSnapshotRequest struct {
	State []byte `json:"yjs_state_base64"`
	Note  string `json:"note,omitempty"`
	Type  string `json:"type,omitempty"`
}

type SnapshotReceipt struct {
	SnapshotID string    `json:"snapshot_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := c.roundTrip(ctx, http.MethodGet, "/api/v1/documents/"+id, nil, nil, &doc, true); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) CreateDocument(ctx context.Context, workspaceID string, req CreateDocumentRequest) (*Document, error) {
	query := url.Values{"workspace_id": {workspaceID}}
	var doc Document
	if err := c.roundTrip(ctx, http.MethodPost, "/api/v1/documents", query, req, &doc, true); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) UpdateDocument(ctx context.Context, id string, req UpdateDocumentRequest) (*Document, error) {
	var doc Document
	err := c.roundTrip(ctx, http.MethodPatch, "/api/v1/documents/"+id, nil, req, &doc, true)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			conflict.DocumentID = id
		}
		return nil, err
	}
	return &doc, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.roundTrip(ctx, http.MethodDelete, "/api/v1/documents/"+id, nil, nil, nil, true)
}

func (c *Client) GetFolder(ctx context.Context, id string) (*Folder, error) {
	var folder Folder
	if err := c.roundTrip(ctx, http.MethodGet, "/api/v1/folders/"+id, nil, nil, &folder, true); err != nil {
		return nil, err
	}
	return &folder, nil
}

func (c *Client) CreateFolder(ctx context.Context, workspaceID string, req CreateFolderRequest) (*Folder, error) {
	query := url.Values{"workspace_id": {workspaceID}}
	var folder Folder
	if err := c.roundTrip(ctx, http.MethodPost, "/api/v1/folders", query, req, &folder, true); err != nil {
		return nil, err
	}
	return &folder, nil
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var page workspacePage
	if err := c.roundTrip(ctx, http.MethodGet, "/api/v1/workspaces", nil, nil, &page, true); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (*Workspace, error) {
	var ws Workspace
	if err := c.roundTrip(ctx, http.MethodPost, "/api/v1/workspaces", nil, req, &ws, true); err != nil {
		return nil, err
	}
	return &ws, nil
}

// CreateSnapshot uploads a point-in-time copy of the document's binary
// state for server-side backup.
func (c *Client) CreateSnapshot(ctx context.Context, documentID string, state []byte, note string) (*SnapshotReceipt, error) {
	req := createSnapshotRequest{State: state, Note: note, Type: "auto"}
	var receipt SnapshotReceipt
	path := "/api/v1/documents/" + documentID + "/snapshots"
	if err := c.roundTrip(ctx, http.MethodPost, path, nil, req, &receipt, true); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// RefreshSession exchanges a refresh token for a new token pair. It is
// the only call made without a bearer token.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var session Session
	if err := c.roundTrip(ctx, http.MethodPost, "/api/v1/auth/refresh", nil, body, &session, false); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload, out any, authed bool) error {
	var token string
	if authed {
		if c.tokens == nil {
			return fmt.Errorf("%w: no token provider", ErrUnauthorized)
		}
		var err error
		token, err = c.tokens(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("%w: empty token", ErrUnauthorized)
		}
	}

	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("%w: %v", ErrRemoteUnavailable, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			return nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return statusError(resp.StatusCode, respBody)
	}
}

type conflictDetail struct {
	ExpectedVersion int64 `json:"expected_version"`
	RemoteVersion   int64 `json:"remote_version"`
}

func statusError(code int, body []byte) error {
	detail := apiDetail(body)
	switch code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case http.StatusConflict:
		conflict := &ConflictError{}
		var envelope struct {
			Detail conflictDetail `json:"detail"`
		}
		if json.Unmarshal(body, &envelope) == nil {
			conflict.ExpectedVersion = envelope.Detail.ExpectedVersion
			conflict.RemoteVersion = envelope.Detail.RemoteVersion
		}
		return conflict
	}
	if code >= 500 || code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %s", ErrRemoteUnavailable, code, detail)
	}
	return fmt.Errorf("remote rejected request: status %d: %s", code, detail)
}

// apiDetail extracts the human-readable message from an error body,
// falling back to the raw payload.
func apiDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &envelope) == nil && len(envelope.Detail) > 0 {
		var msg string
		if json.Unmarshal(envelope.Detail, &msg) == nil {
			return msg
		}
		return string(envelope.Detail)
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
