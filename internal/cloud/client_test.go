package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func staticToken(token string) TokenProvider {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Config{
		BaseURL:    server.URL,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, staticToken("token-123"))
	return client, server
}

func TestGetDocumentDecodesState(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/documents/doc-1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "doc-1",
			"workspace_id":  "ws-1",
			"title":         "Notes",
			"content_type":  "markdown",
			"version":       3,
			"yjs_version":   7,
			"yjs_state_b64": []byte{0x51, 0x01, 0x02},
		})
	}))

	doc, err := client.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if doc.Title != "Notes" || doc.StateVersion != 7 {
		t.Errorf("decoded document = %+v", doc)
	}
	if len(doc.State) != 3 || doc.State[0] != 0x51 {
		t.Errorf("State = %v, want binary payload round-tripped", doc.State)
	}
}

func TestCreateDocumentSendsWorkspaceAndState(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("workspace_id") != "ws-1" {
			t.Errorf("workspace_id = %q", r.URL.Query().Get("workspace_id"))
		}
		var body struct {
			Title string `json:"title"`
			State []byte `json:"yjs_state_b64"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body.Title != "New doc" || len(body.State) != 2 {
			t.Errorf("request body = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "cloud-9", "version": 1})
	}))

	doc, err := client.CreateDocument(context.Background(), "ws-1", CreateDocumentRequest{
		Title: "New doc",
		State: []byte{0xAB, 0xCD},
	})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if doc.ID != "cloud-9" {
		t.Errorf("ID = %q, want cloud-9", doc.ID)
	}
}

func TestUpdateDocumentVersionConflict(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"detail": map[string]any{"expected_version": 4, "remote_version": 6},
		})
	}))

	expected := int64(4)
	_, err := client.UpdateDocument(context.Background(), "doc-1", UpdateDocumentRequest{
		ExpectedVersion: &expected,
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %T, want *ConflictError", err)
	}
	if conflict.DocumentID != "doc-1" || conflict.ExpectedVersion != 4 || conflict.RemoteVersion != 6 {
		t.Errorf("conflict = %+v", conflict)
	}
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"detail":"nope"}`))
			}))
			_, err := client.GetDocument(context.Background(), "doc-1")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "doc-1"})
	}))

	if _, err := client.GetDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestExhaustedRetriesReportUnavailable(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.GetDocument(context.Background(), "doc-1")
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
	// MaxRetries 2 means one initial attempt plus two retries.
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRefreshSessionSkipsBearer(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/refresh" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want empty", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "refresh-1" {
			t.Errorf("refresh_token = %q", body["refresh_token"])
		}
		json.NewEncoder(w).Encode(Session{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    900,
		})
	}))

	session, err := client.RefreshSession(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if session.AccessToken != "new-access" || session.RefreshToken != "new-refresh" {
		t.Errorf("session = %+v", session)
	}
}

func TestTokenProviderFailureShortCircuits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, func(ctx context.Context) (string, error) {
		return "", errors.New("no session")
	})

	_, err := client.GetDocument(context.Background(), "doc-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server calls = %d, want 0", calls.Load())
	}
}

func TestCreateSnapshotPayload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/documents/doc-1/snapshots" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body createSnapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(body.State) != 4 || body.Type != "auto" {
			t.Errorf("request = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(SnapshotReceipt{SnapshotID: "snap-1", CreatedAt: time.Now()})
	}))

	receipt, err := client.CreateSnapshot(context.Background(), "doc-1", []byte{1, 2, 3, 4}, "")
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	if receipt.SnapshotID != "snap-1" {
		t.Errorf("SnapshotID = %q", receipt.SnapshotID)
	}
}

func TestRetryDelayBacksOffAndCaps(t *testing.T) {
	client := &Client{baseDelay: 100 * time.Millisecond, maxDelay: 500 * time.Millisecond}

	tests := []struct {
		attempt    int
		retryAfter string
		want       time.Duration
	}{
		{1, "", 100 * time.Millisecond},
		{2, "", 200 * time.Millisecond},
		{3, "", 400 * time.Millisecond},
		{4, "", 500 * time.Millisecond},
		{1, "1", time.Second / 2}, // capped by maxDelay
		{1, "junk", 100 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := client.retryDelay(tt.attempt, tt.retryAfter); got != tt.want {
			t.Errorf("retryDelay(%d, %q) = %v, want %v", tt.attempt, tt.retryAfter, got, tt.want)
		}
	}
}
