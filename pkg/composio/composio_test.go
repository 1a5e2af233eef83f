package composio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL:      srv.URL,
		APIKey:       "test-key",
		Timeout:      5 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{APIKey: "k"}); err == nil {
		t.Fatal("expected error for missing base url")
	}
	if _, err := NewClient(Config{BaseURL: "https://backend.composio.dev"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		if got := r.URL.Query().Get("toolkit_slug"); got != "gmail" {
			t.Errorf("toolkit_slug = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []Tool{
				{Slug: "gmail.send", Description: "Send an email", Toolkit: "gmail"},
				{Slug: "gmail.search", Description: "Search inbox", Toolkit: "gmail", NoAuth: true},
			},
		})
	}))

	tools, err := client.ListTools(context.Background(), "gmail")
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 2 || tools[0].Slug != "gmail.send" || !tools[1].NoAuth {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestListToolsRequiresToolkit(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	if _, err := client.ListTools(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank toolkit")
	}
}

func TestInitiateConnection(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["toolkit"] != "gmail" || body["user_id"] != "u1" {
			t.Errorf("unexpected body: %v", body)
		}
		json.NewEncoder(w).Encode(Connection{ID: "conn-1", Status: "INITIATED", RedirectURL: "https://auth.example/go"})
	}))

	conn, err := client.InitiateConnection(context.Background(), "gmail", "u1")
	if err != nil {
		t.Fatalf("InitiateConnection() error = %v", err)
	}
	if conn.ID != "conn-1" || conn.RedirectURL == "" {
		t.Fatalf("unexpected connection: %+v", conn)
	}
}

func TestWaitForConnectionPollsUntilActive(t *testing.T) {
	t.Parallel()

	polls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "INITIATED"
		if polls >= 3 {
			status = ConnectionStatusActive
		}
		json.NewEncoder(w).Encode(Connection{ID: "conn-1", Status: status})
	}))

	if err := client.WaitForConnection(context.Background(), "conn-1"); err != nil {
		t.Fatalf("WaitForConnection() error = %v", err)
	}
	if polls < 3 {
		t.Fatalf("polled %d times, want at least 3", polls)
	}
}

func TestWaitForConnectionFailedStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Connection{ID: "conn-1", Status: ConnectionStatusFailed})
	}))
	if err := client.WaitForConnection(context.Background(), "conn-1"); err == nil {
		t.Fatal("expected error for failed handshake")
	}
}

func TestWaitForConnectionHonorsContext(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Connection{ID: "conn-1", Status: "INITIATED"})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if err := client.WaitForConnection(ctx, "conn-1"); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestExecuteTool(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/tools/execute/gmail.send") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["user_id"] != "u1" {
			t.Errorf("unexpected body: %v", body)
		}
		w.Write([]byte(`{"successful":true,"data":{"message_id":"m1"}}`))
	}))

	data, err := client.ExecuteTool(context.Background(), "gmail.send", "u1", map[string]any{"to": "a@b.c"})
	if err != nil {
		t.Fatalf("ExecuteTool() error = %v", err)
	}
	if !strings.Contains(string(data), "m1") {
		t.Fatalf("unexpected data: %s", data)
	}
}

func TestExecuteToolUnsuccessful(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"successful":false,"error":"quota exceeded"}`))
	}))
	if _, err := client.ExecuteTool(context.Background(), "gmail.send", "u1", nil); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("ExecuteTool() error = %v, want platform error surfaced", err)
	}
}

func TestDoSurfacesHTTPStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	if _, err := client.ListTools(context.Background(), "gmail"); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("error = %v, want http status surfaced", err)
	}
}
