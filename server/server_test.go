package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	sessionx "github.com/Jhons14/LocalAI/agent/session"
)

type echoModel struct {
	reply string
}

func (m *echoModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return nil, errors.New("generate not used")
}

func (m *echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{
		{Role: schema.Assistant, Content: m.reply},
	}), nil
}

func (m *echoModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return m, nil
}

type echoModelFactory struct {
	model einomodel.ToolCallingChatModel
	err   error
}

func (f *echoModelFactory) New(ctx context.Context, cfg contractx.SessionConfig, credential string) (einomodel.ToolCallingChatModel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.model, nil
}

func newTestServer(t *testing.T, model einomodel.ToolCallingChatModel) *Server {
	t.Helper()

	registry, err := sessionx.NewRegistry(sessionx.Deps{
		Models:   &echoModelFactory{model: model},
		Defaults: contractx.SessionConfig{Provider: "ollama", Model: "qwen2.5:3b"},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	srv, err := New(Config{
		AllowedOrigin:     "http://localhost:4321",
		MaxPromptLength:   50,
		MaxThreadIDLength: 20,
	}, registry, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsSSE(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "Hello there!"})
	rec := postJSON(t, srv.Handler(), "/chat", chatPayload{ThreadID: "t1", Prompt: "hi"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Fatalf("body lacks SSE framing: %q", body)
	}
	var chunk string
	line := strings.TrimPrefix(strings.SplitN(body, "\n", 2)[0], "data: ")
	if err := json.Unmarshal([]byte(line), &chunk); err != nil {
		t.Fatalf("chunk is not json-encoded: %v", err)
	}
	if chunk != "Hello there!" {
		t.Fatalf("chunk = %q", chunk)
	}
}

func TestChatValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "x"})
	handler := srv.Handler()

	cases := []struct {
		name    string
		payload chatPayload
	}{
		{"missing thread id", chatPayload{Prompt: "hi"}},
		{"missing prompt", chatPayload{ThreadID: "t1"}},
		{"thread id too long", chatPayload{ThreadID: strings.Repeat("x", 21), Prompt: "hi"}},
		{"prompt too long", chatPayload{ThreadID: "t1", Prompt: strings.Repeat("x", 51)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/chat", tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestChatInvalidJSONBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "x"})
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestConfigureThenStatus(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "x"})
	handler := srv.Handler()

	rec := postJSON(t, handler, "/configure", configurePayload{
		ThreadID:             "t1",
		sessionConfigPayload: sessionConfigPayload{Provider: "ollama", Model: "llama3"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("configure status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/t1", nil)
	statusRec := httptest.NewRecorder()
	handler.ServeHTTP(statusRec, req)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("status = %d", statusRec.Code)
	}
	if !strings.Contains(statusRec.Body.String(), "llama3") {
		t.Fatalf("session config missing from status: %s", statusRec.Body.String())
	}
}

func TestConfigureExistingSessionReconfigures(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "x"})
	handler := srv.Handler()

	if rec := postJSON(t, handler, "/configure", configurePayload{ThreadID: "t1"}); rec.Code != http.StatusOK {
		t.Fatalf("initial configure status = %d", rec.Code)
	}

	// No tool provider factory is wired, so a non-empty toolkit set must be
	// rejected and the session left as it was.
	rec := postJSON(t, handler, "/configure", configurePayload{
		ThreadID:             "t1",
		sessionConfigPayload: sessionConfigPayload{Toolkits: []string{"Gmail"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reconfigure status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/sessions/t1", nil)
	statusRec := httptest.NewRecorder()
	handler.ServeHTTP(statusRec, statusReq)
	if statusRec.Code != http.StatusOK {
		t.Fatal("session lost after failed reconfiguration")
	}
}

func TestSessionStatusNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "x"})
	req := httptest.NewRequest(http.MethodGet, "/sessions/unknown", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessionDelete(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "x"})
	handler := srv.Handler()

	if rec := postJSON(t, handler, "/configure", configurePayload{ThreadID: "t1"}); rec.Code != http.StatusOK {
		t.Fatalf("configure status = %d", rec.Code)
	}

	del := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/sessions/t1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := del(); rec.Code != http.StatusOK {
		t.Fatalf("first delete status = %d", rec.Code)
	}
	if rec := del(); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestListModelsWithoutDaemon(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "x"})
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &echoModel{reply: "x"})
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4321" {
		t.Fatalf("allow-origin = %q", got)
	}
}
