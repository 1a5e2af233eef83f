package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	composiox "github.com/Jhons14/LocalAI/pkg/composio"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := composiox.NewClient(composiox.Config{
		BaseURL:      srv.URL,
		APIKey:       "test-key",
		Timeout:      5 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	provider, err := NewProvider(client, "u1")
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return provider
}

func toolPlatformMux(t *testing.T) *http.ServeMux {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/tools", func(w http.ResponseWriter, r *http.Request) {
		toolkit := r.URL.Query().Get("toolkit_slug")
		json.NewEncoder(w).Encode(map[string]any{
			"items": []composiox.Tool{
				{
					Slug:        strings.ToLower(toolkit) + ".list",
					Description: "List things",
					Toolkit:     toolkit,
					NoAuth:      true,
					InputParameters: map[string]any{
						"properties": map[string]any{
							"query": map[string]any{"type": "string", "description": "Search query"},
							"limit": map[string]any{"type": "integer"},
						},
						"required": []any{"query"},
					},
				},
				{
					Slug:    strings.ToLower(toolkit) + ".send",
					Toolkit: toolkit,
				},
			},
		})
	})
	mux.HandleFunc("/api/v3/connected_accounts", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["user_id"] != "u1" {
			t.Errorf("handshake user_id = %q", body["user_id"])
		}
		json.NewEncoder(w).Encode(composiox.Connection{ID: "conn-1", Status: "INITIATED", RedirectURL: "https://auth.example"})
	})
	mux.HandleFunc("/api/v3/tools/execute/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["user_id"] != "u1" {
			t.Errorf("execute user_id = %q", body["user_id"])
		}
		w.Write([]byte(`{"successful":true,"data":{"count":3}}`))
	})
	return mux
}

func TestProviderToolsAndAuthMetadata(t *testing.T) {
	t.Parallel()

	provider := newTestProvider(t, toolPlatformMux(t))

	infos, err := provider.Tools(context.Background(), []string{"Gmail"})
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "gmail.list" || infos[1].Name != "gmail.send" {
		t.Fatalf("unexpected tools: %+v", infos)
	}
	if infos[0].ParamsOneOf == nil {
		t.Fatal("input parameters not converted")
	}

	if provider.RequiresAuth("gmail.list") {
		t.Fatal("no_auth tool must not require authorization")
	}
	if !provider.RequiresAuth("gmail.send") {
		t.Fatal("auth-gated tool must require authorization")
	}
	if provider.RequiresAuth("unknown.tool") {
		t.Fatal("unknown tools must default to no auth")
	}
}

func TestProviderAuthorize(t *testing.T) {
	t.Parallel()

	provider := newTestProvider(t, toolPlatformMux(t))
	ctx := context.Background()

	if _, err := provider.Tools(ctx, []string{"Gmail"}); err != nil {
		t.Fatalf("Tools() error = %v", err)
	}

	handle, err := provider.Authorize(ctx, "gmail.send", "u1")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if handle.ID != "conn-1" || handle.Status != contractx.AuthStatusPending || handle.RedirectURL == "" {
		t.Fatalf("unexpected handle: %+v", handle)
	}
}

func TestProviderAuthorizeUnknownTool(t *testing.T) {
	t.Parallel()

	provider := newTestProvider(t, toolPlatformMux(t))
	if _, err := provider.Authorize(context.Background(), "never.discovered", "u1"); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Authorize() error = %v, want ErrValidation", err)
	}
}

func TestProviderExecute(t *testing.T) {
	t.Parallel()

	provider := newTestProvider(t, toolPlatformMux(t))

	out, err := provider.Execute(context.Background(), schema.ToolCall{
		ID:       "c1",
		Function: schema.FunctionCall{Name: "gmail.list", Arguments: `{"query":"inbox"}`},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, `"count":3`) {
		t.Fatalf("unexpected result: %q", out)
	}
}

func TestProviderExecuteInvalidArguments(t *testing.T) {
	t.Parallel()

	provider := newTestProvider(t, toolPlatformMux(t))
	_, err := provider.Execute(context.Background(), schema.ToolCall{
		Function: schema.FunctionCall{Name: "gmail.list", Arguments: "{broken"},
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Execute() error = %v, want ErrValidation", err)
	}
}

func TestFactoryRequiresAPIKeyForRemoteToolkits(t *testing.T) {
	t.Parallel()

	factory := NewFactory(composiox.Config{BaseURL: "https://backend.composio.dev"})
	_, err := factory.New(context.Background(), contractx.SessionConfig{ThreadID: "t1", Toolkits: []string{"Gmail"}}, "")
	if !errors.Is(err, contractx.ErrCredentialMissing) {
		t.Fatalf("New() error = %v, want ErrCredentialMissing", err)
	}
}

func TestFactoryBuiltinToolkitNeedsNoKey(t *testing.T) {
	t.Parallel()

	factory := NewFactory(composiox.Config{})
	provider, err := factory.New(context.Background(), contractx.SessionConfig{ThreadID: "t1", Toolkits: []string{"Builtin"}}, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	infos, err := provider.Tools(context.Background(), []string{"Builtin"})
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(infos) == 0 || infos[0].Name != "math.evaluate" {
		t.Fatalf("unexpected builtin tools: %+v", infos)
	}
}

func TestFactorySessionCredentialWins(t *testing.T) {
	t.Parallel()

	factory := NewFactory(composiox.Config{BaseURL: "https://backend.composio.dev", APIKey: "process-key"})
	provider, err := factory.New(context.Background(), contractx.SessionConfig{ThreadID: "t1", UserID: "u1", Toolkits: []string{"Gmail"}}, "session-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if provider == nil {
		t.Fatal("nil provider")
	}
}
