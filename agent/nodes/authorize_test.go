package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

func pendingAuthState(tools ...string) *TurnState {
	calls := make([]schema.ToolCall, len(tools))
	for i, tool := range tools {
		calls[i] = callNamed("c"+tool, tool)
	}
	return newTurnState(contractx.SessionConfig{ThreadID: "t1", UserID: "u1"},
		schema.UserMessage("go"),
		schema.AssistantMessage("", calls),
	)
}

func TestAuthorizeSkipsToolsWithoutAuth(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{authRequired: map[string]bool{}}
	st := pendingAuthState("calendar.list_events")

	out, err := Authorize(context.Background(), st, provider, time.Second)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if len(provider.authorized) != 0 {
		t.Fatalf("unexpected handshakes: %v", provider.authorized)
	}
	if len(out.History) != len(st.History) {
		t.Fatal("authorize must not produce a message delta")
	}
}

func TestAuthorizeAlreadyActiveSkipsWait(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		authRequired:    map[string]bool{"gmail.send": true},
		authorizeHandle: contractx.AuthHandle{ID: "h1", Status: contractx.AuthStatusActive},
	}

	if _, err := Authorize(context.Background(), pendingAuthState("gmail.send"), provider, time.Second); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if len(provider.waited) != 0 {
		t.Fatalf("waited on an already-active handshake: %v", provider.waited)
	}
}

func TestAuthorizeWaitsForPendingHandshake(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		authRequired:    map[string]bool{"gmail.send": true},
		authorizeHandle: contractx.AuthHandle{ID: "h1", Status: contractx.AuthStatusPending},
	}

	if _, err := Authorize(context.Background(), pendingAuthState("gmail.send"), provider, time.Second); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if len(provider.waited) != 1 || provider.waited[0] != "h1" {
		t.Fatalf("unexpected waits: %v", provider.waited)
	}
}

func TestAuthorizeFailureAbortsTurn(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		authRequired:    map[string]bool{"gmail.send": true},
		authorizeHandle: contractx.AuthHandle{ID: "h1", Status: contractx.AuthStatusPending},
		waitErr:         errors.New("user declined"),
	}

	_, err := Authorize(context.Background(), pendingAuthState("gmail.send"), provider, time.Second)
	if !errors.Is(err, contractx.ErrAuthorizationFailed) {
		t.Fatalf("Authorize() error = %v, want ErrAuthorizationFailed", err)
	}
}

func TestAuthorizeInitiateFailureAbortsTurn(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		authRequired: map[string]bool{"gmail.send": true},
		authorizeErr: errors.New("platform unreachable"),
	}

	_, err := Authorize(context.Background(), pendingAuthState("gmail.send"), provider, time.Second)
	if !errors.Is(err, contractx.ErrAuthorizationFailed) {
		t.Fatalf("Authorize() error = %v, want ErrAuthorizationFailed", err)
	}
}
