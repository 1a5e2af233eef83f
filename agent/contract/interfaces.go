package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ToolProvider is the tool capability boundary: tool discovery for a toolkit
// set, authorization gating, and execution of individual tool calls.
type ToolProvider interface {
	// Tools returns the callable tool descriptions for the given toolkit
	// set, in toolkit order.
	Tools(ctx context.Context, toolkits []string) ([]*schema.ToolInfo, error)

	// RequiresAuth reports whether the named tool needs an authorization
	// handshake before execution.
	RequiresAuth(tool string) bool

	// Authorize initiates the handshake for (tool, user). The returned
	// handle may already be active for previously connected users.
	Authorize(ctx context.Context, tool string, userID string) (AuthHandle, error)

	// WaitForAuth blocks until the handshake completes or ctx is done.
	WaitForAuth(ctx context.Context, handle AuthHandle) error

	// Execute runs one tool call and returns its textual result.
	Execute(ctx context.Context, call schema.ToolCall) (string, error)
}

// MemoryStore is the per-user namespaced memory boundary.
type MemoryStore interface {
	Search(ctx context.Context, namespace string, query string) ([]MemoryEntry, error)
	Put(ctx context.Context, namespace string, key string, value string) error
}
