package contract

import (
	"strings"
	"time"
)

// RouteDecision is the outcome of inspecting the conversation tail after an
// agent turn.
type RouteDecision string

const (
	RouteTerminate    RouteDecision = "terminate"
	RouteAuthorize    RouteDecision = "authorize"
	RouteExecuteTools RouteDecision = "execute_tools"
	RouteFallback     RouteDecision = "fallback"
)

// ErrorMarker prefixes error text delivered in-band on the streaming channel.
// The transport has no dedicated error frame, so clients match on this prefix.
const ErrorMarker = "[ERROR]"

// SessionConfig is the live configuration of one conversation thread. It is
// read by the agent on every turn and mutated only through reconfiguration.
type SessionConfig struct {
	ThreadID      string   `json:"thread_id"`
	UserID        string   `json:"user_id"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	Temperature   float32  `json:"temperature"`
	MaxTokens     int      `json:"max_tokens"`
	Toolkits      []string `json:"toolkits,omitempty"`
	MemoryEnabled bool     `json:"memory_enabled"`

	// CredentialRef points into the credential vault. The raw secret is
	// never stored on the config.
	CredentialRef string `json:"credential_ref,omitempty"`
}

// Normalize trims identifiers and drops empty or duplicate toolkit names
// while preserving order.
func (c *SessionConfig) Normalize() {
	c.ThreadID = strings.TrimSpace(c.ThreadID)
	c.UserID = strings.TrimSpace(c.UserID)
	c.Provider = strings.TrimSpace(c.Provider)
	c.Model = strings.TrimSpace(c.Model)
	c.Toolkits = NormalizeToolkits(c.Toolkits)
}

// NormalizeToolkits trims names and drops empties and duplicates, keeping
// first-seen order.
func NormalizeToolkits(toolkits []string) []string {
	kept := make([]string, 0, len(toolkits))
	seen := make(map[string]struct{}, len(toolkits))
	for _, tk := range toolkits {
		tk = strings.TrimSpace(tk)
		if tk == "" {
			continue
		}
		if _, dup := seen[tk]; dup {
			continue
		}
		seen[tk] = struct{}{}
		kept = append(kept, tk)
	}
	return kept
}

// ToolkitChanges describes the set difference produced by a reconfiguration.
type ToolkitChanges struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether the reconfiguration was a no-op.
func (c ToolkitChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Summary renders the change set as a human-readable notice suitable for
// injection as a system message on the next turn.
func (c ToolkitChanges) Summary() string {
	if c.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your tool capabilities changed.")
	if len(c.Added) > 0 {
		b.WriteString(" Added toolkits: ")
		b.WriteString(strings.Join(c.Added, ", "))
		b.WriteString(".")
	}
	if len(c.Removed) > 0 {
		b.WriteString(" Removed toolkits: ")
		b.WriteString(strings.Join(c.Removed, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// AuthStatus is the state of an authorization handshake.
type AuthStatus string

const (
	AuthStatusActive  AuthStatus = "active"
	AuthStatusPending AuthStatus = "pending"
	AuthStatusFailed  AuthStatus = "failed"
)

// AuthHandle identifies one in-flight authorization handshake.
type AuthHandle struct {
	ID          string     `json:"id"`
	RedirectURL string     `json:"redirect_url,omitempty"`
	Status      AuthStatus `json:"status"`
}

// MemoryEntry is one persisted user memory. Entries are append-only from the
// orchestrator's point of view.
type MemoryEntry struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}
