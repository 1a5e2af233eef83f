package session

import (
	"sync"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	workflowx "github.com/Jhons14/LocalAI/agent/workflow"
)

// Session is one conversation thread: its live configuration, its compiled
// turn engine, and its message history. The registry owns all sessions;
// nothing else retains a reference across turns.
//
// mu serializes turns for the thread. It is held for the full duration of a
// turn, so a second concurrent turn for the same thread queues behind the
// first instead of interleaving.
type Session struct {
	mu sync.Mutex

	config  contractx.SessionConfig
	engine  *workflowx.Engine
	history []*schema.Message

	// pendingNotice is injected as a system message at the start of the
	// next turn, then cleared. Set by reconfiguration.
	pendingNotice string
}

// Config returns a copy of the session's configuration.
func (s *Session) Config() contractx.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Toolkits returns the session's current toolkit set in order.
func (s *Session) Toolkits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.config.Toolkits))
	copy(out, s.config.Toolkits)
	return out
}

// History returns a snapshot of the session's message history.
func (s *Session) History() []*schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*schema.Message, len(s.history))
	copy(out, s.history)
	return out
}
