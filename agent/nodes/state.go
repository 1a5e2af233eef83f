package nodes

import (
	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

// TurnState flows through the turn graph. It carries the conversation
// history for the thread plus the routing decision taken after the last
// agent pass. Capability handles are bound into the graph nodes at compile
// time, not carried here.
type TurnState struct {
	Config  contractx.SessionConfig
	History []*schema.Message

	// Emit receives incremental assistant text in producer order. May be
	// nil when the caller does not consume a stream.
	Emit func(chunk string)

	Decision contractx.RouteDecision
}

func (st *TurnState) emit(chunk string) {
	if st == nil || st.Emit == nil || chunk == "" {
		return
	}
	st.Emit(chunk)
}

func (st *TurnState) append(msg *schema.Message) {
	if st == nil || msg == nil {
		return
	}
	st.History = append(st.History, msg)
}

// MemoryNamespace derives the memory namespace deterministically from the
// user identity, falling back to the thread id for anonymous sessions.
func MemoryNamespace(cfg contractx.SessionConfig) string {
	if cfg.UserID != "" {
		return "user:" + cfg.UserID
	}
	return "thread:" + cfg.ThreadID
}
