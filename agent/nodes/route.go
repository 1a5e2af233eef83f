package nodes

import (
	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

const (
	defaultToolCallCeiling = 6
	defaultRouteWindow     = 15
)

// Policy bounds the tool-call loop. The ceiling is the single loop-breaking
// mechanism: a model that keeps emitting tool calls is cut off once the
// recent window accumulates more calls than the ceiling allows.
type Policy struct {
	ToolCallCeiling int `split_words:"true" default:"6"`
	RouteWindow     int `split_words:"true" default:"15"`
}

func (p Policy) withDefaults() Policy {
	if p.ToolCallCeiling <= 0 {
		p.ToolCallCeiling = defaultToolCallCeiling
	}
	if p.RouteWindow <= 0 {
		p.RouteWindow = defaultRouteWindow
	}
	return p
}

// Route is the pure decision function run after every agent pass.
//
//   - no pending tool calls on the last message: terminate
//   - tool-call count over the recent window above the ceiling: fallback
//   - any pending tool needs authorization: authorize
//   - otherwise: execute_tools
func Route(history []*schema.Message, policy Policy, requiresAuth func(tool string) bool) contractx.RouteDecision {
	policy = policy.withDefaults()

	pending := contractx.PendingToolCalls(history)
	if len(pending) == 0 {
		return contractx.RouteTerminate
	}

	if countRecentToolCalls(history, policy.RouteWindow) > policy.ToolCallCeiling {
		return contractx.RouteFallback
	}

	if requiresAuth != nil {
		for _, call := range pending {
			if requiresAuth(call.Function.Name) {
				return contractx.RouteAuthorize
			}
		}
	}

	return contractx.RouteExecuteTools
}

func countRecentToolCalls(history []*schema.Message, window int) int {
	start := len(history) - window
	if start < 0 {
		start = 0
	}

	count := 0
	for _, msg := range history[start:] {
		if msg == nil || msg.Role != schema.Assistant {
			continue
		}
		count += len(msg.ToolCalls)
	}
	return count
}
