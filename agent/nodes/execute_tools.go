package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

// ExecuteTools runs every pending tool call from the last assistant message
// and appends one tool-role result message per call, in request order.
//
// Calls are isolated: a failing call becomes a tool message describing the
// error, correlated by tool call id, and does not stop sibling calls.
func ExecuteTools(ctx context.Context, st *TurnState, provider contractx.ToolProvider) (*TurnState, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: tool provider is nil", contractx.ErrValidation)
	}

	for _, call := range contractx.PendingToolCalls(st.History) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := provider.Execute(ctx, call)
		if err != nil {
			log.Warn().
				Err(err).
				Str("tool", call.Function.Name).
				Str("tool_call_id", call.ID).
				Msg("tool call failed")
			result = fmt.Sprintf("tool %s failed: %v", call.Function.Name, err)
		}

		st.append(schema.ToolMessage(result, call.ID, schema.WithToolName(call.Function.Name)))
	}

	return st, nil
}
