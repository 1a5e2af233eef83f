package nodes

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	promptx "github.com/Jhons14/LocalAI/agent/prompt"
)

// Fallback is the terminal safety node reached when the router trips the
// tool-call ceiling. It emits a fixed template asking the user for more
// specific input and carries no tool calls, so the turn always ends here.
func Fallback(st *TurnState, prompts promptx.Set) (*TurnState, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
	}

	log.Warn().Str("thread_id", st.Config.ThreadID).Msg("tool call ceiling reached, falling back")

	st.emit(prompts.Fallback)
	st.append(schema.AssistantMessage(prompts.Fallback, nil))
	st.Decision = contractx.RouteTerminate
	return st, nil
}
