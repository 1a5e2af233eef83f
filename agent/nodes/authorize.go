package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

const defaultAuthWaitTimeout = 2 * time.Minute

// Authorize performs the authorization handshake for every pending tool call
// whose tool is flagged as requiring it. The wait is bounded by waitTimeout
// (and by ctx); an expired or failed handshake aborts the whole turn, not
// just the offending call. On success no message delta is produced and the
// turn proceeds to tool execution.
func Authorize(
	ctx context.Context,
	st *TurnState,
	provider contractx.ToolProvider,
	waitTimeout time.Duration,
) (*TurnState, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: tool provider is nil", contractx.ErrValidation)
	}
	if waitTimeout <= 0 {
		waitTimeout = defaultAuthWaitTimeout
	}

	for _, call := range contractx.PendingToolCalls(st.History) {
		tool := call.Function.Name
		if !provider.RequiresAuth(tool) {
			continue
		}

		handle, err := provider.Authorize(ctx, tool, st.Config.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: initiate for tool %s: %v", contractx.ErrAuthorizationFailed, tool, err)
		}
		if handle.Status == contractx.AuthStatusActive {
			continue
		}

		log.Info().
			Str("tool", tool).
			Str("handle_id", handle.ID).
			Str("redirect_url", handle.RedirectURL).
			Msg("waiting for tool authorization")

		waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
		err = provider.WaitForAuth(waitCtx, handle)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: tool %s: %v", contractx.ErrAuthorizationFailed, tool, err)
		}
	}

	return st, nil
}
