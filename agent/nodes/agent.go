package nodes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	promptx "github.com/Jhons14/LocalAI/agent/prompt"
)

// rememberTrigger persists the user's message as a memory entry when it
// appears (case-insensitively) in the message content.
const rememberTrigger = "remember"

// RunAgent performs one model pass: retrieve memories for the latest user
// message, compose the system message, stream the model output to the turn's
// emit sink, and append one aggregated assistant message to the history.
//
// Model failures never propagate as errors; they are converted into an
// assistant message that communicates the failure and carries no tool calls,
// which forces the router to terminate the turn.
func RunAgent(
	ctx context.Context,
	st *TurnState,
	chatModel einomodel.BaseChatModel,
	memory contractx.MemoryStore,
	tools []*schema.ToolInfo,
	prompts promptx.Set,
) (*TurnState, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
	}
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is nil", contractx.ErrValidation)
	}

	userMsg := contractx.LastUserMessage(st.History)

	memories := recallMemories(ctx, st, memory, userMsg)
	rememberIfTriggered(ctx, st, memory, userMsg)

	// The behavioral preamble lives at index 0 and is rebuilt every pass so
	// the memory section tracks the current recall. Other system messages
	// (such as capability-change notices) are not preambles and must not
	// suppress it.
	system := schema.SystemMessage(prompts.BuildSystemMessage(tools, memories))
	var outgoing []*schema.Message
	if startsWithPreamble(st.History, prompts.Base) {
		outgoing = make([]*schema.Message, len(st.History))
		copy(outgoing, st.History)
		outgoing[0] = system
	} else {
		outgoing = append([]*schema.Message{system}, st.History...)
	}
	st.History = outgoing

	reply := streamModel(ctx, st, chatModel, outgoing)
	st.append(reply)
	return st, nil
}

func startsWithPreamble(history []*schema.Message, base string) bool {
	return len(history) > 0 && history[0] != nil && history[0].Role == schema.System &&
		strings.HasPrefix(history[0].Content, base)
}

// recallMemories is best-effort: a failing memory store means "no memories
// found", never a failed turn.
func recallMemories(ctx context.Context, st *TurnState, memory contractx.MemoryStore, userMsg *schema.Message) string {
	if memory == nil || !st.Config.MemoryEnabled || userMsg == nil {
		return ""
	}

	entries, err := memory.Search(ctx, MemoryNamespace(st.Config), userMsg.Content)
	if err != nil {
		log.Warn().Err(err).Str("thread_id", st.Config.ThreadID).Msg("memory search failed")
		return ""
	}

	var b strings.Builder
	for _, e := range entries {
		if strings.TrimSpace(e.Value) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(e.Value)
	}
	return b.String()
}

func rememberIfTriggered(ctx context.Context, st *TurnState, memory contractx.MemoryStore, userMsg *schema.Message) {
	if memory == nil || !st.Config.MemoryEnabled || userMsg == nil {
		return
	}
	if !strings.Contains(strings.ToLower(userMsg.Content), rememberTrigger) {
		return
	}

	key := uuid.NewString()
	if err := memory.Put(ctx, MemoryNamespace(st.Config), key, userMsg.Content); err != nil {
		log.Warn().Err(err).Str("thread_id", st.Config.ThreadID).Msg("memory write failed")
	}
}

// streamModel forwards text fragments to the emit sink as they arrive and
// accumulates tool-call fragments, returning one aggregated assistant
// message. Tool calls are never forwarded mid-stream.
func streamModel(
	ctx context.Context,
	st *TurnState,
	chatModel einomodel.BaseChatModel,
	outgoing []*schema.Message,
) *schema.Message {
	reader, err := chatModel.Stream(ctx, outgoing)
	if err != nil {
		return modelFailure(st, err)
	}
	defer reader.Close()

	var (
		text      strings.Builder
		fragments []schema.ToolCall
	)
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return modelFailure(st, err)
		}
		if chunk == nil {
			continue
		}
		if chunk.Content != "" {
			st.emit(chunk.Content)
			text.WriteString(chunk.Content)
		}
		fragments = append(fragments, chunk.ToolCalls...)
	}

	calls := contractx.DedupToolCalls(contractx.MergeToolCallFragments(fragments))

	reply := schema.AssistantMessage(text.String(), calls)
	return reply
}

func modelFailure(st *TurnState, err error) *schema.Message {
	log.Error().Err(err).Str("thread_id", st.Config.ThreadID).Msg("model stream failed")

	content := fmt.Sprintf("%s the model could not complete this response: %v", contractx.ErrorMarker, err)
	st.emit(content)
	return schema.AssistantMessage(content, nil)
}
