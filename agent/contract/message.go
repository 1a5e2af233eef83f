package contract

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// MergeToolCallFragments reassembles streamed tool-call deltas into whole
// calls. Providers emit the call id and name on the first fragment of an
// index and argument text spread across subsequent fragments.
func MergeToolCallFragments(fragments []schema.ToolCall) []schema.ToolCall {
	if len(fragments) == 0 {
		return nil
	}

	merged := make([]schema.ToolCall, 0, len(fragments))
	byIndex := make(map[int]int)

	for _, frag := range fragments {
		if frag.Index == nil {
			// Non-streamed call, already whole.
			merged = append(merged, frag)
			continue
		}
		pos, ok := byIndex[*frag.Index]
		if !ok {
			byIndex[*frag.Index] = len(merged)
			merged = append(merged, frag)
			continue
		}
		if merged[pos].ID == "" {
			merged[pos].ID = frag.ID
		}
		if merged[pos].Function.Name == "" {
			merged[pos].Function.Name = frag.Function.Name
		}
		merged[pos].Function.Arguments += frag.Function.Arguments
	}

	return merged
}

// DedupToolCalls drops calls whose trimmed name is empty and collapses
// duplicate ids, keeping first-seen order. Empty-name calls must never reach
// routing or execution.
func DedupToolCalls(calls []schema.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	kept := make([]schema.ToolCall, 0, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			continue
		}
		if call.ID != "" {
			if _, dup := seen[call.ID]; dup {
				continue
			}
			seen[call.ID] = struct{}{}
		}
		call.Function.Name = name
		kept = append(kept, call)
	}
	return kept
}

// PendingToolCalls returns the tool calls carried by the last message when it
// is assistant-role, or nil.
func PendingToolCalls(history []*schema.Message) []schema.ToolCall {
	last := LastMessage(history)
	if last == nil || last.Role != schema.Assistant {
		return nil
	}
	return last.ToolCalls
}

// LastMessage returns the final message of the history, or nil.
func LastMessage(history []*schema.Message) *schema.Message {
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1]
}

// LastUserMessage returns the most recent human-role message, or nil.
func LastUserMessage(history []*schema.Message) *schema.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != nil && history[i].Role == schema.User {
			return history[i]
		}
	}
	return nil
}
