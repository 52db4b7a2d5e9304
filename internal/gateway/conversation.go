package gateway

import (
	"github.com/hjongc/simple-llm-chat/internal/config"
	"github.com/hjongc/simple-llm-chat/internal/types"
)

// applyConversation shapes the forwarded message list. The leading block of
// system messages is always kept; HistoryWindow > 0 keeps only the last N
// messages after it, and SystemPrompt is prepended when the caller sent no
// system message of their own. The input slice is never modified.
func applyConversation(policy config.ConversationConfig, msgs []types.ChatMessage) []types.ChatMessage {
	lead := 0
	for lead < len(msgs) && msgs[lead].Role == types.RoleSystem {
		lead++
	}
	head, rest := msgs[:lead], msgs[lead:]

	trimmed := policy.HistoryWindow > 0 && len(rest) > policy.HistoryWindow
	if trimmed {
		rest = rest[len(rest)-policy.HistoryWindow:]
	}
	prepend := policy.SystemPrompt != "" && lead == 0

	if !trimmed && !prepend {
		return msgs
	}

	out := make([]types.ChatMessage, 0, len(head)+len(rest)+1)
	if prepend {
		out = append(out, types.ChatMessage{Role: types.RoleSystem, Content: policy.SystemPrompt})
	}
	out = append(out, head...)
	return append(out, rest...)
}
