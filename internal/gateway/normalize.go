package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/hjongc/simple-llm-chat/internal/types"
)

// fallbackReply stands in for an empty upstream reply.
const fallbackReply = "죄송합니다. 응답을 생성할 수 없습니다."

// ShapeError reports a 2xx upstream body that is not a usable completion.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return "malformed upstream response: " + e.Reason
}

func newCompletionID() string {
	id := uuid.New()
	return "chatcmpl-" + strings.ReplaceAll(id.String(), "-", "")
}

// Normalize turns an upstream completion body into the OpenAI-compatible
// response returned to callers. model is echoed as given; prompt is the message
// list that was forwarded and is only used when usage has to be estimated.
func Normalize(body []byte, model string, prompt []types.ChatMessage) (*types.NormalizedResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ShapeError{Reason: "body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, &ShapeError{Reason: "body is not a JSON object"}
	}

	choices := root.Get("choices")
	if !choices.IsArray() || len(choices.Array()) == 0 {
		return nil, &ShapeError{Reason: "no choices"}
	}
	first := choices.Array()[0]

	reply := ""
	if c := first.Get("message.content"); c.Type == gjson.String {
		reply = c.String()
	}
	if reply == "" {
		reply = fallbackReply
	}

	finish := "stop"
	if fr := first.Get("finish_reason"); fr.Type == gjson.String && fr.String() != "" {
		finish = fr.String()
	}

	resp := &types.NormalizedResponse{
		ID:      newCompletionID(),
		Object:  types.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.ChatMessage{Role: types.RoleAssistant, Content: reply},
			FinishReason: finish,
		}},
	}

	if usage := root.Get("usage"); usage.IsObject() {
		resp.Usage = json.RawMessage(usage.Raw)
		resp.Tokens = types.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		}
		return resp, nil
	}

	resp.Tokens = EstimateUsage(prompt, reply)
	resp.UsageEstimated = true
	raw, err := json.Marshal(resp.Tokens)
	if err != nil {
		return nil, err
	}
	resp.Usage = raw
	return resp, nil
}

// EstimateUsage counts whitespace-separated words. It is a rough stand-in for
// upstreams that do not report usage, not a tokenizer.
func EstimateUsage(prompt []types.ChatMessage, reply string) types.Usage {
	var promptTokens int
	for _, m := range prompt {
		promptTokens += len(strings.Fields(m.Content))
	}
	completion := len(strings.Fields(reply))
	return types.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completion,
		TotalTokens:      promptTokens + completion,
	}
}
