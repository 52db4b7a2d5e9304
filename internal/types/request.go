package types

import "fmt"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation. Order within a request is significant.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-shaped body accepted on /v1/chat/completions.
// Optional sampling parameters are pointers: nil means the caller did not supply
// the field, and the upstream default applies.
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
}

// ValidationError reports caller input that can never succeed upstream.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ErrEmptyMessages is returned by Validate when no messages were supplied.
var ErrEmptyMessages = &ValidationError{Field: "messages", Message: "messages must not be empty"}

// Validate checks the request against the accepted ranges. It does not check the
// model name; unknown models are forwarded and left for the upstream to reject.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrEmptyMessages
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return &ValidationError{
				Field:   fmt.Sprintf("messages[%d].role", i),
				Message: fmt.Sprintf("unsupported role %q", m.Role),
			}
		}
	}

	if err := checkFloat("temperature", r.Temperature, 0, 2); err != nil {
		return err
	}
	if r.MaxTokens != nil && (*r.MaxTokens < 1 || *r.MaxTokens > 4096) {
		return &ValidationError{Field: "max_tokens", Message: fmt.Sprintf("%d is outside [1, 4096]", *r.MaxTokens)}
	}
	if err := checkFloat("top_p", r.TopP, 0, 1); err != nil {
		return err
	}
	if err := checkFloat("frequency_penalty", r.FrequencyPenalty, -2, 2); err != nil {
		return err
	}
	return checkFloat("presence_penalty", r.PresencePenalty, -2, 2)
}

func checkFloat(field string, v *float64, lo, hi float64) error {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%g is outside [%g, %g]", *v, lo, hi)}
	}
	return nil
}

// UpstreamPayload is the body sent to the upstream endpoint. Optional fields are
// omitted entirely when unset; the upstream never sees an explicit null.
type UpstreamPayload struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
}

// NewUpstreamPayload derives the upstream body from a validated request, copying
// only the optional fields the caller actually supplied.
func NewUpstreamPayload(req *ChatRequest, messages []ChatMessage) *UpstreamPayload {
	if messages == nil {
		messages = req.Messages
	}
	p := &UpstreamPayload{
		Model:    req.Model,
		Messages: messages,
		Stream:   req.Stream,
	}
	if req.Temperature != nil {
		v := *req.Temperature
		p.Temperature = &v
	}
	if req.MaxTokens != nil {
		v := *req.MaxTokens
		p.MaxTokens = &v
	}
	if req.TopP != nil {
		v := *req.TopP
		p.TopP = &v
	}
	if req.FrequencyPenalty != nil {
		v := *req.FrequencyPenalty
		p.FrequencyPenalty = &v
	}
	if req.PresencePenalty != nil {
		v := *req.PresencePenalty
		p.PresencePenalty = &v
	}
	return p
}
