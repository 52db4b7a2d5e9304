package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestValidate(t *testing.T) {
	user := []ChatMessage{{Role: RoleUser, Content: "hi"}}

	tests := []struct {
		name    string
		req     ChatRequest
		field   string
		wantErr bool
	}{
		{"valid minimal", ChatRequest{Messages: user}, "", false},
		{"empty messages", ChatRequest{}, "messages", true},
		{"unknown role", ChatRequest{Messages: []ChatMessage{{Role: "tool", Content: "x"}}}, "messages[0].role", true},
		{"temperature upper bound", ChatRequest{Messages: user, Temperature: floatPtr(2)}, "", false},
		{"temperature too high", ChatRequest{Messages: user, Temperature: floatPtr(2.1)}, "temperature", true},
		{"max_tokens zero", ChatRequest{Messages: user, MaxTokens: intPtr(0)}, "max_tokens", true},
		{"max_tokens too high", ChatRequest{Messages: user, MaxTokens: intPtr(4097)}, "max_tokens", true},
		{"top_p negative", ChatRequest{Messages: user, TopP: floatPtr(-0.1)}, "top_p", true},
		{"frequency_penalty low bound", ChatRequest{Messages: user, FrequencyPenalty: floatPtr(-2)}, "", false},
		{"presence_penalty too high", ChatRequest{Messages: user, PresencePenalty: floatPtr(2.5)}, "presence_penalty", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestValidate_EmptyMessagesSentinel(t *testing.T) {
	req := ChatRequest{Model: "gpt-4o", Messages: []ChatMessage{}}
	if err := req.Validate(); !errors.Is(err, ErrEmptyMessages) {
		t.Errorf("expected ErrEmptyMessages, got %v", err)
	}
}

func TestNewUpstreamPayload_OmitsUnsuppliedFields(t *testing.T) {
	req := &ChatRequest{
		Model:       "gpt-4o",
		Messages:    []ChatMessage{{Role: RoleUser, Content: "hi"}},
		Temperature: floatPtr(0),
	}

	data, err := json.Marshal(NewUpstreamPayload(req, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(data)

	// A supplied zero value is still forwarded.
	if !strings.Contains(body, `"temperature":0`) {
		t.Errorf("expected temperature:0 in payload, got %s", body)
	}
	for _, field := range []string{"max_tokens", "top_p", "frequency_penalty", "presence_penalty", "null"} {
		if strings.Contains(body, field) {
			t.Errorf("payload should not contain %q: %s", field, body)
		}
	}
	if !strings.Contains(body, `"stream":false`) {
		t.Errorf("expected stream to always be present, got %s", body)
	}
}

func TestNewUpstreamPayload_CopiesOptionals(t *testing.T) {
	req := &ChatRequest{
		Model:            "gpt-4o",
		Messages:         []ChatMessage{{Role: RoleUser, Content: "hi"}},
		Stream:           true,
		MaxTokens:        intPtr(512),
		TopP:             floatPtr(0.9),
		FrequencyPenalty: floatPtr(0.5),
		PresencePenalty:  floatPtr(-0.5),
	}

	p := NewUpstreamPayload(req, nil)
	*req.MaxTokens = 1

	if p.MaxTokens == nil || *p.MaxTokens != 512 {
		t.Errorf("expected payload max_tokens to be an independent copy of 512, got %v", p.MaxTokens)
	}
	if !p.Stream {
		t.Error("expected stream=true")
	}
	if p.TopP == nil || *p.TopP != 0.9 {
		t.Errorf("expected top_p 0.9, got %v", p.TopP)
	}
	if p.FrequencyPenalty == nil || p.PresencePenalty == nil {
		t.Error("expected penalties to be forwarded")
	}
}

func TestNewUpstreamPayload_MessagesOverride(t *testing.T) {
	req := &ChatRequest{Model: "m", Messages: []ChatMessage{{Role: RoleUser, Content: "a"}}}
	override := []ChatMessage{{Role: RoleSystem, Content: "s"}, {Role: RoleUser, Content: "a"}}

	p := NewUpstreamPayload(req, override)
	if len(p.Messages) != 2 || p.Messages[0].Role != RoleSystem {
		t.Errorf("expected override messages, got %+v", p.Messages)
	}
}

func TestChatRequest_NullIsUnset(t *testing.T) {
	var req ChatRequest
	if err := json.Unmarshal([]byte(`{"model":"m","messages":[{"role":"user","content":"x"}],"temperature":null}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Temperature != nil {
		t.Error("explicit null should decode as unset")
	}
}
