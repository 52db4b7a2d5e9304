package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hjongc/simple-llm-chat/internal/config"
	"github.com/hjongc/simple-llm-chat/internal/httputil"
	"github.com/hjongc/simple-llm-chat/internal/telemetry"
	"github.com/hjongc/simple-llm-chat/internal/types"
	"github.com/hjongc/simple-llm-chat/internal/upstream"
)

// maxRequestBytes bounds the accepted chat request body.
const maxRequestBytes = 4 << 20

// Upstream is the single chat-completions endpoint the handler proxies to.
type Upstream interface {
	Send(ctx context.Context, payload *types.UpstreamPayload) ([]byte, error)
	OpenStream(ctx context.Context, payload *types.UpstreamPayload) (io.ReadCloser, error)
}

// streamFinisher is implemented by stream bodies that want to hear how the
// relay ended, such as *upstream.Stream.
type streamFinisher interface {
	Finish(err error)
}

// Handler holds dependencies for the chat HTTP handlers.
type Handler struct {
	upstream     Upstream
	retry        upstream.RetryPolicy
	modelsCfg    func() *config.ModelsConfig
	conversation func() config.ConversationConfig
	metrics      *telemetry.Metrics
	logger       *slog.Logger
}

func NewHandler(up Upstream, retry upstream.RetryPolicy, modelsCfg func() *config.ModelsConfig, conversation func() config.ConversationConfig, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		upstream:     up,
		retry:        retry,
		modelsCfg:    modelsCfg,
		conversation: conversation,
		metrics:      metrics,
		logger:       logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	var req types.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, reqID, http.StatusRequestEntityTooLarge, "invalid_request_error", "request_too_large", "Request body too large")
			return
		}
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}

	if err := req.Validate(); err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}

	models := h.modelsCfg()
	if req.Model == "" {
		req.Model = models.DefaultModel
	}
	if !models.IsSupported(req.Model) {
		h.logger.Warn("unsupported model requested, forwarding anyway",
			"request_id", reqID,
			"model", req.Model,
		)
	}

	messages := applyConversation(h.conversation(), req.Messages)
	payload := types.NewUpstreamPayload(&req, messages)

	h.logger.Info("chat request",
		"request_id", reqID,
		"model", req.Model,
		"messages", len(req.Messages),
		"forwarded_messages", len(payload.Messages),
		"stream", req.Stream,
	)

	if req.Stream {
		h.streamChat(w, r, reqID, payload, receivedAt)
		return
	}
	h.completeChat(w, r, reqID, payload, receivedAt)
}

func (h *Handler) completeChat(w http.ResponseWriter, r *http.Request, reqID string, payload *types.UpstreamPayload, receivedAt time.Time) {
	ctx := r.Context()

	policy := h.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		h.logger.Warn("upstream attempt failed, retrying",
			"request_id", reqID,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
	}

	body, err := upstream.Retry(ctx, policy, func(ctx context.Context) ([]byte, error) {
		b, err := h.upstream.Send(ctx, payload)
		h.metrics.RecordUpstreamAttempt(attemptOutcome(err))
		return b, err
	})
	if err == nil {
		var resp *types.NormalizedResponse
		resp, err = Normalize(body, payload.Model, payload.Messages)
		if err == nil {
			h.finish(reqID, payload.Model, false, http.StatusOK, receivedAt, resp)
			httputil.WriteJSON(w, http.StatusOK, resp)
			return
		}
	}

	if errors.Is(err, context.Canceled) {
		h.logger.Info("client went away before the upstream answered", "request_id", reqID)
		return
	}
	status := h.writeUpstreamError(w, reqID, err)
	h.finish(reqID, payload.Model, false, status, receivedAt, nil)
}

func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, reqID string, payload *types.UpstreamPayload, receivedAt time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}
	ctx := r.Context()

	beginStream(w, reqID)
	flusher.Flush()

	rl := newRelay(w, flusher.Flush, payload.Model)
	outcome, err := h.relay(ctx, rl, payload)

	h.metrics.RecordStream(outcome, rl.chunks)
	if outcome == streamFailed {
		telemetry.MarkFailed(ctx)
	}
	attrs := []any{
		"request_id", reqID,
		"model", payload.Model,
		"outcome", outcome,
		"chunks", rl.chunks,
		"duration_ms", time.Since(receivedAt).Milliseconds(),
	}
	if err != nil && outcome != streamClientGone {
		h.logger.Error("stream ended with error", append(attrs, "error", err)...)
	} else {
		h.logger.Info("stream finished", attrs...)
	}
	h.metrics.RecordRequest(telemetry.RequestLabels{
		Model:      payload.Model,
		Stream:     true,
		Status:     http.StatusOK,
		DurationMs: float64(time.Since(receivedAt).Milliseconds()),
	})
}

// relay opens the upstream stream once and pumps it to the caller.
func (h *Handler) relay(ctx context.Context, rl *relay, payload *types.UpstreamPayload) (string, error) {
	body, err := h.upstream.OpenStream(ctx, payload)
	h.metrics.RecordUpstreamAttempt(attemptOutcome(err))
	if err != nil {
		if ctx.Err() != nil {
			return streamClientGone, err
		}
		return rl.abort(err)
	}
	defer body.Close()

	outcome, err := rl.pump(ctx, body)
	if f, ok := body.(streamFinisher); ok {
		f.Finish(upstreamResult(outcome, err))
	}
	return outcome, err
}

// upstreamResult is the error to charge to the upstream for a relay outcome.
// Caller disconnects and caller write failures are not the upstream's doing.
func upstreamResult(outcome string, err error) error {
	switch outcome {
	case streamDone:
		return nil
	case streamFailed:
		return err
	default:
		return context.Canceled
	}
}

// writeUpstreamError maps a failed completion to an HTTP error and returns the
// status written.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, reqID string, err error) int {
	var (
		serr  *ShapeError
		herr  *upstream.HTTPError
		terr  *upstream.TimeoutError
		xerr  *upstream.TransportError
		attrs = []any{"request_id", reqID, "error", err}
	)

	switch {
	case errors.As(err, &serr):
		h.logger.Error("upstream returned an unusable body", attrs...)
		httputil.WriteBadGatewayError(w, reqID, "Upstream returned an invalid response")
		return http.StatusBadGateway
	case errors.As(err, &herr):
		h.logger.Error("upstream returned error status", append(attrs, "status", herr.StatusCode, "body", herr.Body)...)
		httputil.WriteBadGatewayError(w, reqID, fmt.Sprintf("Upstream API error: %d", herr.StatusCode))
		return http.StatusBadGateway
	case errors.As(err, &terr):
		h.logger.Error("upstream timed out", attrs...)
		httputil.WriteGatewayTimeoutError(w, reqID, "Upstream API timed out")
		return http.StatusGatewayTimeout
	case errors.As(err, &xerr):
		h.logger.Error("upstream unreachable", attrs...)
		httputil.WriteBadGatewayError(w, reqID, "Upstream API unreachable")
		return http.StatusBadGateway
	case errors.Is(err, upstream.ErrCircuitOpen):
		h.logger.Warn("upstream circuit open, failing fast", attrs...)
		httputil.WriteServiceUnavailableError(w, reqID, "Upstream temporarily unavailable")
		return http.StatusServiceUnavailable
	default:
		h.logger.Error("unexpected error handling chat request", attrs...)
		httputil.WriteInternalError(w, reqID, "Internal server error")
		return http.StatusInternalServerError
	}
}

func (h *Handler) finish(reqID, model string, stream bool, status int, receivedAt time.Time, resp *types.NormalizedResponse) {
	duration := time.Since(receivedAt)
	labels := telemetry.RequestLabels{
		Model:      model,
		Stream:     stream,
		Status:     status,
		DurationMs: float64(duration.Milliseconds()),
	}
	if resp != nil {
		labels.PromptTokens = resp.Tokens.PromptTokens
		labels.CompletionTokens = resp.Tokens.CompletionTokens
		labels.TokensEstimated = resp.UsageEstimated

		h.logger.Info("chat response",
			"request_id", reqID,
			"model", model,
			"prompt_tokens", resp.Tokens.PromptTokens,
			"completion_tokens", resp.Tokens.CompletionTokens,
			"usage_estimated", resp.UsageEstimated,
			"duration_ms", duration.Milliseconds(),
		)
	}
	h.metrics.RecordRequest(labels)
}

// attemptOutcome labels one upstream call for metrics.
func attemptOutcome(err error) string {
	var (
		herr *upstream.HTTPError
		terr *upstream.TimeoutError
		xerr *upstream.TransportError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &herr) && herr.StatusCode >= 500:
		return "http_5xx"
	case errors.As(err, &herr):
		return "http_4xx"
	case errors.As(err, &terr):
		return "timeout"
	case errors.As(err, &xerr):
		return "transport"
	case errors.Is(err, upstream.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	cfg := h.modelsCfg()
	models := make([]modelObject, 0, len(cfg.Supported))
	for _, name := range cfg.Supported {
		models = append(models, modelObject{
			ID:      name,
			Object:  "model",
			Created: 0,
			OwnedBy: "upstream",
		})
	}

	httputil.WriteJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   models,
	})
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}
