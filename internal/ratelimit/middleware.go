package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hjongc/simple-llm-chat/internal/httputil"
	"github.com/hjongc/simple-llm-chat/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Checker decides whether one more request fits in a key's window.
type Checker interface {
	Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error)
}

// Middleware returns chi middleware that enforces a per-client requests-per-minute
// limit keyed by remote IP. Run it after middleware.RealIP so proxied clients
// are told apart.
func Middleware(checker Checker, rpm int, metrics *telemetry.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")
			client := clientKey(r)

			result, err := checker.Check(r.Context(), "rpm:"+client, int64(rpm), time.Minute)
			if err != nil {
				logger.Warn("rate limit check failed, allowing request",
					"request_id", reqID,
					"error", err,
				)
			}

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				logger.Warn("rate limit exceeded",
					"request_id", reqID,
					"client", client,
					"limit", rpm,
				)
				if metrics != nil {
					metrics.RecordRateLimited()
				}
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %d requests per minute. Retry after %s", rpm, result.ResetAt.Format(time.RFC3339)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
