package gateway

import (
	"net/http"
	"time"

	"github.com/hjongc/simple-llm-chat/internal/httputil"
	"github.com/hjongc/simple-llm-chat/internal/telemetry"
	"github.com/hjongc/simple-llm-chat/internal/upstream"
)

// Service serves the operational endpoints.
type Service struct {
	version string
	stats   *telemetry.Stats
	breaker *upstream.CircuitBreaker
	now     func() time.Time
}

// NewService builds the operational handlers. breaker may be nil when the
// circuit breaker is disabled.
func NewService(version string, stats *telemetry.Stats, breaker *upstream.CircuitBreaker) *Service {
	return &Service{
		version: version,
		stats:   stats,
		breaker: breaker,
		now:     time.Now,
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Upstream  string `json:"upstream"`
}

// Health handles GET /health. It reports liveness only and never calls the
// upstream.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	state := "disabled"
	if s.breaker != nil {
		state = s.breaker.State().String()
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: s.now().Format(time.RFC3339Nano),
		Version:   s.version,
		Upstream:  state,
	})
}

// Stats handles GET /stats
func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.stats.Snapshot())
}
