package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hjongc/simple-llm-chat/internal/telemetry"
	"github.com/hjongc/simple-llm-chat/internal/upstream"
)

func TestService_Health(t *testing.T) {
	tests := []struct {
		name    string
		breaker *upstream.CircuitBreaker
		want    string
	}{
		{"no breaker", nil, "disabled"},
		{"closed breaker", upstream.NewCircuitBreaker(3, time.Second, nil), "closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService("1.0.0", telemetry.NewStats(), tt.breaker)
			s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

			w := httptest.NewRecorder()
			s.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			var resp healthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != "healthy" || resp.Version != "1.0.0" {
				t.Errorf("unexpected health %+v", resp)
			}
			if resp.Timestamp != "2026-01-02T03:04:05Z" {
				t.Errorf("unexpected timestamp %s", resp.Timestamp)
			}
			if resp.Upstream != tt.want {
				t.Errorf("expected upstream %s, got %s", tt.want, resp.Upstream)
			}
		})
	}
}

func TestService_Stats(t *testing.T) {
	stats := telemetry.NewStats()
	stats.Record(500*time.Millisecond, false)
	stats.Record(1500*time.Millisecond, true)
	s := NewService("1.0.0", stats, nil)

	w := httptest.NewRecorder()
	s.Stats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var resp map[string]float64
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["total_requests"] != 2 || resp["total_errors"] != 1 {
		t.Errorf("unexpected counts %v", resp)
	}
	if resp["error_rate"] != 0.5 || resp["average_response_time"] != 1 {
		t.Errorf("unexpected rates %v", resp)
	}
	if _, ok := resp["uptime"]; !ok {
		t.Error("expected uptime field")
	}
}
