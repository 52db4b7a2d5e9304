package telemetry

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Stats keeps process-local request counters for /stats. Reads are not a
// consistent snapshot across fields; the numbers are advisory and reset on
// restart.
type Stats struct {
	started    time.Time
	requests   atomic.Int64
	errors     atomic.Int64
	totalNanos atomic.Int64
	now        func() time.Time
}

func NewStats() *Stats {
	return &Stats{started: time.Now(), now: time.Now}
}

// StatsSnapshot is the /stats body.
type StatsSnapshot struct {
	TotalRequests       int64   `json:"total_requests"`
	TotalErrors         int64   `json:"total_errors"`
	ErrorRate           float64 `json:"error_rate"`
	AverageResponseTime float64 `json:"average_response_time"`
	Uptime              float64 `json:"uptime"`
}

// Record adds one finished request.
func (s *Stats) Record(elapsed time.Duration, failed bool) {
	s.requests.Add(1)
	s.totalNanos.Add(int64(elapsed))
	if failed {
		s.errors.Add(1)
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	requests := s.requests.Load()
	errs := s.errors.Load()
	total := time.Duration(s.totalNanos.Load())

	snap := StatsSnapshot{
		TotalRequests: requests,
		TotalErrors:   errs,
		Uptime:        s.now().Sub(s.started).Seconds(),
	}
	if requests > 0 {
		snap.ErrorRate = float64(errs) / float64(requests)
		avg := total.Seconds() / float64(requests)
		snap.AverageResponseTime = math.Round(avg*1000) / 1000
	}
	return snap
}

type outcomeKey struct{}

type outcome struct{ failed atomic.Bool }

// MarkFailed counts the current request as an error even though its status
// was already committed, as with a stream that broke off after its 200.
func MarkFailed(ctx context.Context) {
	if o, ok := ctx.Value(outcomeKey{}).(*outcome); ok {
		o.failed.Store(true)
	}
}

// Middleware records every request into s and logs its completion. Status
// codes of 500 and above, handlers that panic, and requests passed to
// MarkFailed count as errors.
func (s *Stats) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := s.now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			o := &outcome{}
			r = r.WithContext(context.WithValue(r.Context(), outcomeKey{}, o))

			defer func() {
				elapsed := s.now().Sub(start)
				if rec := recover(); rec != nil {
					s.Record(elapsed, true)
					logger.Error("request panicked",
						"method", r.Method,
						"path", r.URL.Path,
						"duration_ms", elapsed.Milliseconds(),
					)
					panic(rec)
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				failed := status >= http.StatusInternalServerError || o.failed.Load()
				s.Record(elapsed, failed)
				logger.Info("request completed",
					"request_id", w.Header().Get("X-Request-ID"),
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"failed", failed,
					"bytes", ww.BytesWritten(),
					"duration_ms", elapsed.Milliseconds(),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
