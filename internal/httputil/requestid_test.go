package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(RequestIDHeader)
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if !strings.HasPrefix(seen, "req_") {
			t.Errorf("expected generated req_ id, got %q", seen)
		}
		if w.Header().Get(RequestIDHeader) != seen {
			t.Error("handler and response should see the same id")
		}
	})

	t.Run("echoed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "abc-123")
		h.ServeHTTP(httptest.NewRecorder(), r)
		if seen != "abc-123" {
			t.Errorf("expected caller id to be echoed, got %q", seen)
		}
	})
}
