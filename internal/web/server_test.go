package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterKeysOnRemoteAddr(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	served := 0
	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
	}))

	// One client rotating X-Real-IP must not get fresh buckets; the
	// connection address is the only keying source.
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/tables", nil)
		req.RemoteAddr = "203.0.113.9:4321"
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.0.%d", i))
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}

	if served != 2 {
		t.Fatalf("requests served = %d, want 2", served)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want %d", last.Code, http.StatusTooManyRequests)
	}

	// A different connection address still gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/tables", nil)
	req.RemoteAddr = "198.51.100.7:4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh client status = %d, want %d", rec.Code, http.StatusOK)
	}
}
