package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"mcbridge/internal/infra/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func doRequest(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := doRequest(SecurityHeaders(okHandler), "192.168.1.1:1234", nil)

	expected := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("Header %s = %q, want %q", header, got, want)
		}
	}
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS header should not be set without TLS, got: %q", hsts)
	}
}

func TestSecurityHeaders_HSTS_WithTLS(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(context.Background(), config.RateLimitConfig{})(okHandler)
	for i := 0; i < 50; i++ {
		if w := doRequest(h, "192.168.1.1:1", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
}

func TestRateLimit_BlocksExcessiveTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 6, Burst: 3})(okHandler)

	var ok, blocked int
	for i := 0; i < 10; i++ {
		w := doRequest(h, "192.168.1.1:12345", nil)
		switch w.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			blocked++
			if w.Header().Get("Retry-After") != "10" {
				t.Errorf("Retry-After = %q, want 10", w.Header().Get("Retry-After"))
			}
		}
	}
	if ok != 3 || blocked != 7 {
		t.Errorf("ok=%d blocked=%d, want 3/7", ok, blocked)
	}
}

func TestRateLimit_SeparatesClientsByIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 6, Burst: 2})(okHandler)

	client1Blocked := false
	for i := 0; i < 3; i++ {
		if doRequest(h, "192.168.1.1:12345", nil).Code == http.StatusTooManyRequests {
			client1Blocked = true
		}
	}
	client2OK := 0
	for i := 0; i < 2; i++ {
		if doRequest(h, "192.168.1.2:12345", nil).Code == http.StatusOK {
			client2OK++
		}
	}

	if !client1Blocked {
		t.Error("client 1 should have been rate limited")
	}
	if client2OK != 2 {
		t.Errorf("client 2 got %d successful requests, want 2", client2OK)
	}
}

func TestRateLimit_SpoofedHeaderDoesNotEvade(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 6, Burst: 1, TrustedProxies: []string{"10.0.0.1"}})(okHandler)

	first := doRequest(h, "203.0.113.1:1", map[string]string{"X-Forwarded-For": "8.8.8.8"})
	second := doRequest(h, "203.0.113.1:1", map[string]string{"X-Forwarded-For": "8.8.4.4"})
	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Errorf("codes = %d, %d; rotating XFF from an untrusted peer must not reset the bucket", first.Code, second.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trusted    []string
		want       string
	}{
		{"strips port", "192.168.1.1:12345", nil, nil, "192.168.1.1"},
		{"ipv6 peer", "[2001:db8::1]:443", nil, nil, "2001:db8::1"},
		{"no port", "192.168.1.1", nil, nil, "192.168.1.1"},
		{"xff ignored without trusted proxies", "1.2.3.4:1", map[string]string{"X-Forwarded-For": "8.8.8.8"}, nil, "1.2.3.4"},
		{"xff ignored from untrusted peer", "203.0.113.1:1", map[string]string{"X-Forwarded-For": "8.8.8.8"}, []string{"10.0.0.1"}, "203.0.113.1"},
		{"xff first hop from trusted proxy", "192.168.1.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, []string{"192.168.1.1"}, "203.0.113.1"},
		{"x-real-ip from trusted proxy", "192.168.1.1:1", map[string]string{"X-Real-IP": " 203.0.113.9 "}, []string{"192.168.1.1"}, "203.0.113.9"},
		{"trusted proxy without headers", "192.168.1.1:1", nil, []string{"192.168.1.1"}, "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			trusted := map[string]bool{}
			for _, p := range tt.trusted {
				trusted[p] = true
			}
			if got := clientIP(req, trusted); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimit_TokenRefill(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping time-dependent test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 60 req/min = 1 req/sec, burst 1
	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 60, Burst: 1})(okHandler)

	if w := doRequest(h, "192.168.1.1:1", nil); w.Code != http.StatusOK {
		t.Errorf("first request: status %d", w.Code)
	}
	if w := doRequest(h, "192.168.1.1:1", nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("immediate second request: status %d", w.Code)
	}
	time.Sleep(1100 * time.Millisecond)
	if w := doRequest(h, "192.168.1.1:1", nil); w.Code != http.StatusOK {
		t.Errorf("request after refill: status %d", w.Code)
	}
}

func TestRateLimit_CleanupGoroutineStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	runtime.GC()
	time.Sleep(10 * time.Millisecond)
	before := runtime.NumGoroutine()

	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerMin: 60, Burst: 10})(okHandler)
	doRequest(h, "192.168.1.1:1", nil)

	cancel()
	time.Sleep(100 * time.Millisecond)
	runtime.GC()
	time.Sleep(50 * time.Millisecond)

	if after := runtime.NumGoroutine(); after > before+2 {
		t.Errorf("Potential goroutine leak: before=%d, after=%d", before, after)
	}
}
