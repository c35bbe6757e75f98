package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func ctxWithIP(ip string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort(ip, "40000")
	c.Request = req
	return c
}

func TestKeyFuncs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := ctxWithIP("203.0.113.9")

	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", got)
	}
	c.Set(ctxKeyUserID, "u123")
	if got := KeyByUserOrIP()(c); got != "user:u123" {
		t.Fatalf("user key = %q", got)
	}
	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("ip-only key = %q", got)
	}
}

func TestRateLimiter_BucketsPerKeyAndSweep(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 0, KeyByIP())
	rl.now = func() time.Time { return now }
	if rl.burst != 1 {
		t.Fatalf("burst should be raised to 1, got %d", rl.burst)
	}

	a := rl.bucketFor("a")
	if rl.bucketFor("a") != a {
		t.Fatalf("bucket should be reused")
	}
	rl.bucketFor("b")

	// "a" goes idle, "b" keeps being used
	now = now.Add(6 * time.Minute)
	rl.bucketFor("b")
	now = now.Add(5 * time.Minute)
	rl.bucketFor("c")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["a"]; ok {
		t.Fatalf("idle bucket should be swept")
	}
	if _, ok := rl.buckets["b"]; !ok {
		t.Fatalf("recent bucket should survive")
	}
	if _, ok := rl.buckets["c"]; !ok {
		t.Fatalf("new bucket missing")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, 2, KeyByUserOrIP()).Named("test-handler")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/jobs", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	hit := func(ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.RemoteAddr = net.JoinHostPort(ip, "1234")
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := hit("198.51.100.1"); w.Code != http.StatusOK {
			t.Fatalf("burst request %d: %d", i, w.Code)
		}
	}
	w := hit("198.51.100.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over burst: %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-1" {
		t.Fatalf("body = %v", body)
	}
	if n := testutil.ToFloat64(rateLimited.WithLabelValues("test-handler")); n != 1 {
		t.Fatalf("rate limited counter = %v", n)
	}

	// other clients have their own bucket
	if w := hit("198.51.100.2"); w.Code != http.StatusOK {
		t.Fatalf("other ip: %d", w.Code)
	}

	// a token comes back after a second
	now = now.Add(time.Second)
	if w := hit("198.51.100.1"); w.Code != http.StatusOK {
		t.Fatalf("after refill: %d", w.Code)
	}
}

func TestRateLimiter_RetryAfterForSlowRates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.25, 1, func(*gin.Context) string { return "all" })
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.Handler())
	r.POST("/auth/login", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "4" {
		t.Fatalf("got %d Retry-After=%q", w.Code, w.Header().Get("Retry-After"))
	}

	// the refused attempt did not push the next token further away
	now = now.Add(4 * time.Second)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("after wait: %d", w.Code)
	}
}

func TestRateLimiter_BypassOnReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.001, 1, func(*gin.Context) string { return "all" })

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Replay") != "" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Replay", "1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("replay %d should bypass, got %d", i, w.Code)
		}
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if IsRateBypass(c) {
		t.Fatalf("bypass must default to false")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("non-bool bypass must read as false")
	}
}
