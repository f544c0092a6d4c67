package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func rateLimitedRouter(limiter *RateLimiter, rules map[string]RateLimitRule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set("userId", id)
		}
		c.Next()
	})
	r.Use(RateLimit(RateLimitConfig{
		Limiter: limiter,
		Rules:   rules,
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/analyze") {
				return "ANALYZE"
			}
			return ""
		},
	}))
	r.POST("/api/v1/documents/:id/analyze", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/api/v1/documents", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func doRequest(r *gin.Engine, method, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitAnalyzeTighterThanDefault(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := rateLimitedRouter(limiter, map[string]RateLimitRule{
		"DEFAULT": {Rate: 1, Burst: 5},
		"ANALYZE": {Rate: 1, Burst: 2},
	})

	for i := 0; i < 2; i++ {
		if resp := doRequest(r, http.MethodPost, "/api/v1/documents/d1/analyze", "guest:g1"); resp.Code != http.StatusOK {
			t.Fatalf("analyze request %d expected 200, got %d", i+1, resp.Code)
		}
	}
	if resp := doRequest(r, http.MethodPost, "/api/v1/documents/d1/analyze", "guest:g1"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("analyze request 3 expected 429, got %d", resp.Code)
	}

	// The default group still has budget for the same principal.
	if resp := doRequest(r, http.MethodGet, "/api/v1/documents", "guest:g1"); resp.Code != http.StatusOK {
		t.Fatalf("default-group request expected 200, got %d", resp.Code)
	}
}

func TestRateLimitKeysOnPrincipal(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := rateLimitedRouter(limiter, map[string]RateLimitRule{
		"DEFAULT": {Rate: 1, Burst: 1},
	})

	if resp := doRequest(r, http.MethodGet, "/api/v1/documents", "user-a"); resp.Code != http.StatusOK {
		t.Fatalf("user-a first request expected 200, got %d", resp.Code)
	}
	if resp := doRequest(r, http.MethodGet, "/api/v1/documents", "user-a"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("user-a second request expected 429, got %d", resp.Code)
	}
	if resp := doRequest(r, http.MethodGet, "/api/v1/documents", "user-b"); resp.Code != http.StatusOK {
		t.Fatalf("user-b should have its own bucket, got %d", resp.Code)
	}
}

func TestRateLimit429Envelope(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := rateLimitedRouter(limiter, map[string]RateLimitRule{
		"DEFAULT": {Rate: 1, Burst: 1},
	})

	doRequest(r, http.MethodGet, "/api/v1/documents", "guest:g1")
	resp := doRequest(r, http.MethodGet, "/api/v1/documents", "guest:g1")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" {
		t.Fatalf("expected code rate_limited, got %q", payload.Error.Code)
	}
	if _, ok := payload.Error.Details["retryAfterMs"]; !ok {
		t.Fatalf("expected retryAfterMs detail")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	rule := RateLimitRule{Rate: 2, Burst: 1}

	if ok, _ := limiter.Allow("u|DEFAULT", rule); !ok {
		t.Fatalf("first take should pass")
	}
	ok, retryAfter := limiter.Allow("u|DEFAULT", rule)
	if ok {
		t.Fatalf("bucket should be empty")
	}
	if retryAfter <= 0 || retryAfter > time.Second {
		t.Fatalf("retryAfter out of range: %v", retryAfter)
	}

	now = now.Add(time.Second)
	if ok, _ := limiter.Allow("u|DEFAULT", rule); !ok {
		t.Fatalf("bucket should refill after a second")
	}
}
