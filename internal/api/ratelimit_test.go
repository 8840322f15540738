package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Construction(t *testing.T) {
	t.Run("creates with defaults", func(t *testing.T) {
		rl := NewRateLimiter(0, 0)

		assert.NotNil(t, rl, "should not be nil")
		assert.Equal(t, 100.0, rl.requestsPerSecond)
		assert.Equal(t, 200, rl.burstSize)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows within limit", func(t *testing.T) {
		rl := NewRateLimiter(10, 10)

		for i := 0; i < 10; i++ {
			assert.True(t, rl.Allow("test"))
		}
	})

	t.Run("blocks over limit", func(t *testing.T) {
		rl := NewRateLimiter(1, 2)

		assert.True(t, rl.Allow("test"))
		assert.True(t, rl.Allow("test"))
		assert.False(t, rl.Allow("test"))
		assert.True(t, rl.Allow("other"), "clients have separate buckets")
	})
}

func TestRateLimiter_MemoryBounds(t *testing.T) {
	rl := NewRateLimiter(0, 0)

	for i := 0; i < maxTrackedClients+1; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}

	rl.mu.RLock()
	count := len(rl.limiters)
	rl.mu.RUnlock()

	assert.LessOrEqual(t, count, maxTrackedClients)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Client-ID", client)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusNoContent, do("b"))
}
