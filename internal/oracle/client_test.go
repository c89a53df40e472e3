package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatBody(content string) string {
	return `{"choices":[{"message":{"content":` + content + `}}]}`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, zerolog.Nop())
	return c, srv
}

func TestAskParsesOpinion(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(chatBody(`"{\"bias\": 0.7, \"confidence\": 0.8}"`)))
	})

	op := c.Ask(context.Background(), "BTCUSDT", map[string]float64{"trend_score": 0.4})
	assert.True(t, op.Available)
	assert.Equal(t, 0.7, op.Bias)
	assert.Equal(t, 0.8, op.Confidence)
}

func TestAskClampsOutOfRangeValues(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody(`"{\"bias\": 1.4, \"confidence\": -0.2}"`)))
	})

	op := c.Ask(context.Background(), "BTCUSDT", nil)
	assert.Equal(t, 1.0, op.Bias)
	assert.Equal(t, 0.0, op.Confidence)
}

func TestAskStripsCodeFences(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody(`"` + "```json\\n" + `{\"bias\": 0.6, \"confidence\": 0.5}` + "\\n```" + `"`)))
	})

	op := c.Ask(context.Background(), "ETHUSDT", nil)
	assert.True(t, op.Available)
	assert.Equal(t, 0.6, op.Bias)
}

func TestAskUnparseableIsNeutral(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody(`"definitely going up"`)))
	})

	op := c.Ask(context.Background(), "BTCUSDT", nil)
	assert.Equal(t, Neutral(), op)
}

func TestAskServerErrorIsNeutral(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
	})

	op := c.Ask(context.Background(), "BTCUSDT", nil)
	assert.Equal(t, Neutral(), op)
}

func TestAskUnconfiguredIsNeutral(t *testing.T) {
	c := NewClient(Config{}, zerolog.Nop())
	assert.False(t, c.Configured())
	assert.Equal(t, Neutral(), c.Ask(context.Background(), "BTCUSDT", nil))
}

func TestAskCachesPerSymbol(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(chatBody(`"{\"bias\": 0.7, \"confidence\": 0.8}"`)))
	})

	first := c.Ask(context.Background(), "BTCUSDT", nil)
	second := c.Ask(context.Background(), "BTCUSDT", nil)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", CacheTTL: time.Nanosecond}, zerolog.Nop())
	for i := 0; i < 6; i++ {
		assert.Equal(t, Neutral(), c.Ask(context.Background(), "BTCUSDT", nil))
	}
	// Breaker trips at three consecutive failures; later asks never reach the
	// server.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestConfirmEntryVeto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody(`"{\"ok\": false, \"why\": \"spread too wide\"}"`)))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Confirm: true}, zerolog.Nop())
	require.True(t, c.ConfirmEnabled())

	ok, why := c.ConfirmEntry(context.Background(), map[string]any{"symbol": "BTCUSDT"})
	assert.False(t, ok)
	assert.Equal(t, "spread too wide", why)
}

func TestConfirmEntryFailOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Confirm: true}, zerolog.Nop())
	ok, why := c.ConfirmEntry(context.Background(), nil)
	assert.True(t, ok)
	assert.Equal(t, "fallback", why)
}

func TestConfirmDisabledApproves(t *testing.T) {
	c := NewClient(Config{}, zerolog.Nop())
	ok, _ := c.ConfirmEntry(context.Background(), nil)
	assert.True(t, ok)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
	assert.Equal(t, "{}", stripFences("```"))
}
