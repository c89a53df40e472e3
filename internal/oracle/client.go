// Package oracle wraps the language-model advisory call. The oracle is a
// noisy, possibly-unavailable signal: every failure path degrades to a neutral
// opinion instead of blocking or failing the decision cycle.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Opinion is the directional advisory output.
type Opinion struct {
	Bias       float64 `json:"bias"`       // 0..1, 0.5 is neutral
	Confidence float64 `json:"confidence"` // 0..1
	Available  bool    `json:"available"`
}

// Neutral is the fallback opinion used on timeout, breaker-open, or parse
// failure.
func Neutral() Opinion {
	return Opinion{Bias: 0.5, Confidence: 0, Available: false}
}

// Config holds oracle client configuration.
type Config struct {
	BaseURL        string        `json:"base_url"` // OpenAI-compatible chat completions endpoint
	APIKey         string        `json:"api_key"`
	Model          string        `json:"model"`
	MaxTokens      int           `json:"max_tokens"`
	Timeout        time.Duration `json:"timeout"`
	CacheTTL       time.Duration `json:"cache_ttl"`
	RequestsPerMin int           `json:"requests_per_min"`
	Confirm        bool          `json:"confirm"`          // enable the confirm/veto second call
	ConfirmMinConf float64       `json:"confirm_min_conf"` // model confidence below which confirm runs
}

// DefaultConfig returns conservative defaults. The short timeout is
// deliberate: a slow oracle must never stall a decision tick.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://api.openai.com/v1/chat/completions",
		Model:          "gpt-4o-mini",
		MaxTokens:      80,
		Timeout:        800 * time.Millisecond,
		CacheTTL:       30 * time.Minute,
		RequestsPerMin: 20,
		ConfirmMinConf: 0.58,
	}
}

type cacheEntry struct {
	opinion Opinion
	at      time.Time
}

// Client calls the oracle with a strict timeout behind a circuit breaker and a
// rate limiter, caching answers per symbol for CacheTTL.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]cacheEntry

	log zerolog.Logger
}

// NewClient creates an oracle client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = def.RequestsPerMin
	}
	if cfg.ConfirmMinConf <= 0 {
		cfg.ConfirmMinConf = def.ConfirmMinConf
	}

	settings := gobreaker.Settings{Name: "oracle"}
	settings.Interval = time.Minute
	settings.Timeout = time.Minute
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMin)/60.0), cfg.RequestsPerMin),
		cache:   make(map[string]cacheEntry),
		log:     log,
	}
}

// Configured reports whether the client has credentials to call out.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// Ask requests a directional opinion for a symbol given a numeric market
// snapshot. Never returns an error: every failure yields Neutral().
func (c *Client) Ask(ctx context.Context, symbol string, snapshot map[string]float64) Opinion {
	if !c.Configured() {
		return Neutral()
	}

	if op, ok := c.cached(symbol); ok {
		return op
	}

	// A tick must not queue behind the limiter; skip the call instead.
	if !c.limiter.Allow() {
		c.log.Debug().Str("symbol", symbol).Msg("oracle rate limited, using neutral opinion")
		return Neutral()
	}

	snap, _ := json.Marshal(snapshot)
	prompt := fmt.Sprintf(
		"You are a quant co-pilot. Given this numeric snapshot, output JSON "+
			`{"bias": 0..1, "confidence": 0..1} where bias 0.5 is neutral, above 0.5 favors long, below favors short.`+"\n"+
			"symbol=%s\n%s\n"+
			"Prefer confident bias for clean trends with healthy volatility and reasonable spread; "+
			"stay near 0.5 for choppy or noisy conditions. No text, JSON only.",
		symbol, snap)

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("oracle call failed, using neutral opinion")
		return Neutral()
	}

	var parsed struct {
		Bias       float64 `json:"bias"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("oracle returned unparseable JSON, using neutral opinion")
		return Neutral()
	}

	op := Opinion{
		Bias:       clamp(parsed.Bias, 0, 1),
		Confidence: clamp(parsed.Confidence, 0, 1),
		Available:  true,
	}
	c.store(symbol, op)
	return op
}

// ConfirmEntry is the optional veto call made when model confidence is low.
// Fail-open: any failure approves, since the primary gates already passed.
func (c *Client) ConfirmEntry(ctx context.Context, payload map[string]any) (bool, string) {
	if !c.cfg.Confirm || !c.Configured() {
		return true, ""
	}
	if !c.limiter.Allow() {
		return true, "rate_limited"
	}

	body, _ := json.Marshal(payload)
	prompt := fmt.Sprintf(
		`Return JSON {"ok": true|false, "why": "..."}. Approve only if these entry conditions are reasonable.`+
			"\n%s\nNo extra text.", body)

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		c.log.Debug().Err(err).Msg("oracle confirm unavailable, approving")
		return true, "fallback"
	}

	var parsed struct {
		OK  bool   `json:"ok"`
		Why string `json:"why"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return true, "fallback"
	}
	return parsed.OK, parsed.Why
}

// ConfirmThreshold returns the model-confidence level below which ConfirmEntry
// should run.
func (c *Client) ConfirmThreshold() float64 { return c.cfg.ConfirmMinConf }

// ConfirmEnabled reports whether the veto call is configured.
func (c *Client) ConfirmEnabled() bool { return c.cfg.Confirm && c.Configured() }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) complete(ctx context.Context, userPrompt string) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req := chatRequest{
			Model: c.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: "Return ONLY valid JSON. Keys must be simple."},
				{Role: "user", Content: userPrompt},
			},
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: 0.1,
		}
		body, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("API error: %s - %s", parsed.Error.Type, parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("empty response")
		}
		return parsed.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Client) cached(symbol string) (Opinion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[symbol]
	if !ok || time.Since(entry.at) > c.cfg.CacheTTL {
		return Opinion{}, false
	}
	return entry.opinion, true
}

func (c *Client) store(symbol string, op Opinion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[symbol] = cacheEntry{opinion: op, at: time.Now()}
}

// stripFences removes a markdown code fence the model sometimes wraps its JSON
// in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.Trim(s, "`")
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return "{}"
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
