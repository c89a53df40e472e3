package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/model"
	"futures-decision-engine/internal/modes"
	"futures-decision-engine/internal/position"
	"futures-decision-engine/internal/riskgate"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	mdl, err := model.New(model.Artifact{
		Mode:        "adaptive",
		Trees:       []model.Tree{{Nodes: []model.Node{{Leaf: true, Value: 3}}}},
		Calibration: model.Calibration{A: 1},
	})
	require.NoError(t, err)

	client := exchange.NewPaperClient(10000)
	return NewServer(
		Config{DataDir: t.TempDir()},
		modes.NewFlags("adaptive"),
		modes.NewStore(t.TempDir()),
		riskgate.NewAccountState(10000),
		position.NewManager(client, zerolog.Nop()),
		market.NewExtractor(market.ExtractorConfig{}),
		map[string]*model.Model{"adaptive": mdl},
		nil,
		zerolog.Nop(),
	)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusReflectsFlags(t *testing.T) {
	s := newTestServer(t)
	s.flags.SetSimulation(true)

	w := doJSON(t, s, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "adaptive", got["mode"])
	assert.Equal(t, true, got["simulation"])
	assert.Equal(t, true, got["testnet"])
	assert.Equal(t, 10000.0, got["equity"])
}

func TestSetModeValidatesName(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/api/mode", map[string]string{"mode": "scalping"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scalping", s.flags.Mode())

	w = doJSON(t, s, http.MethodPut, "/api/mode", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetModeConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)

	cfg := modes.Default("swing")
	cfg.MinEdgeBps = 17
	w := doJSON(t, s, http.MethodPut, "/api/mode/config", cfg)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/mode/config?mode=swing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got modes.ModeConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 17.0, got.MinEdgeBps)
}

func TestSetModeConfigRejectsInvalid(t *testing.T) {
	s := newTestServer(t)
	cfg := modes.Default("swing")
	cfg.TPFrac = 0
	w := doJSON(t, s, http.MethodPut, "/api/mode/config", cfg)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuntimeSwitches(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/api/environment", map[string]bool{"testnet": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.flags.Testnet())

	w = doJSON(t, s, http.MethodPut, "/api/trading", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.flags.TradingEnabled())

	w = doJSON(t, s, http.MethodPut, "/api/simulation", map[string]bool{"simulation": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.flags.Simulation())
}

func TestResumeClearsPause(t *testing.T) {
	s := newTestServer(t)
	s.acct.Pause()

	w := doJSON(t, s, http.MethodPost, "/api/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.acct.Snapshot().Paused)
}

func TestTradesUnavailableWithoutRepository(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/trades", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBacktestValidatesRequest(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/backtest", map[string]any{"symbol": "BTCUSDT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/backtest", map[string]any{
		"symbol": "BTCUSDT", "file": "missing.csv",
		"train_bars": 60, "test_bars": 40, "step_bars": 40, "horizon_bars": 10,
		"initial_equity": 10000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBacktestRunsOverCSV(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	buf.WriteString("start,open,high,low,close,volume\n")
	price := 100.0
	for i := 0; i < 200; i++ {
		next := price * 1.001
		ts := int64(1735689600000 + i*60000)
		buf.WriteString(
			csvRow(ts, price, next*1.002, price*0.998, next))
		price = next
	}
	path := filepath.Join(s.cfg.DataDir, "wave.csv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	w := doJSON(t, s, http.MethodPost, "/api/backtest", map[string]any{
		"symbol": "BTCUSDT", "file": "wave.csv",
		"train_bars": 60, "test_bars": 40, "step_bars": 40, "horizon_bars": 10,
		"fee_round_trip_frac": 0.0008, "slip_frac": 0.0002,
		"initial_equity": 10000,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got struct {
		RunID   string `json:"run_id"`
		Windows int    `json:"windows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.NotEmpty(t, got.RunID)
	assert.Equal(t, 3, got.Windows)
}

func csvRow(ts int64, open, high, low, close float64) string {
	b, _ := json.Marshal([]any{ts, open, high, low, close, 1})
	s := string(b[1 : len(b)-1])
	return s + "\n"
}
