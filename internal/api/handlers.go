package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"futures-decision-engine/internal/backtest"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/modes"
)

type errNoModel string

func (e errNoModel) Error() string { return fmt.Sprintf("no model artifact for mode %s", string(e)) }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.acct.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"mode":            s.flags.Mode(),
		"testnet":         s.flags.Testnet(),
		"simulation":      s.flags.Simulation(),
		"trading_enabled": s.flags.TradingEnabled(),
		"equity":          snap.Equity,
		"daily_pnl_frac":  snap.DailyPnLFrac,
		"loss_streak":     snap.ConsecutiveLosses,
		"cooldown_until":  snap.CooldownUntil,
		"paused":          snap.Paused,
		"open_positions":  s.mgr.OpenCount(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.Positions())
}

func (s *Server) handleRecentTrades(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	trades, err := s.repo.RecentClosedTrades(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) handleGetMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.flags.Mode()})
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := s.modeStore.Get(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.flags.SetMode(req.Mode)
	s.log.Info().Str("mode", req.Mode).Msg("mode switched")
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (s *Server) handleGetModeConfig(c *gin.Context) {
	mode := c.DefaultQuery("mode", s.flags.Mode())
	cfg, err := s.modeStore.Get(mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleSetModeConfig(c *gin.Context) {
	var cfg modes.ModeConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.modeStore.Save(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleSetEnvironment(c *gin.Context) {
	var req struct {
		Testnet *bool `json:"testnet" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.flags.SetTestnet(*req.Testnet)
	s.log.Info().Bool("testnet", *req.Testnet).Msg("environment switched")
	c.JSON(http.StatusOK, gin.H{"testnet": *req.Testnet})
}

func (s *Server) handleSetSimulation(c *gin.Context) {
	var req struct {
		Simulation *bool `json:"simulation" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.flags.SetSimulation(*req.Simulation)
	c.JSON(http.StatusOK, gin.H{"simulation": *req.Simulation})
}

func (s *Server) handleSetTrading(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.flags.SetTradingEnabled(*req.Enabled)
	s.log.Info().Bool("enabled", *req.Enabled).Msg("trading switch flipped")
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

// handleResume clears the paused state and the loss-streak cooldown. Explicit
// operator override of the account breakers.
func (s *Server) handleResume(c *gin.Context) {
	s.acct.Resume()
	s.log.Info().Msg("account breakers cleared by operator")
	c.JSON(http.StatusOK, gin.H{"resumed": true})
}

type backtestRequest struct {
	Symbol           string  `json:"symbol" binding:"required"`
	File             string  `json:"file" binding:"required"` // CSV under the data dir
	Mode             string  `json:"mode"`
	TrainBars        int     `json:"train_bars"`
	TestBars         int     `json:"test_bars"`
	StepBars         int     `json:"step_bars"`
	HorizonBars      int     `json:"horizon_bars"`
	FeeRoundTripFrac float64 `json:"fee_round_trip_frac"`
	SlipFrac         float64 `json:"slip_frac"`
	InitialEquity    float64 `json:"initial_equity"`
	Workers          int     `json:"workers"`
}

// handleBacktest runs a walk-forward backtest synchronously and returns the
// summary. The full run is persisted when a repository is configured.
func (s *Server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = s.flags.Mode()
	}
	mc, err := s.modeStore.Get(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Paths are confined to the configured data dir.
	path := filepath.Join(s.cfg.DataDir, filepath.Base(req.File))
	candles, err := market.LoadCSV(path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := backtest.Config{
		Symbol:           req.Symbol,
		TrainBars:        req.TrainBars,
		TestBars:         req.TestBars,
		StepBars:         req.StepBars,
		HorizonBars:      req.HorizonBars,
		FeeRoundTripFrac: req.FeeRoundTripFrac,
		SlipFrac:         req.SlipFrac,
		InitialEquity:    req.InitialEquity,
		Workers:          req.Workers,
	}
	sim, err := s.newBacktestSimulator(cfg, mc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := sim.Run(c.Request.Context(), candles, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.repo != nil {
		if err := s.repo.SaveBacktestRun(c.Request.Context(), res); err != nil {
			s.log.Error().Err(err).Str("run_id", res.RunID).Msg("backtest run not persisted")
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":  res.RunID,
		"windows": res.Windows,
		"summary": res.Summarize(),
	})
}
