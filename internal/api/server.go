// Package api exposes the operator surface: status, runtime switches, mode
// configs, backtests, and a websocket event feed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"futures-decision-engine/internal/backtest"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/model"
	"futures-decision-engine/internal/modes"
	"futures-decision-engine/internal/position"
	"futures-decision-engine/internal/riskgate"
	"futures-decision-engine/internal/store"
)

// Config holds the API server settings.
type Config struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins"`
	DataDir      string   `yaml:"data_dir"` // candle CSVs for backtest requests
}

// Server is the HTTP operator surface. It reads engine state and flips runtime
// switches; it never makes trading decisions itself.
type Server struct {
	cfg       Config
	flags     *modes.Flags
	modeStore *modes.Store
	acct      *riskgate.AccountState
	mgr       *position.Manager
	extractor *market.Extractor
	models    map[string]*model.Model
	repo      *store.Repository // nil disables persistence endpoints
	hub       *Hub
	log       zerolog.Logger

	router *gin.Engine
	http   *http.Server
}

// NewServer wires the router.
func NewServer(cfg Config, flags *modes.Flags, modeStore *modes.Store, acct *riskgate.AccountState,
	mgr *position.Manager, extractor *market.Extractor, models map[string]*model.Model,
	repo *store.Repository, log zerolog.Logger) *Server {

	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		flags:     flags,
		modeStore: modeStore,
		acct:      acct,
		mgr:       mgr,
		extractor: extractor,
		models:    models,
		repo:      repo,
		hub:       NewHub(log),
		log:       log,
		router:    router,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleRecentTrades)

		api.GET("/mode", s.handleGetMode)
		api.PUT("/mode", s.handleSetMode)
		api.GET("/mode/config", s.handleGetModeConfig)
		api.PUT("/mode/config", s.handleSetModeConfig)

		api.PUT("/environment", s.handleSetEnvironment)
		api.PUT("/simulation", s.handleSetSimulation)
		api.PUT("/trading", s.handleSetTrading)
		api.POST("/resume", s.handleResume)

		api.POST("/backtest", s.handleBacktest)
	}
}

// Hub returns the websocket event hub for engine callbacks.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("api server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newBacktestSimulator builds a simulator for one request. Split out for the
// handler's testability.
func (s *Server) newBacktestSimulator(cfg backtest.Config, mc modes.ModeConfig) (*backtest.Simulator, error) {
	mdl := s.models[mc.Name]
	if mdl == nil {
		return nil, errNoModel(mc.Name)
	}
	return backtest.NewSimulator(cfg, s.extractor, mdl, mc, s.log)
}
