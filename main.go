package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"futures-decision-engine/internal/api"
	"futures-decision-engine/internal/backtest"
	"futures-decision-engine/internal/config"
	"futures-decision-engine/internal/engine"
	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/logging"
	"futures-decision-engine/internal/market"
	"futures-decision-engine/internal/model"
	"futures-decision-engine/internal/modes"
	"futures-decision-engine/internal/oracle"
	"futures-decision-engine/internal/position"
	"futures-decision-engine/internal/riskgate"
	"futures-decision-engine/internal/store"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "engine",
		Short: "Futures decision engine: fused signals, risk gating, managed positions",
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	root.AddCommand(runCmd(), backtestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the live decision loop and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			log := logging.Setup(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			flags := modes.NewFlags(cfg.Mode)
			modeStore := modes.NewStore(cfg.ModeDir)
			extractor := market.NewExtractor(market.ExtractorConfig{})

			models, err := loadModels(cfg.ModelDir)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				log.Warn().Str("dir", cfg.ModelDir).Msg("no model artifacts found, engine will skip every tick")
			}

			oc := oracle.NewClient(oracle.Config{
				BaseURL:        cfg.Oracle.BaseURL,
				APIKey:         cfg.OracleAPIKey,
				Model:          cfg.Oracle.Model,
				Timeout:        cfg.Oracle.Timeout(),
				CacheTTL:       cfg.Oracle.CacheTTL(),
				RequestsPerMin: cfg.Oracle.RequestsPerMin,
				Confirm:        cfg.Oracle.Confirm,
				ConfirmMinConf: cfg.Oracle.ConfirmMinConf,
			}, logging.Component("oracle"))

			var repo *store.Repository
			if cfg.DB != nil {
				db, err := store.NewDB(*cfg.DB, logging.Component("store"))
				if err != nil {
					return err
				}
				defer db.Close()
				repo = store.NewRepository(db)
				if err := repo.EnsureSchema(ctx); err != nil {
					return err
				}
			}

			var redisClient *redis.Client
			if cfg.Redis != "" {
				redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis})
				defer redisClient.Close()
			}
			cache := store.NewPositionCache(redisClient, logging.Component("cache"))

			client := exchange.NewPaperClient(cfg.PaperBalance)
			acct := riskgate.NewAccountState(cfg.PaperBalance)
			mgr := position.NewManager(client, logging.Component("position"))

			eng := engine.New(cfg.Engine, flags, modeStore, extractor, models, oc,
				client, acct, mgr, cache, repo, logging.Component("engine"))
			if err := eng.Restore(ctx); err != nil {
				return err
			}

			srv := api.NewServer(cfg.API, flags, modeStore, acct, mgr, extractor, models,
				repo, logging.Component("api"))
			eng.SetEventSink(srv.Hub())

			if cfg.Stream.Enabled {
				startStreams(ctx, cfg, eng, client)
			}

			go eng.Run(ctx)
			return srv.Start(ctx)
		},
	}
}

// startStreams wires the websocket candle feeds into the engine. One pair of
// feeds per symbol; URLs carry a %s placeholder for the lowercase symbol.
func startStreams(ctx context.Context, cfg config.Config, eng *engine.Engine, client *exchange.PaperClient) {
	for _, sym := range cfg.Engine.Symbols {
		symbol := sym
		primary := market.NewStream(market.StreamConfig{
			URL: fmt.Sprintf(cfg.Stream.PrimaryURL, strings.ToLower(symbol)),
		}, logging.Component("stream"))
		go primary.Run(ctx)
		go func() {
			for c := range primary.Candles() {
				eng.OnPrimaryCandle(symbol, c)
				client.SetMark(symbol, c.Close)
			}
		}()

		if cfg.Stream.HigherURL == "" {
			continue
		}
		higher := market.NewStream(market.StreamConfig{
			URL: fmt.Sprintf(cfg.Stream.HigherURL, strings.ToLower(symbol)),
		}, logging.Component("stream"))
		go higher.Run(ctx)
		go func() {
			for c := range higher.Candles() {
				eng.OnHigherCandle(symbol, c)
			}
		}()
	}
}

func backtestCmd() *cobra.Command {
	var (
		symbol  string
		file    string
		mode    string
		train   int
		test    int
		step    int
		horizon int
		fee     float64
		slip    float64
		equity  float64
		workers int
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a walk-forward backtest over a candle CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			log := logging.Setup(logging.Config{Level: cfg.LogLevel, Pretty: true})

			if mode == "" {
				mode = cfg.Mode
			}
			mc, err := modes.NewStore(cfg.ModeDir).Get(mode)
			if err != nil {
				return err
			}

			models, err := loadModels(cfg.ModelDir)
			if err != nil {
				return err
			}
			mdl := models[mode]
			if mdl == nil {
				return fmt.Errorf("no model artifact for mode %s under %s", mode, cfg.ModelDir)
			}

			candles, err := market.LoadCSV(file)
			if err != nil {
				return err
			}

			sim, err := backtest.NewSimulator(backtest.Config{
				Symbol:           symbol,
				TrainBars:        train,
				TestBars:         test,
				StepBars:         step,
				HorizonBars:      horizon,
				FeeRoundTripFrac: fee,
				SlipFrac:         slip,
				InitialEquity:    equity,
				Workers:          workers,
			}, market.NewExtractor(market.ExtractorConfig{}), mdl, mc, log)
			if err != nil {
				return err
			}

			res, err := sim.Run(cmd.Context(), candles, nil)
			if err != nil {
				return err
			}
			printSummary(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "BTCUSDT", "symbol label for the run")
	cmd.Flags().StringVar(&file, "file", "", "candle CSV file")
	cmd.Flags().StringVar(&mode, "mode", "", "trading mode (defaults to the configured mode)")
	cmd.Flags().IntVar(&train, "train", 1000, "in-sample bars per window")
	cmd.Flags().IntVar(&test, "test", 250, "out-of-sample bars per window")
	cmd.Flags().IntVar(&step, "step", 250, "bars to advance between windows")
	cmd.Flags().IntVar(&horizon, "horizon", 60, "max bars a trade may stay open")
	cmd.Flags().Float64Var(&fee, "fee", 0.0008, "round-trip fee fraction")
	cmd.Flags().Float64Var(&slip, "slip", 0.0002, "one-sided slippage fraction")
	cmd.Flags().Float64Var(&equity, "equity", 10000, "initial equity")
	cmd.Flags().IntVar(&workers, "workers", 1, "parallel window workers")
	cmd.MarkFlagRequired("file")
	return cmd
}

func printSummary(res *backtest.Result) {
	sum := res.Summarize()

	fmt.Printf("\nrun %s  %s/%s  %d windows\n\n", res.RunID, res.Symbol, res.Mode, res.Windows)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Trades", "Wins", "Win rate", "Return", "Max DD", "Final equity")
	table.Append(
		fmt.Sprintf("%d", sum.Trades),
		fmt.Sprintf("%d", sum.Wins),
		fmt.Sprintf("%.1f%%", sum.WinRate*100),
		fmt.Sprintf("%+.2f%%", sum.TotalPnLFrac*100),
		fmt.Sprintf("%.2f%%", sum.MaxDrawdownFrac*100),
		fmt.Sprintf("%.2f", sum.FinalEquity),
	)
	table.Render()

	if len(sum.ByReason) > 0 {
		fmt.Println()
		exits := tablewriter.NewWriter(os.Stdout)
		exits.Header("Exit reason", "Count")
		for _, reason := range []string{"take_profit", "breakeven", "stop_loss", "horizon"} {
			if n := sum.ByReason[reason]; n > 0 {
				exits.Append(reason, fmt.Sprintf("%d", n))
			}
		}
		exits.Render()
	}
}

// loadModels reads every <mode>.json artifact under dir. A missing dir is not
// an error; the engine just has no models.
func loadModels(dir string) (map[string]*model.Model, error) {
	out := make(map[string]*model.Model)
	if dir == "" {
		return out, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		mdl, err := model.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		name := mdl.Mode()
		if name == "" {
			name = e.Name()[:len(e.Name())-len(".json")]
		}
		out[name] = mdl
	}
	return out, nil
}
