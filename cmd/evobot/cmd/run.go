package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/evobot/agent"
	"github.com/rustyeddy/evobot/alerts"
	"github.com/rustyeddy/evobot/config"
	"github.com/rustyeddy/evobot/engine"
	"github.com/rustyeddy/evobot/evolve"
	"github.com/rustyeddy/evobot/gate"
	"github.com/rustyeddy/evobot/market"
	"github.com/rustyeddy/evobot/monitor"
	"github.com/rustyeddy/evobot/observ"
	"github.com/rustyeddy/evobot/replay"
	"github.com/rustyeddy/evobot/risk"
	"github.com/rustyeddy/evobot/runner"
	"github.com/rustyeddy/evobot/store"
	"github.com/rustyeddy/evobot/strategies"
	"github.com/rustyeddy/evobot/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading engine from a config file",
	Long: `Start one worker per configured bot and trade until interrupted.

Ticks come from a CSV file (--ticks) or, with engine "binance", from
the live book-ticker stream. Secrets are read from the environment
(BINANCE_API_KEY, BINANCE_SECRET_KEY, EVOBOT_WEBHOOK_URL); a .env file
in the working directory is loaded if present.

Example:
  evobot run -f evobot.yaml --ticks data/eurusd.csv`,
	RunE: runRun,
}

var (
	runConfigPath string
	runTicksPath  string
	runEvolveData string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (required)")
	runCmd.Flags().StringVar(&runTicksPath, "ticks", "", "CSV tick file to trade against instead of a live feed")
	runCmd.Flags().StringVar(&runEvolveData, "evolve-data", "", "CSV tick window for the evolution loop")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	cfg.Alerts.WebhookURL = os.Getenv("EVOBOT_WEBHOOK_URL")
	notifier := alerts.NewWebhook(cfg.Alerts)

	mon := monitor.New(cfg.Monitor, notifier)
	portfolio := risk.NewPortfolio(cfg.Portfolio, st, notifier)

	gk := gate.New(cfg.Gate, st, st, nil)
	defer gk.Close()
	go gk.Run(ctx)

	var pub runner.Publisher
	if cfg.Telemetry.Enabled {
		hub := telemetry.NewHub()
		go hub.Run(ctx)
		go func() {
			if err := telemetry.Serve(ctx, hub, cfg.Telemetry.Addr); err != nil {
				observ.Error("telemetry_serve_failed", err, nil)
			}
		}()
		pub = hub
	}

	sup := runner.NewSupervisor(cfg.Runner, portfolio, mon, pub, st)

	// A persisted account state from a prior run overrides the config's
	// starting equity.
	startEquity := cfg.Equity
	if acct, ok, err := st.LoadAccountState(); err != nil {
		observ.Error("account_state_load_failed", err, nil)
	} else if ok && acct.Equity > 0 {
		startEquity = acct.Equity
		observ.Log("account_state_recovered", map[string]any{
			"equity":     acct.Equity,
			"updated_at": acct.UpdatedAt,
		})
	}

	equity := func() float64 {
		if s := portfolio.State(); s.Equity > 0 {
			return s.Equity
		}
		return startEquity
	}
	base, err := buildEngine(cfg, st, equity)
	if err != nil {
		return err
	}
	exec := engine.NewResilient(cfg.Resilient, base)

	for _, b := range cfg.Bots {
		rm := risk.NewManager(startEquity, cfg.Risk)
		rm.OnDayRoll(func(day time.Time, pnl float64) {
			snap := store.EquitySnapshot{Time: day, Equity: rm.State().Equity, DayPnL: pnl}
			if err := st.RecordEquity(snap); err != nil {
				observ.Error("day_roll_snapshot_failed", err, nil)
			}
		})

		a := agent.New(agent.Config{
			Symbol:     b.Symbol,
			BotID:      b.ID,
			Bucket:     b.Bucket,
			Indicators: cfg.Indicators,
		}, nil, b.Params, rm, sup.Guard(b.ID), gk, sup.Engine(b.ID, exec), st, mon)

		sup.AddBot(a)
		if !b.Enabled {
			sup.Disable(b.ID)
		}
	}

	sup.Start(ctx)
	defer sup.Stop()

	go config.Watch(ctx, runConfigPath, cfg.ReloadEvery, func(nc *config.Config) {
		portfolio.SetLimits(nc.Portfolio)
	})

	if runEvolveData != "" {
		window, err := replay.Load(runEvolveData)
		if err != nil {
			return fmt.Errorf("load evolve data: %w", err)
		}
		for _, b := range cfg.Bots {
			ec := cfg.Evolve
			ec.Symbol = b.Symbol
			botID := b.ID
			em := evolve.NewManager(ec, st, window, b.Params, func(p strategies.Params) {
				sup.UpdateParams(runner.ParamsMsg{BotID: botID, Params: p})
			})
			go em.Run(ctx)
		}
	}

	observ.Log("engine_started", map[string]any{
		"bots":   len(cfg.Bots),
		"engine": cfg.Engine,
	})

	switch {
	case runTicksPath != "":
		err = feedCSV(ctx, runTicksPath, sup)
	case cfg.Engine == "binance":
		err = feedBinance(ctx, cfg, sup)
	default:
		return fmt.Errorf("no tick source: pass --ticks or use the binance engine")
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func buildEngine(cfg *config.Config, st *store.SQLite, equity func() float64) (engine.Engine, error) {
	sim := engine.NewSim(cfg.Sim, equity)
	if cfg.Engine == "sim" {
		return sim, nil
	}

	bc := cfg.Binance
	bc.APIKey = os.Getenv("BINANCE_API_KEY")
	bc.SecretKey = os.Getenv("BINANCE_SECRET_KEY")
	if bc.APIKey == "" || bc.SecretKey == "" {
		return nil, fmt.Errorf("binance engine needs BINANCE_API_KEY and BINANCE_SECRET_KEY")
	}
	return engine.NewBinance(bc, st, sim), nil
}

// feedCSV replays a tick file through the supervisor and returns when
// the file is exhausted.
func feedCSV(ctx context.Context, path string, sup *runner.Supervisor) error {
	return replay.CSV(ctx, path, func(r replay.Row) error {
		sup.Dispatch(runner.TickMsg{Symbol: r.Symbol, Price: r.Price, Time: r.Time})
		return nil
	})
}

// feedBinance subscribes each bot's symbol to the book-ticker stream
// and dispatches mid prices until ctx ends.
func feedBinance(ctx context.Context, cfg *config.Config, sup *runner.Supervisor) error {
	for _, b := range cfg.Bots {
		symbol, err := engine.NormalizeSymbol(b.Symbol)
		if err != nil {
			return err
		}
		botSymbol := b.Symbol
		_, stopC, err := binance.WsBookTickerServe(symbol, func(ev *binance.WsBookTickerEvent) {
			msg, ok := bookTickerTick(botSymbol, ev)
			if !ok {
				return
			}
			sup.Dispatch(msg)
		}, func(err error) {
			observ.Error("binance_ws_failed", err, map[string]any{"symbol": symbol})
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
		go func() {
			<-ctx.Done()
			close(stopC)
		}()
	}
	<-ctx.Done()
	return nil
}

// bookTickerTick maps a book-ticker event onto the bot's configured
// symbol. The stream echoes the exchange form ("BTCUSDT") while the
// supervisor routes workers by the config form ("BTC/USDT"), so the
// event's own symbol must not be used for dispatch.
func bookTickerTick(symbol string, ev *binance.WsBookTickerEvent) (runner.TickMsg, bool) {
	bid, err1 := strconv.ParseFloat(ev.BestBidPrice, 64)
	ask, err2 := strconv.ParseFloat(ev.BestAskPrice, 64)
	if err1 != nil || err2 != nil {
		return runner.TickMsg{}, false
	}
	tick := market.Tick{Symbol: symbol, Time: time.Now().UTC(), Bid: bid, Ask: ask}
	return runner.TickMsg{Symbol: tick.Symbol, Price: tick.Mid(), Time: tick.Time}, true
}
