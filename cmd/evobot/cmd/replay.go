package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/evobot/agent"
	"github.com/rustyeddy/evobot/engine"
	"github.com/rustyeddy/evobot/gate"
	"github.com/rustyeddy/evobot/replay"
	"github.com/rustyeddy/evobot/risk"
	"github.com/rustyeddy/evobot/store"
	"github.com/rustyeddy/evobot/strategies"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Backtest one symbol over a CSV tick file",
	Long: `Replay a recorded tick file through the full decision stack with
the sim engine and print a result summary.

CSV formats: time,symbol,price or time,symbol,bid,ask (RFC3339 times,
optional header row).

Example:
  evobot replay --ticks data/eurusd.csv --symbol EURUSD --equity 10000`,
	RunE: runReplay,
}

var (
	replayTicks  string
	replaySymbol string
	replayEquity float64
	replayBucket time.Duration
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayTicks, "ticks", "", "CSV tick file (required)")
	replayCmd.Flags().StringVar(&replaySymbol, "symbol", "EURUSD", "symbol to trade")
	replayCmd.Flags().Float64Var(&replayEquity, "equity", 10000, "starting equity")
	replayCmd.Flags().DurationVar(&replayBucket, "bucket", time.Minute, "candle bucket size")
	replayCmd.MarkFlagRequired("ticks")
}

type replayJournal struct {
	trades []store.TradeRecord
}

func (j *replayJournal) RecordTrade(t store.TradeRecord) error {
	j.trades = append(j.trades, t)
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rm := risk.NewManager(replayEquity, risk.DefaultLimits())
	sim := engine.NewSim(engine.DefaultSimConfig(), func() float64 { return replayEquity })
	journal := &replayJournal{}
	gk := gate.New(gate.Config{Enabled: false}, nil, nil, nil)

	a := agent.New(agent.Config{
		Symbol: replaySymbol,
		BotID:  "replay-" + replaySymbol,
		Bucket: replayBucket,
	}, nil, strategies.DefaultParams(), rm, nil, gk, sim, journal, nil)

	ticks := 0
	err := replay.CSV(ctx, replayTicks, func(r replay.Row) error {
		if r.Symbol != replaySymbol {
			return nil
		}
		ticks++
		a.OnTick(ctx, r.Price, r.Time)
		return nil
	})
	if err != nil {
		return err
	}

	wins, pnl, fees := 0, 0.0, 0.0
	for _, t := range journal.trades {
		pnl += t.Realized
		fees += t.Fee
		if t.Realized > 0 {
			wins++
		}
	}

	st := rm.State()
	fmt.Printf("Replay %s: %d ticks\n", replaySymbol, ticks)
	fmt.Printf("  Trades:   %d (%d wins)\n", len(journal.trades), wins)
	fmt.Printf("  Realized: %.2f (fees %.2f)\n", pnl, fees)
	fmt.Printf("  Equity:   %.2f -> %.2f\n", replayEquity, st.Equity)
	if a.HasOpenPosition() {
		fmt.Println("  Note: one position still open at end of data")
	}
	return nil
}
