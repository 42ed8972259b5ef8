package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/evobot/config"
	"github.com/rustyeddy/evobot/evolve"
	"github.com/rustyeddy/evobot/replay"
	"github.com/rustyeddy/evobot/store"
	"github.com/rustyeddy/evobot/strategies"
)

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Run parameter evolution offline",
	Long: `Fork the configured strategy parameters, score every child over a
replayed tick window, and report (and persist) the generation's result.
Repeats for --generations rounds; each promoted child becomes the next
round's parent.

Example:
  evobot evolve -f evobot.yaml --ticks data/eurusd.csv --generations 3`,
	RunE: runEvolve,
}

var (
	evolveConfigPath  string
	evolveTicks       string
	evolveGenerations int
)

func init() {
	rootCmd.AddCommand(evolveCmd)

	evolveCmd.Flags().StringVarP(&evolveConfigPath, "config", "f", "", "path to config file")
	evolveCmd.Flags().StringVar(&evolveTicks, "ticks", "", "CSV tick window (required)")
	evolveCmd.Flags().IntVar(&evolveGenerations, "generations", 1, "rounds to run")
	evolveCmd.MarkFlagRequired("ticks")
}

func runEvolve(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if evolveConfigPath != "" {
		var err error
		cfg, err = config.Load(evolveConfigPath)
		if err != nil {
			return err
		}
	}

	window, err := replay.Load(evolveTicks)
	if err != nil {
		return err
	}

	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	parent := strategies.DefaultParams()
	symbol := cfg.Evolve.Symbol
	if len(cfg.Bots) > 0 {
		parent = cfg.Bots[0].Params
		if symbol == "" {
			symbol = cfg.Bots[0].Symbol
		}
	}
	ec := cfg.Evolve
	ec.Symbol = symbol

	m := evolve.NewManager(ec, st, window, parent, nil)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for g := 0; g < evolveGenerations; g++ {
		winner, err := m.RunGeneration(ctx)
		if err != nil {
			return err
		}
		if winner == nil {
			fmt.Printf("Generation %d: no child beat the parent\n", g+1)
			continue
		}
		fmt.Printf("Generation %d: promoted %s (sharpe %.3f, drawdown %.2f, %d trades)\n",
			g+1, winner.ID, winner.Score.Sharpe, winner.Score.Drawdown, winner.Score.Trades)
	}

	p := m.Parent()
	fmt.Printf("Final params: risk %.2f%%, stop %.2f ATR, target %.2fR, rsi %.0f/%.0f, adx %.0f\n",
		p.RiskPct, p.StopATR, p.TargetRR, p.RSIBuy, p.RSISell, p.ADXMin)
	return nil
}
