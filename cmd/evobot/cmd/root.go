package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "evobot",
	Short: "A self-tuning multi-asset trading engine",
	Long: `Evobot runs one trading bot per symbol: ticks become candles,
candles feed a streaming indicator cache, prioritized strategies turn
indicator state into trade ideas, and every idea passes a risk/reward
filter, a portfolio circuit breaker and an ML approval gate before it
is sized and executed.

A background evolution loop forks the live strategy parameters, scores
the children over replayed data and promotes the best survivor.

Commands:
  run      - trade live or against a tick file
  replay   - backtest one symbol over a CSV of ticks
  evolve   - run parameter evolution offline
  config   - write a starter configuration file
  version  - print the version`,
}

// Execute runs the root command tree.
func Execute() error {
	return rootCmd.Execute()
}
