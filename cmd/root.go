package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arbiterlabs/flasharb/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "A flash-loan arbitrage engine for AMM venues",
	Long: `flasharb scans constant-product, concentrated-liquidity and weighted-pool
venues for closed-loop price discrepancies, validates them against gas and
slippage, and executes the survivors atomically through a flash loan.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flasharb.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
