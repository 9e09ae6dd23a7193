package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/cmd/bot"
	"github.com/arbiterlabs/flasharb/config"
	"github.com/arbiterlabs/flasharb/utils"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the arbitrage engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		if err := config.LoadEnv(); err != nil {
			log.Warn("could not load .env file", zap.Error(err))
		}

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		sec, err := config.LoadSecureConfig()
		if err != nil {
			return err
		}

		engine, err := bot.New(cfg, sec, log)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := engine.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		engine.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
