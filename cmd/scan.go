package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/cmd/bot"
	"github.com/arbiterlabs/flasharb/config"
	"github.com/arbiterlabs/flasharb/utils"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one discovery pass and print the candidates without executing",
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

		candidates := engine.ScanOnce(cmd.Context())
		if len(candidates) == 0 {
			fmt.Println("no candidates found")
			return nil
		}
		for _, opp := range candidates {
			fmt.Printf("%d-hop via %s: spread %d bps, raw profit %s wei\n",
				opp.Path.Hops(), strings.Join(opp.Venues, " -> "),
				opp.SpreadBps, opp.RawProfit)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
