package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arbiterlabs/flasharb/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("configuration is valid: %d venues, %d tokens, chain %d\n",
			len(cfg.Venues), len(cfg.Tokens), cfg.ChainID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
