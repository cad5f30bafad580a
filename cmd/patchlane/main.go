// patchlane is an autonomous bug-fix service: it takes free-text bug
// reports, decides which ones an AI agent can fix on its own, and
// turns those into reviewed change requests.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patchlane/patchlane/internal/config"
)

var (
	cfgPath string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "patchlane",
	Short: "Autonomous bug-fix pipeline",
	Long:  `patchlane accepts bug reports, triages them with an AI classification gate, and synthesizes fixes into change requests.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
