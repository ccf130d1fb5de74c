// Package cli implements the orc-change command-line interface: a cobra
// command tree wiring the engine to flags, viper-bound environment
// variables, and huh-backed interactive prompts (SPEC_FULL.md §4.9).
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	jsonOut     bool
	noninterFlg bool
)

// rootCmd is the base command when invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:           "orc-change",
	Short:         "Fixed 13-step change-management workflow engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noninterFlg, "no-interactive", false, "disable prompts, resume by default")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newResumeCmd())
}

// initConfig binds the recognized WORKFLOW_* environment variables
// (spec.md §6) ahead of per-command flag parsing.
func initConfig() {
	viper.SetEnvPrefix("WORKFLOW")
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		_ = viper.ReadInConfig()
	}
}
