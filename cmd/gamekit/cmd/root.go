// Package cmd provides the command-line interface for gamekit.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "gamekit",
	Short: "Gamekit CLI tool can run and inspect event-driven game loop " +
		"setups built with gamekit.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Missing .env files are fine; flags win over the environment.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
