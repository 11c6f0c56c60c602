// Package cmd is the composition root: it loads configuration, wires the
// Structured Logging Sink, Storage, LLM Gateway, Vector Store, Message
// Tracker, Episodic ETL Service, and Action Dispatcher into one running
// process, and exposes a small cobra CLI around that lifecycle.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgRoot string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pigpig-core",
	Short: "pigpig-core — Discord conversational assistant core",
	Long: "pigpig-core runs the LLM Gateway, Episodic Memory Pipeline, Action " +
		"Dispatcher, and Structured Logging Sink that back the bot's Discord " +
		"integration.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgRoot, "config", "", "config root directory (default: $CORE_CONFIG_ROOT or ./config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(migrateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pigpig-core %s\n", Version)
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
