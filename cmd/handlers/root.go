package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"storymill/internal/config"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storymill",
		Short: "storymill retrieves, filters, and clusters recent news coverage for a topic.",
		Long: `storymill is the retrieval core of a news research pipeline: it
normalizes a topic into provider-specific queries, fans out to the enabled
connectors, extracts and filters articles under a time budget, and returns
ranked story clusters.

Run a one-shot retrieval with 'storymill research' or expose the pipeline
over HTTP with 'storymill serve'.`,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.storymill.yaml)")

	rootCmd.AddCommand(NewResearchCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	_, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}
