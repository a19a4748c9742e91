package handlers

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"storymill/internal/config"
	"storymill/internal/emit"
	"storymill/internal/pipeline"
	"storymill/internal/query"
)

// NewResearchCmd creates the one-shot research command.
func NewResearchCmd() *cobra.Command {
	var (
		recencyHours int
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "research [topic]",
		Short: "Run one retrieval pass and print the resulting story clusters",
		Long: `Run the full retrieval pipeline for a topic from the command line:
query normalization, connector fan-out, extraction, filtering, ranking, and
clustering.

Examples:
  # Retrieve the last 24 hours of coverage
  storymill research "chip export controls"

  # Widen the lookback window
  storymill research "chip export controls" --recency-hours 72

  # Emit the raw result as JSON
  storymill research "chip export controls" --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cmd, args[0], recencyHours, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&recencyHours, "recency-hours", 0, "Lookback window in hours (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")

	return cmd
}

func runResearch(cmd *cobra.Command, topic string, recencyHours int, jsonOutput bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	orch, err := pipeline.Build(cfg, pipeline.RunOverrides{RecencyHours: recencyHours}, pipeline.NewSharedCache(cfg), emit.NopEmitter{})
	if err != nil {
		return err
	}

	result, err := orch.Run(cmd.Context(), topic, query.Overrides{})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Run %s: %d articles, %d clusters\n\n", result.RunID, len(result.Articles), len(result.Clusters))
	for i, cluster := range result.Clusters {
		fmt.Printf("%d. %s (score %.4f, %d members)\n", i+1, cluster.Representative.Title, cluster.Score, len(cluster.Members))
		for _, citation := range cluster.Citations {
			fmt.Printf("   - %s\n     %s\n", citation.Title, citation.URL)
		}
		fmt.Println()
	}

	metrics, err := json.MarshalIndent(result.Metrics, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("Metrics:\n%s\n", metrics)
	return nil
}
