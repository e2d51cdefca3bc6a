package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/atom-ai/internal/metrics"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show LLM health and server statistics",
	Long: `Check that the configured LLM answers and show the in-memory runtime
statistics of the server: LLM calls with token counts, store queries and job
timings per task type.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	health, err := apiClient.LLMHealth(ctx)
	if err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	if health.Healthy {
		fmt.Println(defaultTheme.completedStyle().Render("✓ LLM healthy"))
	} else {
		fmt.Println(defaultTheme.errorStyle().Render("✗ LLM unavailable"))
	}
	fmt.Printf("  Provider: %s, model %s, latency %dms\n", health.Provider, health.Model, health.LatencyMs)
	if health.Error != "" {
		fmt.Printf("  Error: %s\n", health.Error)
	}
	fmt.Println()

	snap, err := apiClient.Metrics(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(snap)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(s *metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %s\n", (time.Duration(s.UptimeSeconds) * time.Second).String())

	if s.LLMGenerate != nil {
		fmt.Printf("\nLLM Generate:\n")
		printOpStats(s.LLMGenerate)
		printTokenStats(s.LLMGenerate)
	}

	if s.DBQuery != nil {
		fmt.Printf("\nJob Store:\n")
		printOpStats(s.DBQuery)
	}

	if s.CatalogQuery != nil {
		fmt.Printf("\nCatalog:\n")
		printOpStats(s.CatalogQuery)
	}

	if len(s.Jobs) > 0 {
		fmt.Printf("\nJobs:\n")
		for _, task := range sortedKeys(s.Jobs) {
			fmt.Printf("  %s\n", task)
			printOpStats(s.Jobs[task])
		}
	}

	if len(s.JobOutcomes) > 0 {
		fmt.Printf("\nJob Outcomes:\n")
		for _, outcome := range sortedKeys(s.JobOutcomes) {
			fmt.Printf("  %-12s %d\n", outcome, s.JobOutcomes[outcome])
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Println()
}
