// Package cli provides the command-line interface for atomai.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/atom-ai/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	apiKey    string
	asUser    string
	verbose   bool

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "atomai",
	Short: "AI tooling for an AtoM archival catalog",
	Long: `atomai drives the AI plugin server of an AtoM catalog: batch jobs for
entity extraction, summaries, translation, spell checking and OCR, review of
extracted entities and description suggestions, form templates and reports.

The server address comes from --server or ATOMAI_SERVER_URL.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		apiClient = client.New(serverURL)
		if apiKey != "" {
			apiClient.WithAPIKey(apiKey)
		}
		if asUser != "" {
			apiClient.WithUser(asUser)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Commands see ctx through cmd.Context().
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $ATOMAI_SERVER_URL or http://localhost:8484)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default $ATOMAI_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&asUser, "user", "", "AtoM user to act as (default $ATOMAI_USER)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(nerCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(formsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statusCmd)
}

// interactive reports whether stdout is a terminal that can host the progress UI.
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes)\n", path, len(data))
	return nil
}
