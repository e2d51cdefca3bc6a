package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

var (
	suggestEditFile string
	suggestNotes    string
	suggestStatus   string
	suggestLimit    int
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Draft and review scope and content suggestions",
	Long: `Draft a scope and content description with the LLM and approve, edit or
reject it.

Examples:
  atomai suggest generate 4711
  atomai suggest show 1a2b3c4d
  atomai suggest approve 1a2b3c4d --edit draft.txt --notes "fixed dates"
  atomai suggest reject 1a2b3c4d
  atomai suggest list --status pending`,
}

var suggestGenerateCmd = &cobra.Command{
	Use:   "generate <object-id>",
	Short: "Generate a suggestion for one description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := objectArg(args[0])
		if err != nil {
			return err
		}
		res, err := apiClient.Suggest(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("generate suggestion: %w", err)
		}
		fmt.Printf("Suggestion %s (template %s, %s, %d tokens, %dms)\n\n",
			res.SuggestionID, res.TemplateName, res.ModelUsed, res.TokensUsed, res.GenerationTimeMs)
		fmt.Println(res.SuggestedText)
		return nil
	},
}

var suggestShowCmd = &cobra.Command{
	Use:   "show <suggestion-id>",
	Short: "Show a suggestion next to the current text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := apiClient.ViewSuggestion(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get suggestion: %w", err)
		}
		s := v.Suggestion
		fmt.Printf("Suggestion: %s\n", s.ID)
		fmt.Printf("  Object: %d %s (%s)\n", s.ObjectID, v.ObjectTitle, v.ObjectSlug)
		fmt.Printf("  Status: %s\n", s.Status)
		fmt.Printf("  Template: %s, model %s, %d tokens\n", s.TemplateName, s.ModelUsed, s.TokensUsed)
		if s.HasOCR {
			fmt.Println("  Includes OCR text")
		}
		fmt.Printf("  Created: %s\n", s.CreatedAt.Format(time.RFC3339))
		if s.ReviewedAt != nil {
			fmt.Printf("  Reviewed: %s by %s\n", s.ReviewedAt.Format(time.RFC3339), s.ReviewedBy)
		}
		if s.ExistingText != "" {
			fmt.Printf("\nCurrent:\n%s\n", s.ExistingText)
		}
		fmt.Printf("\nSuggested:\n%s\n", s.SuggestedText)
		if s.EditedText != "" {
			fmt.Printf("\nEdited:\n%s\n", s.EditedText)
		}
		return nil
	},
}

var suggestApproveCmd = &cobra.Command{
	Use:   "approve <suggestion-id>",
	Short: "Approve a suggestion and write it to the description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.DecisionRequest{Decision: "approve", Notes: suggestNotes}
		if suggestEditFile != "" {
			data, err := os.ReadFile(suggestEditFile)
			if err != nil {
				return fmt.Errorf("read edited text: %w", err)
			}
			req.EditedText = strings.TrimSpace(string(data))
		}
		return decide(cmd, args[0], req)
	},
}

var suggestRejectCmd = &cobra.Command{
	Use:   "reject <suggestion-id>",
	Short: "Reject a suggestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], service.DecisionRequest{Decision: "reject", Notes: suggestNotes})
	},
}

var suggestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suggestions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient.ListSuggestions(cmd.Context(), models.SuggestionStatus(suggestStatus), suggestLimit)
		if err != nil {
			return fmt.Errorf("list suggestions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No suggestions found")
			return nil
		}
		fmt.Printf("%-10s %-10s %-10s %-14s %s\n", "ID", "OBJECT", "STATUS", "TEMPLATE", "TEXT")
		fmt.Println(strings.Repeat("-", 84))
		for _, s := range list {
			fmt.Printf("%-10s %-10d %-10s %-14s %s\n",
				s.ID, s.ObjectID, s.Status, truncateText(s.TemplateName, 14), truncateText(s.SuggestedText, 36))
		}
		return nil
	},
}

var suggestStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show suggestion outcome statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := apiClient.SuggestionStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("suggestion stats: %w", err)
		}
		fmt.Printf("Suggestions: %d\n", st.Total)
		fmt.Printf("  pending %d, approved %d, edited %d, rejected %d\n", st.Pending, st.Approved, st.Edited, st.Rejected)
		fmt.Printf("  tokens %d, avg generation %.0fms\n", st.TotalTokens, st.AvgGenerationTime)
		return nil
	},
}

func init() {
	suggestApproveCmd.Flags().StringVar(&suggestEditFile, "edit", "", "file with the edited text to save instead")
	suggestApproveCmd.Flags().StringVar(&suggestNotes, "notes", "", "review notes")
	suggestRejectCmd.Flags().StringVar(&suggestNotes, "notes", "", "review notes")
	suggestListCmd.Flags().StringVarP(&suggestStatus, "status", "s", "", "filter by status")
	suggestListCmd.Flags().IntVarP(&suggestLimit, "limit", "l", 50, "maximum suggestions")

	suggestCmd.AddCommand(suggestGenerateCmd, suggestShowCmd, suggestApproveCmd, suggestRejectCmd, suggestListCmd, suggestStatsCmd)
}

func decide(cmd *cobra.Command, id string, req service.DecisionRequest) error {
	status, err := apiClient.Decide(cmd.Context(), id, req)
	if err != nil {
		return fmt.Errorf("%s suggestion: %w", req.Decision, err)
	}
	fmt.Printf("Suggestion %s %s\n", id, status)
	return nil
}
