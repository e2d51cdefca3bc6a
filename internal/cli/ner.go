package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

var (
	summarizePreview bool
	reviewLimit      int
	onlyTypes        []string
)

var nerCmd = &cobra.Command{
	Use:   "ner",
	Short: "Extract and review named entities",
	Long: `Extract people, organizations, places and dates from a description and
review the pending entities.

Examples:
  atomai ner extract 4711
  atomai ner entities 4711
  atomai ner accept 4711 --types PERSON,ORG
  atomai ner reject 4711
  atomai ner review`,
}

var nerExtractCmd = &cobra.Command{
	Use:   "extract <object-id>",
	Short: "Run entity extraction on one description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := objectArg(args[0])
		if err != nil {
			return err
		}
		res, err := apiClient.Extract(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("extract entities: %w", err)
		}
		fmt.Printf("Extracted %d entities from %d in %dms (%s)\n", res.EntityCount, res.ObjectID, res.ProcessingTimeMs, res.Source)
		for _, typ := range sortedKeys(res.Entities) {
			fmt.Printf("  %-6s %s\n", typ, strings.Join(res.Entities[typ], "; "))
		}
		return nil
	},
}

var nerEntitiesCmd = &cobra.Command{
	Use:   "entities <object-id>",
	Short: "Show pending entities with their match candidates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := objectArg(args[0])
		if err != nil {
			return err
		}
		groups, err := apiClient.Entities(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("list entities: %w", err)
		}
		if len(groups) == 0 {
			fmt.Println("No pending entities")
			return nil
		}
		for _, typ := range sortedKeys(groups) {
			fmt.Printf("%s:\n", typ)
			for _, item := range groups[typ] {
				fmt.Printf("  %-10s %-40s -> %s\n", item.ID, truncateText(item.Value, 40), describeDecision(item.Suggested))
				for _, m := range item.ExactMatches {
					fmt.Printf("      exact   #%d %s\n", m.ID, m.Name)
				}
				if verbose {
					for _, m := range item.PartialMatches {
						fmt.Printf("      partial #%d %s\n", m.ID, m.Name)
					}
				}
			}
		}
		return nil
	},
}

var nerSummarizeCmd = &cobra.Command{
	Use:   "summarize <object-id>",
	Short: "Generate a scope and content summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := objectArg(args[0])
		if err != nil {
			return err
		}
		res, err := apiClient.Summarize(cmd.Context(), id, !summarizePreview)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}
		fmt.Println(res.Summary)
		fmt.Println()
		state := "preview only"
		if res.Saved {
			state = "saved to scope and content"
		}
		fmt.Printf("%d of %d characters, %dms, %s\n", res.SummaryLength, res.OriginalLength, res.ProcessingTimeMs, state)
		return nil
	},
}

var nerReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List descriptions with entities awaiting review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		objects, err := apiClient.NERReviewQueue(cmd.Context(), reviewLimit)
		if err != nil {
			return fmt.Errorf("review queue: %w", err)
		}
		if len(objects) == 0 {
			fmt.Println("Nothing to review")
			return nil
		}
		fmt.Printf("%-10s %-8s %s\n", "OBJECT", "PENDING", "TITLE")
		fmt.Println(strings.Repeat("-", 60))
		for _, o := range objects {
			fmt.Printf("%-10d %-8d %s\n", o.ObjectID, o.Count, truncateText(o.Title, 50))
		}
		return nil
	},
}

var nerAcceptCmd = &cobra.Command{
	Use:   "accept <object-id>",
	Short: "Apply the preselected decision to every pending entity",
	Long: `Apply the preselected review decision to every pending entity of a
description: link to the single exact match, create a date event, or create
a new access point when nothing matches.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkDecide(cmd, args[0], func(item service.ReviewItem) models.Decision {
			return item.Suggested
		})
	},
}

var nerRejectCmd = &cobra.Command{
	Use:   "reject <object-id>",
	Short: "Reject every pending entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bulkDecide(cmd, args[0], func(item service.ReviewItem) models.Decision {
			return models.Decision{EntityID: item.ID, Action: models.DecisionReject}
		})
	},
}

func init() {
	nerSummarizeCmd.Flags().BoolVar(&summarizePreview, "preview", false, "do not save the summary")
	nerReviewCmd.Flags().IntVarP(&reviewLimit, "limit", "l", 20, "maximum descriptions")
	nerAcceptCmd.Flags().StringSliceVar(&onlyTypes, "types", nil, "only entities of these types")
	nerRejectCmd.Flags().StringSliceVar(&onlyTypes, "types", nil, "only entities of these types")

	nerCmd.AddCommand(nerExtractCmd, nerEntitiesCmd, nerSummarizeCmd, nerReviewCmd, nerAcceptCmd, nerRejectCmd)
}

// bulkDecide submits one decision per pending entity and prints the tally.
func bulkDecide(cmd *cobra.Command, arg string, decide func(service.ReviewItem) models.Decision) error {
	id, err := objectArg(arg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	groups, err := apiClient.Entities(ctx, id)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}

	var decisions []models.Decision
	for _, typ := range sortedKeys(groups) {
		if len(onlyTypes) > 0 && !slices.Contains(onlyTypes, typ) {
			continue
		}
		for _, item := range groups[typ] {
			decisions = append(decisions, decide(item))
		}
	}
	if len(decisions) == 0 {
		fmt.Println("No pending entities")
		return nil
	}

	res := apiClient.BulkSave(ctx, decisions)
	fmt.Printf("Saved %d decisions, %d failed\n", res.Success, res.Failed)
	for _, e := range res.Errors {
		fmt.Printf("  - %s\n", e)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d decisions failed", res.Failed)
	}
	return nil
}

func describeDecision(d models.Decision) string {
	switch d.Action {
	case models.DecisionLink:
		return fmt.Sprintf("link #%d", d.TargetID)
	case models.DecisionCreate:
		return d.CreateType
	default:
		return d.Action
	}
}

func objectArg(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid object id %q", s)
	}
	return id, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
