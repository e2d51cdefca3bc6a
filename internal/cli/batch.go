package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/atom-ai/internal/models"
	"github.com/raphaelgruber/atom-ai/internal/service"
)

var (
	batchName           string
	batchDescription    string
	batchTasks          []string
	batchObjects        []string
	batchRepository     int64
	batchLimit          int
	batchEmptyScopeOnly bool
	batchMaxConcurrent  int
	batchDelayMs        int
	batchRetries        int
	batchPriority       int
	batchTargetCulture  string
	batchStart          bool
	batchWatch          bool

	batchStatusFilter string
	batchListLimit    int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Create and control AI batch jobs",
	Long: `Create batches of AI jobs over catalog descriptions and control their lifecycle.

Examples:
  atomai batch create --name "Fonds 12 NER" --tasks ner,summarize --repository 12 --start --watch
  atomai batch list --status running
  atomai batch show abc12345
  atomai batch pause abc12345
  atomai batch retry abc12345`,
}

var batchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a batch over selected descriptions",
	Long: `Create a batch with one job per selected description and task type.

Descriptions are selected by explicit ids (--objects) or by repository
(--repository), optionally restricted to descriptions without a scope and
content text (--empty-scope-only).`,
	Args: cobra.NoArgs,
	RunE: runBatchCreate,
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batches",
	Args:  cobra.NoArgs,
	RunE:  runBatchList,
}

var batchShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show batch details and job statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchShow,
}

var batchJobsCmd = &cobra.Command{
	Use:   "jobs <batch-id>",
	Short: "List the jobs of a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchJobs,
}

var batchLogCmd = &cobra.Command{
	Use:   "log <batch-id>",
	Short: "Show the activity log of a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchLog,
}

var batchDeleteCmd = &cobra.Command{
	Use:   "delete <batch-id>",
	Short: "Delete a batch with its jobs and log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.DeleteBatch(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
		fmt.Printf("Deleted batch %s\n", args[0])
		return nil
	},
}

var batchWatchCmd = &cobra.Command{
	Use:   "watch <batch-id>",
	Short: "Follow batch progress until it settles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunBatchProgress(cmd.Context(), apiClient, args[0])
	},
}

var batchTaskTypesCmd = &cobra.Command{
	Use:   "task-types",
	Short: "List the supported task types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := apiClient.TaskTypes(cmd.Context())
		if err != nil {
			return fmt.Errorf("list task types: %w", err)
		}
		for _, t := range types {
			fmt.Printf("%-12s %-26s %s\n", t.Type, t.Label, t.Description)
		}
		return nil
	},
}

// actionCmd builds one lifecycle action subcommand.
func actionCmd(action models.BatchAction, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(action) + " <batch-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := apiClient.BatchAction(cmd.Context(), args[0], action)
			if err != nil {
				return fmt.Errorf("%s batch: %w", action, err)
			}
			fmt.Printf("Batch %s is now %s\n", view.ID, view.Status)
			if batchWatch && !view.Status.Terminal() {
				return RunBatchProgress(cmd.Context(), apiClient, view.ID)
			}
			return nil
		},
	}
	if action != models.ActionCancel && action != models.ActionPause {
		cmd.Flags().BoolVarP(&batchWatch, "watch", "w", false, "follow progress afterwards")
	}
	return cmd
}

func init() {
	f := batchCreateCmd.Flags()
	f.StringVarP(&batchName, "name", "n", "", "batch name (required)")
	f.StringVar(&batchDescription, "description", "", "batch description")
	f.StringSliceVarP(&batchTasks, "tasks", "t", []string{string(models.TaskNER)}, "task types (ner, summarize, suggest, translate, spellcheck, ocr)")
	f.StringSliceVar(&batchObjects, "objects", nil, "description ids")
	f.Int64Var(&batchRepository, "repository", 0, "select every description of this repository")
	f.IntVar(&batchLimit, "limit", 0, "maximum number of descriptions")
	f.BoolVar(&batchEmptyScopeOnly, "empty-scope-only", false, "only descriptions without scope and content")
	f.IntVar(&batchMaxConcurrent, "max-concurrent", 0, "parallel jobs for this batch (server default when 0)")
	f.IntVar(&batchDelayMs, "delay", -1, "delay between jobs in milliseconds")
	f.IntVar(&batchRetries, "retries", -1, "retries per failed job")
	f.IntVar(&batchPriority, "priority", 0, "priority 1 (highest) to 10")
	f.StringVar(&batchTargetCulture, "target-culture", "", "target culture for translation jobs")
	f.BoolVar(&batchStart, "start", false, "start the batch right away")
	f.BoolVarP(&batchWatch, "watch", "w", false, "follow progress after starting")
	_ = batchCreateCmd.MarkFlagRequired("name")

	batchListCmd.Flags().StringVarP(&batchStatusFilter, "status", "s", "", "filter by status")
	batchListCmd.Flags().IntVarP(&batchListLimit, "limit", "l", 50, "maximum batches")
	batchJobsCmd.Flags().StringVarP(&batchStatusFilter, "status", "s", "", "filter by job status")
	batchJobsCmd.Flags().IntVarP(&batchListLimit, "limit", "l", 100, "maximum jobs")
	batchLogCmd.Flags().IntVarP(&batchListLimit, "limit", "l", 50, "maximum entries")

	batchCmd.AddCommand(batchCreateCmd, batchListCmd, batchShowCmd, batchJobsCmd, batchLogCmd,
		batchDeleteCmd, batchWatchCmd, batchTaskTypesCmd,
		actionCmd(models.ActionStart, "Start a pending batch"),
		actionCmd(models.ActionPause, "Pause a running batch"),
		actionCmd(models.ActionResume, "Resume a paused batch"),
		actionCmd(models.ActionCancel, "Cancel a batch"),
		actionCmd(models.ActionRetry, "Retry the failed jobs of a batch"),
	)
}

// buildCreateRequest turns the create flags into a request.
func buildCreateRequest() (service.CreateBatchRequest, error) {
	req := service.CreateBatchRequest{
		Name:           batchName,
		Description:    batchDescription,
		Limit:          batchLimit,
		EmptyScopeOnly: batchEmptyScopeOnly,
		AutoStart:      batchStart,
	}
	for _, t := range batchTasks {
		tt := models.TaskType(strings.TrimSpace(t))
		if !models.ValidTaskType(tt) {
			return req, fmt.Errorf("unknown task type %q", t)
		}
		req.TaskTypes = append(req.TaskTypes, tt)
	}
	ids, err := parseIDs(batchObjects)
	if err != nil {
		return req, err
	}
	req.ObjectIDs = ids
	if batchRepository > 0 {
		req.RepositoryID = &batchRepository
	}
	if len(req.ObjectIDs) == 0 && req.RepositoryID == nil {
		return req, fmt.Errorf("select descriptions with --objects or --repository")
	}
	if batchMaxConcurrent > 0 {
		req.MaxConcurrent = &batchMaxConcurrent
	}
	if batchDelayMs >= 0 {
		req.DelayBetweenMs = &batchDelayMs
	}
	if batchRetries >= 0 {
		req.MaxRetries = &batchRetries
	}
	if batchPriority > 0 {
		req.Priority = &batchPriority
	}
	if batchTargetCulture != "" {
		req.Options = map[string]any{"target_culture": batchTargetCulture}
	}
	return req, nil
}

func parseIDs(values []string) ([]int64, error) {
	var ids []int64
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid description id %q", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runBatchCreate(cmd *cobra.Command, args []string) error {
	req, err := buildCreateRequest()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	id, err := apiClient.CreateBatch(ctx, req)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	fmt.Printf("Created batch %s\n", id)
	if !req.AutoStart {
		fmt.Printf("Start it with 'atomai batch start %s'\n", id)
		return nil
	}
	if batchWatch {
		return RunBatchProgress(ctx, apiClient, id)
	}
	return nil
}

func runBatchList(cmd *cobra.Command, args []string) error {
	batches, err := apiClient.ListBatches(cmd.Context(), models.BatchStatus(batchStatusFilter), batchListLimit)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	if len(batches) == 0 {
		fmt.Println("No batches found")
		return nil
	}

	fmt.Printf("%-10s %-28s %-10s %-12s %-8s %s\n", "ID", "NAME", "STATUS", "PROGRESS", "FAILED", "CREATED")
	fmt.Println(strings.Repeat("-", 84))
	for _, b := range batches {
		progress := fmt.Sprintf("%d/%d", b.CompletedItems, b.TotalItems)
		fmt.Printf("%-10s %-28s %-10s %-12s %-8d %s\n",
			b.ID, truncateText(b.Name, 28), b.Status, progress, b.FailedItems, b.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runBatchShow(cmd *cobra.Command, args []string) error {
	d, err := apiClient.GetBatch(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get batch: %w", err)
	}

	fmt.Printf("Batch: %s\n", d.ID)
	fmt.Printf("  Name: %s\n", d.Name)
	if d.Description != "" {
		fmt.Printf("  Description: %s\n", d.Description)
	}
	fmt.Printf("  Status: %s\n", d.Status)
	fmt.Printf("  Tasks: %s\n", joinTasks(d.TaskTypes))
	fmt.Printf("  Progress: %d/%d (%.2f%%), %d failed\n", d.CompletedItems, d.TotalItems, d.ProgressPercent, d.FailedItems)
	fmt.Printf("  Priority: %d, max concurrent %d, delay %dms, retries %d\n",
		d.Priority, d.MaxConcurrent, d.DelayBetweenMs, d.MaxRetries)
	if d.CreatedBy != "" {
		fmt.Printf("  Created by: %s\n", d.CreatedBy)
	}
	fmt.Printf("  Created: %s\n", d.CreatedAt.Format(time.RFC3339))
	if d.StartedAt != nil {
		fmt.Printf("  Started: %s\n", d.StartedAt.Format(time.RFC3339))
	}
	if d.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", d.CompletedAt.Format(time.RFC3339))
		if d.StartedAt != nil {
			fmt.Printf("  Duration: %s\n", d.CompletedAt.Sub(*d.StartedAt).Round(time.Second))
		}
	}
	if len(d.AllowedActions) > 0 {
		actions := make([]string, len(d.AllowedActions))
		for i, a := range d.AllowedActions {
			actions[i] = string(a)
		}
		fmt.Printf("  Actions: %s\n", strings.Join(actions, ", "))
	}

	s := d.Stats
	fmt.Println("\nJobs:")
	fmt.Printf("  pending %d, queued %d, running %d\n", s.Pending, s.Queued, s.Running)
	fmt.Printf("  completed %d, failed %d, skipped %d, cancelled %d\n", s.Completed, s.Failed, s.Skipped, s.Cancelled)
	if s.AvgProcessingTimeMs > 0 {
		fmt.Printf("  avg processing time %dms\n", s.AvgProcessingTimeMs)
	}
	if len(s.ByTaskType) > 0 {
		fmt.Println("\nBy task type:")
		for _, t := range d.TaskTypes {
			if ts, ok := s.ByTaskType[t]; ok {
				fmt.Printf("  %-12s %d/%d\n", t, ts.Completed, ts.Count)
			}
		}
	}
	return nil
}

func runBatchJobs(cmd *cobra.Command, args []string) error {
	jobs, err := apiClient.Jobs(cmd.Context(), args[0], models.JobStatus(batchStatusFilter), batchListLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-10s %-12s %-10s %-8s %-8s %s\n", "ID", "OBJECT", "TASK", "STATUS", "TRIES", "TIME", "ERROR")
	fmt.Println(strings.Repeat("-", 84))
	for _, j := range jobs {
		elapsed := ""
		if j.ProcessingTimeMs > 0 {
			elapsed = fmt.Sprintf("%dms", j.ProcessingTimeMs)
		}
		fmt.Printf("%-10s %-10d %-12s %-10s %-8d %-8s %s\n",
			j.ID, j.ObjectID, j.TaskType, j.Status, j.AttemptCount, elapsed, truncateText(j.ErrorMessage, 40))
	}
	return nil
}

func runBatchLog(cmd *cobra.Command, args []string) error {
	entries, err := apiClient.Log(cmd.Context(), args[0], batchListLimit)
	if err != nil {
		return fmt.Errorf("batch log: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No log entries")
		return nil
	}
	for _, e := range entries {
		job := ""
		if e.JobID != "" {
			job = " [" + e.JobID + "]"
		}
		fmt.Printf("%s %-16s%s %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.EventType, job, e.Message)
	}
	return nil
}

func joinTasks(types []models.TaskType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func truncateText(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
