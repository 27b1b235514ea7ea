package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/golivy/internal/config"
	"github.com/3leaps/golivy/pkg/taskregistry"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and prune golivy task records",
	Long: `Inspect the task registry: one record per task id, written by 'golivy run'.

Records carry the Livy batch id, the last observed Livy state, the log URL and
attempt counters. Use --json for machine-readable output.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE:  runTasksList,
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status <task_id>",
	Short: "Show the record of one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksStatus,
}

var tasksGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete records of finished tasks",
	RunE:  runTasksGC,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksStatusCmd)
	tasksCmd.AddCommand(tasksGCCmd)

	tasksCmd.PersistentFlags().String("registry-dir", "", "Task registry directory (default: registry.dir or <data dir>/tasks)")
	tasksCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	tasksListCmd.Flags().String("match", "", "Only tasks whose name or id matches this glob (e.g. 'nightly-*', 'etl/**')")
	tasksListCmd.Flags().StringSlice("state", nil, "Only tasks in these states (repeatable or comma-separated)")

	tasksGCCmd.Flags().String("max-age", "", "Delete finished tasks older than this duration (default: registry.gc_max_age)")
	tasksGCCmd.Flags().Bool("dry-run", false, "Show how many tasks would be deleted")
}

func tasksStore(cmd *cobra.Command) (*taskregistry.Store, error) {
	if dir, _ := cmd.Flags().GetString("registry-dir"); strings.TrimSpace(dir) != "" {
		return taskregistry.NewStore(strings.TrimSpace(dir)), nil
	}
	cfg := config.GetConfig()
	if cfg == nil {
		cfg = &config.Config{}
	}
	return openRegistry(cfg)
}

func runTasksList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	match, _ := cmd.Flags().GetString("match")
	states, _ := cmd.Flags().GetStringSlice("state")

	filter := taskregistry.Filter{Match: strings.TrimSpace(match)}
	for _, s := range states {
		if s = strings.TrimSpace(s); s != "" {
			filter.States = append(filter.States, taskregistry.TaskState(strings.ToLower(s)))
		}
	}
	if err := filter.Validate(); err != nil {
		return exitError(exitConfig, "Invalid --match", err)
	}

	store, err := tasksStore(cmd)
	if err != nil {
		return exitError(exitConfig, "Failed to locate task registry", err)
	}
	tasks, err := store.List()
	if err != nil {
		return exitError(exitRead, "Failed to read task registry", err)
	}
	tasks, err = filter.Apply(tasks)
	if err != nil {
		return exitError(exitConfig, "Invalid filter", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return encodeJSON(out, tasks)
	}
	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(out, "No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "TASK ID\tNAME\tSTATE\tBATCH\tLIVY STATE\tATTEMPTS\tSTARTED\tENDED")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.TaskID,
			orDash(t.Name),
			t.State,
			formatBatchID(t.BatchID),
			orDash(t.LivyState),
			t.Attempts,
			formatOptionalTime(t.StartedAt),
			formatOptionalTime(t.EndedAt),
		)
	}
	return nil
}

func runTasksStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := tasksStore(cmd)
	if err != nil {
		return exitError(exitConfig, "Failed to locate task registry", err)
	}
	taskID, err := resolveTaskRecordID(store, args[0])
	if err != nil {
		return exitError(exitConfig, "Unknown task", err)
	}
	rec, err := store.Get(taskID)
	if err != nil {
		return exitError(exitRead, "Failed to read task record", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return encodeJSON(out, rec)
	}

	_, _ = fmt.Fprintf(out, "task_id=%s\n", rec.TaskID)
	if rec.Name != "" {
		_, _ = fmt.Fprintf(out, "name=%s\n", rec.Name)
	}
	_, _ = fmt.Fprintf(out, "state=%s\n", rec.State)
	if rec.Endpoint != "" {
		_, _ = fmt.Fprintf(out, "endpoint=%s\n", rec.Endpoint)
	}
	if rec.BatchID != nil {
		_, _ = fmt.Fprintf(out, "batch_id=%d\n", *rec.BatchID)
	}
	if rec.LivyState != "" {
		_, _ = fmt.Fprintf(out, "livy_state=%s\n", rec.LivyState)
	}
	if rec.AppID != "" {
		_, _ = fmt.Fprintf(out, "app_id=%s\n", rec.AppID)
	}
	if rec.LogURL != "" {
		_, _ = fmt.Fprintf(out, "log_url=%s\n", rec.LogURL)
	}
	_, _ = fmt.Fprintf(out, "attempts=%d\n", rec.Attempts)
	if rec.LastError != "" {
		_, _ = fmt.Fprintf(out, "last_error=%s\n", rec.LastError)
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(out, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.NextAttemptAt != nil {
		_, _ = fmt.Fprintf(out, "next_attempt_at=%s\n", rec.NextAttemptAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

type tasksGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runTasksGC(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	var maxAge time.Duration
	if maxAgeStr == "" {
		if cfg := config.GetConfig(); cfg != nil && cfg.Registry.GCMaxAge > 0 {
			maxAge = cfg.Registry.GCMaxAge
		} else {
			maxAge = 7 * 24 * time.Hour
		}
		maxAgeStr = maxAge.String()
	} else {
		d, err := time.ParseDuration(maxAgeStr)
		if err != nil {
			return exitError(exitConfig, "Invalid --max-age", err)
		}
		maxAge = d
	}
	if maxAge <= 0 {
		return exitError(exitConfig, "Invalid --max-age", fmt.Errorf("--max-age must be > 0"))
	}

	store, err := tasksStore(cmd)
	if err != nil {
		return exitError(exitConfig, "Failed to locate task registry", err)
	}
	n, err := store.GC(maxAge, time.Now().UTC(), dryRun)
	if err != nil {
		return exitError(exitWrite, "Task garbage collection failed", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		res := tasksGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
		if dryRun {
			res.WouldDelete = n
		} else {
			res.Deleted = n
		}
		return encodeJSON(out, res)
	}
	if dryRun {
		_, _ = fmt.Fprintf(out, "would_delete=%d\n", n)
		return nil
	}
	_, _ = fmt.Fprintf(out, "deleted=%d\n", n)
	return nil
}

// resolveTaskRecordID accepts a full task id or an unambiguous prefix.
func resolveTaskRecordID(store *taskregistry.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("task_id is required")
	}
	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	tasks, err := store.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, t := range tasks {
		if strings.HasPrefix(t.TaskID, input) {
			matches = append(matches, t.TaskID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("task not found: %s", input)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("task id prefix is ambiguous (%d matches); use the full task_id", len(matches))
	}
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatBatchID(id *int) string {
	if id == nil {
		return "-"
	}
	return strconv.Itoa(*id)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
