package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/golivy/internal/config"
	"github.com/3leaps/golivy/internal/observability"
	"github.com/3leaps/golivy/pkg/livy"
	"github.com/3leaps/golivy/pkg/operator"
	"github.com/3leaps/golivy/pkg/taskparams"
)

var statusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show the current state of a Livy batch",
	Long: `Fetch a batch from Livy once and print its state.

The endpoint is resolved like 'golivy run' does: --params and --secrets first,
then the livy section of the config file.

Examples:
  golivy status 42
  golivy status 42 --params job.yaml --secrets livy-secrets.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("params", "", "Task params file naming the Livy endpoint")
	statusCmd.Flags().String("secrets", "", "Secrets file for the Livy endpoint")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

type batchStatus struct {
	BatchID int    `json:"batch_id"`
	State   string `json:"state"`
	Phase   string `json:"phase"`
	AppID   string `json:"app_id,omitempty"`
	LogURL  string `json:"log_url"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || id < 0 {
		return exitError(exitConfig, "Invalid batch id", fmt.Errorf("batch id must be a non-negative integer, got %q", args[0]))
	}

	conn, err := statusConnection(cmd)
	if err != nil {
		return exitError(exitConfig, "Invalid Livy connection", err)
	}

	client := livy.NewClient(conn.Endpoint(), livy.Options{
		ConnectTimeout: conn.ConnectTimeout,
		ReadTimeout:    conn.ReadTimeout,
		WriteTimeout:   conn.WriteTimeout,
		Logger:         observability.CLILogger,
	})
	b, err := client.FetchStatus(cmd.Context(), id)
	if err != nil {
		return exitError(exitRetryable, "Failed to fetch batch status", err)
	}

	res := batchStatus{
		BatchID: b.ID,
		State:   b.State,
		Phase:   livy.Classify(b.State).String(),
		AppID:   b.AppIDOrEmpty(),
		LogURL:  livy.LogURL(conn.DisplayEndpoint(), b.ID),
	}
	observability.CLILogger.Debug("Fetched batch status", zap.Int("batch_id", b.ID), zap.String("state", b.State))

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return encodeJSON(out, res)
	}
	_, _ = fmt.Fprintf(out, "batch_id=%d\n", res.BatchID)
	_, _ = fmt.Fprintf(out, "state=%s\n", res.State)
	_, _ = fmt.Fprintf(out, "phase=%s\n", res.Phase)
	if res.AppID != "" {
		_, _ = fmt.Fprintf(out, "app_id=%s\n", res.AppID)
	}
	_, _ = fmt.Fprintf(out, "log_url=%s\n", res.LogURL)
	return nil
}

func statusConnection(cmd *cobra.Command) (operator.ConnectionConfig, error) {
	paramsPath, _ := cmd.Flags().GetString("params")
	secretsPath, _ := cmd.Flags().GetString("secrets")

	params := operator.Params{}
	if strings.TrimSpace(paramsPath) != "" {
		p, err := taskparams.Load(paramsPath)
		if err != nil {
			return operator.ConnectionConfig{}, err
		}
		params = p
	}
	secrets, err := taskparams.LoadSecrets(secretsPath, os.Environ())
	if err != nil {
		return operator.ConnectionConfig{}, err
	}

	var system *operator.SystemConfig
	if cfg := config.GetConfig(); cfg != nil {
		system = &cfg.Livy
	}
	return operator.ResolveConnection(params, secrets, system)
}
