package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/golivy/internal/config"
	"github.com/3leaps/golivy/internal/observability"
	"github.com/3leaps/golivy/internal/server"
	"github.com/3leaps/golivy/internal/server/handlers"
	"github.com/3leaps/golivy/pkg/events"
	"github.com/3leaps/golivy/pkg/operator"
	"github.com/3leaps/golivy/pkg/runner"
	"github.com/3leaps/golivy/pkg/taskparams"
	"github.com/3leaps/golivy/pkg/taskregistry"
	"github.com/3leaps/golivy/pkg/taskstate"
)

var (
	runParamsPath   string
	runSecretsPath  string
	runTaskID       string
	runName         string
	runStateBackend string
	runStateDir     string
	runMaxAttempts  int
	runOnce         bool
	runEvents       string
	runServe        bool
	runServePort    int
	runRateLimit    float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a Livy batch and wait for it to finish",
	Long: `Run a Livy batch task to completion.

The batch is submitted at most once per task id. Progress is persisted in the
task state backend, so running the same task id again after a crash or a
retryable failure resumes waiting for the same batch.

Events are written as JSONL to stdout (or --events <file>); logs go to stderr.

Exit status:
  0                             batch succeeded
  1                             batch failed or the task hit a fatal error
  invalid argument              bad params, secrets or configuration
  external service unavailable  retryable failure left (--once, --max-attempts)
  SIGINT                        interrupted

Examples:
  golivy run --params job.yaml
  golivy run --params job.yaml --secrets livy-secrets.yaml --task-id nightly-etl
  golivy run --params job.yaml --once --state-backend sqlite`,
	Args: cobra.NoArgs,
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runParamsPath, "params", "p", "", "Task params file (YAML or JSON)")
	runCmd.Flags().StringVar(&runSecretsPath, "secrets", "", "Secrets file (YAML or JSON); GOLIVY_SECRET_* env vars override it")
	runCmd.Flags().StringVar(&runTaskID, "task-id", "", "Task id keying persisted state (default: params file name)")
	runCmd.Flags().StringVar(&runName, "name", "", "Display name in the task registry (default: params name)")
	runCmd.Flags().StringVar(&runStateBackend, "state-backend", "", "Task state backend: file, sqlite, s3 or memory")
	runCmd.Flags().StringVar(&runStateDir, "state-dir", "", "Root directory of the file state backend")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "Stop after this many invocations (0 = config or unbounded)")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Invoke once and report a retryable failure through the exit code instead of retrying")
	runCmd.Flags().StringVar(&runEvents, "events", "-", "Event stream destination: - for stdout, a file path, or empty to disable")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "Serve health and metrics endpoints while the task runs")
	runCmd.Flags().IntVar(&runServePort, "serve-port", 0, "Port for --serve (default: server.port)")
	runCmd.Flags().Float64Var(&runRateLimit, "rate-limit", 0, "Max Livy requests per second (0 = config or unlimited)")

	_ = runCmd.MarkFlagRequired("params")
}

func runTask(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.GetConfig()
	if cfg == nil {
		return exitError(exitConfig, "Configuration not loaded", errors.New("config.Load did not run"))
	}
	logger := observability.CLILogger

	params, err := taskparams.Load(runParamsPath)
	if err != nil {
		return exitError(exitConfig, "Invalid task params", err)
	}
	secrets, err := taskparams.LoadSecrets(runSecretsPath, os.Environ())
	if err != nil {
		return exitError(exitConfig, "Invalid secrets", err)
	}

	taskID, err := resolveTaskID(runTaskID, runParamsPath)
	if err != nil {
		return exitError(exitConfig, "Invalid --task-id", err)
	}
	name := strings.TrimSpace(runName)
	if name == "" {
		if n, ok, _ := params.String("name"); ok {
			name = n
		}
	}
	logger = logger.With(zap.String("task_id", taskID))
	logger.Debug("Loaded task inputs",
		zap.String("params", runParamsPath),
		zap.Strings("secret_keys", taskparams.Keys(secrets)),
	)

	store, err := openRegistry(cfg)
	if err != nil {
		return exitError(exitConfig, "Failed to open task registry", err)
	}
	lock, err := store.Lock(taskID)
	if err != nil {
		if errors.Is(err, taskregistry.ErrLocked) {
			return exitError(exitRetryable, "Task is already running", err)
		}
		return exitError(exitWrite, "Failed to lock task", err)
	}
	defer func() { _ = lock.Release() }()

	rec, err := prepareRecord(store, taskID, name, runParamsPath)
	if err != nil {
		return exitError(exitWrite, "Failed to write task record", err)
	}
	recorder := taskregistry.NewRecorder(store, rec)

	conn, err := operator.ResolveConnection(params, secrets, &cfg.Livy)
	if err != nil {
		_ = recorder.Update(func(r *taskregistry.TaskRecord) {
			now := time.Now().UTC()
			r.State = taskregistry.TaskStateFailed
			r.LastError = err.Error()
			r.EndedAt = &now
		})
		return exitError(exitConfig, "Invalid Livy connection", err)
	}
	_ = recorder.Update(func(r *taskregistry.TaskRecord) { r.Endpoint = conn.DisplayEndpoint() })

	backendCfg := stateBackendConfig(cfg)
	backend, err := taskstate.Open(ctx, backendCfg)
	if err != nil {
		return exitError(exitConfig, "Failed to open task state backend", err)
	}
	defer func() { _ = backend.Close() }()
	state, err := backend.Task(taskID)
	if err != nil {
		return exitError(exitConfig, "Failed to open task state", err)
	}

	ew, closeEvents, err := openEvents(runEvents, taskID)
	if err != nil {
		return exitError(exitWrite, "Failed to open event stream", err)
	}
	defer closeEvents()

	var metrics *observability.Metrics
	if runServe || cfg.Metrics.Enabled {
		srv, m, err := startServer(cfg, recorder, logger)
		if err != nil {
			return exitError(exitConfig, "Failed to start HTTP server", err)
		}
		metrics = m
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	maxAttempts := cfg.Runner.MaxAttempts
	if runMaxAttempts > 0 {
		maxAttempts = runMaxAttempts
	}
	rcfg := runner.Config{
		TaskID:            taskID,
		Name:              name,
		MaxAttempts:       maxAttempts,
		Once:              runOnce,
		Recorder:          recorder,
		HeartbeatInterval: cfg.Registry.HeartbeatInterval,
		Events:            ew,
		Logger:            logger,
	}
	if metrics != nil {
		rcfg.Metrics = metrics
	}
	r := runner.New(rcfg)

	opts := []operator.Option{
		operator.WithSystemConfig(&cfg.Livy),
		operator.WithEvents(r.Events()),
		operator.WithLogger(logger),
	}
	rateLimit := cfg.Runner.RateLimit
	if runRateLimit > 0 {
		rateLimit = runRateLimit
	}
	if rateLimit > 0 {
		opts = append(opts, operator.WithRateLimit(rateLimit))
	}
	if metrics != nil {
		opts = append(opts, operator.WithMetrics(metrics))
	}
	op := operator.New(taskID, params, secrets, state, opts...)

	out, err := r.Run(ctx, op)
	return reportOutcome(logger, out, err)
}

func reportOutcome(logger *zap.Logger, out *runner.Outcome, err error) error {
	switch out.Result {
	case events.ResultSuccess:
		fields := []zap.Field{zap.Int("invocations", out.Invocations), zap.Duration("duration", out.Duration)}
		if out.Task != nil {
			fields = append(fields,
				zap.Int("batch_id", out.Task.BatchID),
				zap.String("state", out.Task.State),
				zap.String("log_url", out.Task.LogURL),
			)
		}
		logger.Info("Task succeeded", fields...)
		return nil
	case events.ResultRetryable:
		return exitError(exitRetryable, fmt.Sprintf("Task can be retried in %s", out.RetryAfter), err)
	case events.ResultInterrupted:
		return exitError(exitInterrupted, "Task interrupted", err)
	default:
		if runner.ErrorCode(err) == events.ErrCodeConfig {
			return exitError(exitConfig, "Task configuration rejected", err)
		}
		return exitError(exitTaskFailed, "Task failed", err)
	}
}

// resolveTaskID defaults the task id to the params file name without its
// extension.
func resolveTaskID(explicit, paramsPath string) (string, error) {
	id := strings.TrimSpace(explicit)
	if id == "" {
		base := filepath.Base(paramsPath)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid task id %q", id)
	}
	return id, nil
}

// prepareRecord loads or creates the registry record of taskID and resets
// it to queued for a new run. Attempt counts carry over.
func prepareRecord(store *taskregistry.Store, taskID, name, paramsPath string) (*taskregistry.TaskRecord, error) {
	now := time.Now().UTC()
	rec, err := store.Get(taskID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		rec = &taskregistry.TaskRecord{TaskID: taskID, CreatedAt: now}
	}
	if name != "" {
		rec.Name = name
	}
	if abs, err := filepath.Abs(paramsPath); err == nil {
		rec.ParamsPath = abs
	}
	rec.State = taskregistry.TaskStateQueued
	rec.PID = os.Getpid()
	rec.LastError = ""
	rec.EndedAt = nil
	rec.NextAttemptAt = nil
	if err := store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func stateBackendConfig(cfg *config.Config) taskstate.BackendConfig {
	sc := cfg.State
	if runStateBackend != "" {
		sc.Backend = runStateBackend
	}
	if runStateDir != "" {
		sc.Dir = runStateDir
	}
	if strings.TrimSpace(sc.Dir) == "" {
		if dir, err := config.DataDir(); err == nil {
			sc.Dir = filepath.Join(dir, "state")
		}
	}
	if strings.TrimSpace(sc.SQLite.Path) == "" && strings.TrimSpace(sc.SQLite.URL) == "" {
		if dir, err := config.DataDir(); err == nil {
			sc.SQLite.Path = filepath.Join(dir, "state.db")
		}
	}
	return sc.BackendConfig()
}

func openRegistry(cfg *config.Config) (*taskregistry.Store, error) {
	dir := strings.TrimSpace(cfg.Registry.Dir)
	if dir == "" {
		base, err := config.DataDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "tasks")
	}
	return taskregistry.NewStore(dir), nil
}

// openEvents returns the event writer for dest: "-" is stdout, "" disables
// the stream, anything else is a file appended to.
func openEvents(dest, taskID string) (events.Writer, func(), error) {
	switch strings.TrimSpace(dest) {
	case "":
		return events.NopWriter{}, func() {}, nil
	case "-":
		w := events.NewJSONLWriter(os.Stdout, taskID)
		return w, func() { _ = w.Close() }, nil
	}

	// #nosec G304 -- path is an operator-supplied CLI flag
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	w := events.NewJSONLWriter(f, taskID)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

// startServer serves health, version and metrics for the duration of a run.
func startServer(cfg *config.Config, recorder *taskregistry.Recorder, logger *zap.Logger) (*server.Server, *observability.Metrics, error) {
	if observability.TelemetrySystem == nil {
		if err := observability.InitTelemetry(); err != nil {
			return nil, nil, err
		}
	}

	hm := handlers.InitHealthManager(versionInfo.Version)
	hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	hm.RegisterChecker("heartbeat", heartbeatHealthChecker{
		recorder: recorder,
		maxAge:   3 * heartbeatInterval(cfg),
	})

	port := cfg.Server.Port
	if runServePort > 0 {
		port = runServePort
	}
	srv := server.New(cfg.Server.Host, port,
		server.WithLogger(logger),
		server.WithMetricsHandler(observability.PrometheusExporter),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)
	if err := srv.Start(); err != nil {
		return nil, nil, err
	}
	return srv, observability.TelemetrySystem, nil
}

func heartbeatInterval(cfg *config.Config) time.Duration {
	if cfg.Registry.HeartbeatInterval > 0 {
		return cfg.Registry.HeartbeatInterval
	}
	return taskregistry.DefaultHeartbeatInterval
}
