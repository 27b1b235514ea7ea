// Package cmd implements the golivy command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/golivy/internal/config"
	"github.com/3leaps/golivy/internal/observability"
	"github.com/3leaps/golivy/internal/server/handlers"
)

// Exit codes of golivy commands.
const (
	// exitTaskFailed ends a run whose task failed fatally.
	exitTaskFailed = 1

	exitConfig      = foundry.ExitInvalidArgument
	exitRetryable   = foundry.ExitExternalServiceUnavailable
	exitInterrupted = foundry.ExitSignalInt
	exitWrite       = foundry.ExitFileWriteError
	exitRead        = foundry.ExitFileReadError
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var (
	cfgFile    string
	logLevel   string
	logProfile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "golivy",
	Short: "Run Apache Livy batch jobs as resumable tasks",
	Long: `golivy submits a Spark batch to Apache Livy, waits for it to finish and
reports the outcome. Progress is persisted per task, so an interrupted run
resumes the same batch instead of submitting a new one.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: golivy.yaml in the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logProfile, "log-profile", "", "Log profile: console or structured")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// Execute runs the root command and exits the process on failure.
func Execute() {
	observability.InitCLILogger(config.AppName, false)
	if err := rootCmd.Execute(); err != nil {
		var ee *ExitCodeError
		if errors.As(err, &ee) {
			ExitWithCode(observability.CLILogger, ee.Code, ee.Message, ee.Err)
		}
		ExitWithCode(observability.CLILogger, exitTaskFailed, "Command failed", err)
	}
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	config.SetConfigFile(cfgFile)

	overrides := map[string]any{}
	if logLevel != "" {
		overrides["logging.level"] = logLevel
	}
	if logProfile != "" {
		overrides["logging.profile"] = logProfile
	}
	if verbose {
		overrides["logging.level"] = "debug"
	}

	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return exitError(exitConfig, "Failed to load configuration", err)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(exitConfig, "Invalid logging configuration", err)
	}
	observability.SetCLILogger(logger.Named(config.AppName))
	return nil
}

// ExitCodeError carries a process exit code out of a command.
type ExitCodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

func exitError(code int, message string, err error) error {
	return &ExitCodeError{Code: code, Message: message, Err: err}
}

// exitCodeOf returns the exit code carried by err, or exitTaskFailed.
func exitCodeOf(err error) int {
	var ee *ExitCodeError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return exitTaskFailed
}

// ExitWithCode logs message and err, syncs the logger and exits.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{zap.Int("exit_code", code)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Error(message, fields...)
	_ = logger.Sync()
	os.Exit(code)
}
