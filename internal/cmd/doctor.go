package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/golivy/internal/config"
	errwrap "github.com/3leaps/golivy/internal/errors"
	"github.com/3leaps/golivy/internal/observability"
	"github.com/3leaps/golivy/pkg/operator"
	"github.com/3leaps/golivy/pkg/taskstate"
)

var (
	doctorParams string
	doctorS3     bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the golivy setup and suggest fixes for common issues.

Checks the toolchain, configuration, task registry, task state backend and
whether the Livy endpoint accepts connections.

Examples:
  golivy doctor                    # Full environment check
  golivy doctor --params job.yaml  # Check the Livy endpoint of a task
  golivy doctor --s3               # Also check AWS credentials`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorParams, "params", "", "Task params file naming the Livy endpoint")
	doctorCmd.Flags().BoolVar(&doctorS3, "s3", false, "Run AWS credential checks (implied by state.backend=s3)")
}

func runDoctor(cmd *cobra.Command, _ []string) {
	log := observability.CLILogger
	ctx := cmd.Context()
	cfg := config.GetConfig()
	if cfg == nil {
		cfg = &config.Config{}
	}

	log.Info("=== golivy doctor ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 7

	s3Checks := doctorS3 || strings.EqualFold(cfg.State.Backend, taskstate.KindS3)
	if s3Checks {
		totalChecks = 10
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible and gofulmen
	version := crucible.GetVersion()
	if version.Crucible == "" {
		log.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(log, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s (gofulmen v%s)", checkNum, totalChecks, version.Crucible, version.Gofulmen),
		zap.String("crucible_version", version.Crucible),
		zap.String("gofulmen_version", version.Gofulmen))
	checkNum++

	// Check 3: Config file
	if used := config.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err != nil {
			log.Error(fmt.Sprintf("[%d/%d] Checking config file... ❌ %s", checkNum, totalChecks, used), zap.Error(err))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[%d/%d] Checking config file... ✅ %s", checkNum, totalChecks, used))
		}
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking config file... ✅ defaults and GOLIVY_* environment", checkNum, totalChecks))
	}
	checkNum++

	// Check 4: Data directory
	dataDir, err := config.DataDir()
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ Cannot find data directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(log, foundry.ExitFileNotFound, "Cannot find data directory",
			errwrap.WrapInternal(ctx, err, "Cannot find data directory"))
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, dataDir),
		zap.String("data_dir", dataDir))
	checkNum++

	// Check 5: Task registry
	store, err := openRegistry(cfg)
	if err == nil {
		err = checkWritableDir(store.RootDir())
	}
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking task registry... ❌ Not writable", checkNum, totalChecks), zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking task registry... ✅ %s", checkNum, totalChecks, store.RootDir()))
	}
	checkNum++

	// Check 6: Task state backend
	backendCfg := stateBackendConfig(cfg)
	if err := checkStateBackend(ctx, backendCfg); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking task state backend... ❌ %s", checkNum, totalChecks, backendKind(backendCfg)),
			zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking task state backend... ✅ %s", checkNum, totalChecks, backendKind(backendCfg)))
	}
	checkNum++

	// Check 7: Livy endpoint
	allChecks = checkLivy(ctx, cmd, checkNum, totalChecks) && allChecks
	checkNum++

	if s3Checks {
		allChecks = runS3Checks(ctx, cfg, checkNum, totalChecks) && allChecks
	}

	log.Info("")
	if allChecks {
		log.Info("✅ All checks passed! Your golivy installation is healthy.")
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")
}

func backendKind(cfg taskstate.BackendConfig) string {
	if cfg.Kind == "" {
		return taskstate.KindFile
	}
	return strings.ToLower(cfg.Kind)
}

// checkWritableDir creates dir if needed and proves a file can be written.
func checkWritableDir(dir string) error {
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

// checkStateBackend opens the backend and reads a key that is never
// written, so the check leaves no trace.
func checkStateBackend(ctx context.Context, cfg taskstate.BackendConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	backend, err := taskstate.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	store, err := backend.Task("golivy-doctor")
	if err != nil {
		return err
	}
	_, _, err = store.Get(ctx, "doctor.probe")
	return err
}

func checkLivy(ctx context.Context, cmd *cobra.Command, checkNum, totalChecks int) bool {
	log := observability.CLILogger

	conn, err := statusConnection(cmd)
	if err != nil {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ⚠️  not configured", checkNum, totalChecks), zap.Error(err))
		log.Info("  Set livy.host in golivy.yaml, GOLIVY_LIVY_HOST, or pass --params with a host key.")
		return false
	}

	timeout := conn.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	port := conn.Port
	if port == 0 {
		port = operator.DefaultPort
	}
	addr := net.JoinHostPort(conn.Host, strconv.Itoa(port))

	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ❌ %s unreachable", checkNum, totalChecks, conn.DisplayEndpoint()),
			zap.Error(err))
		return false
	}
	_ = c.Close()
	log.Info(fmt.Sprintf("[%d/%d] Checking Livy endpoint... ✅ %s", checkNum, totalChecks, conn.DisplayEndpoint()))
	return true
}

// runS3Checks checks the AWS credentials and region used by the s3 state
// backend.
func runS3Checks(ctx context.Context, cfg *config.Config, checkNum, totalChecks int) bool {
	log := observability.CLILogger
	log.Info("")
	log.Info("S3 State Backend Checks:")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))
	checkNum++

	region, origin := resolveS3Region(ctx, cfg.State.S3.Region, awsCfg.Region, imds.New(imds.Options{}))
	log.Info(fmt.Sprintf("[%d/%d] Checking S3 region... ✅ %s (%s)", checkNum, totalChecks, region, origin),
		zap.String("region", region),
		zap.String("region_source", origin))
	return true
}

type regionGetter interface {
	GetRegion(ctx context.Context, in *imds.GetRegionInput, opts ...func(*imds.Options)) (*imds.GetRegionOutput, error)
}

// resolveS3Region reports the region the s3 state backend will use and
// where it comes from. Instance metadata is only asked when neither config
// nor the AWS environment names a region.
func resolveS3Region(ctx context.Context, configured, sdk string, meta regionGetter) (string, string) {
	if r := strings.TrimSpace(configured); r != "" {
		return r, "state.s3.region"
	}
	if sdk != "" {
		return sdk, "AWS environment"
	}
	if meta != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if out, err := meta.GetRegion(ctx, &imds.GetRegionInput{}); err == nil && out.Region != "" {
			return out.Region, "instance metadata"
		}
	}
	return taskstate.DefaultAWSRegion, "default"
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials for the s3 state backend:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' and set state.s3.profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	log.Info("  - state.s3.endpoint and state.s3.force_path_style")
	log.Info("")
}
