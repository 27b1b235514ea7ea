package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/golivy/internal/observability"
	"github.com/3leaps/golivy/pkg/livymock"
)

var (
	mockHost     string
	mockPort     int
	mockStates   []string
	mockFirstID  int
	mockUser     string
	mockPassword string
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Serve an in-memory fake of the Livy batch API",
	Long: `Serve a fake Livy /batches API for local development.

Every submitted batch walks through --states, one state per status request,
and then stays in the last one.

Examples:
  golivy mock-server
  golivy mock-server --port 8998 --states starting,running,dead`,
	Args: cobra.NoArgs,
	RunE: runMockServer,
}

func init() {
	rootCmd.AddCommand(mockServerCmd)
	mockServerCmd.Flags().StringVar(&mockHost, "host", "127.0.0.1", "Listen host")
	mockServerCmd.Flags().IntVar(&mockPort, "port", 8998, "Listen port")
	mockServerCmd.Flags().StringSliceVar(&mockStates, "states", livymock.DefaultStates, "State sequence reported for each batch")
	mockServerCmd.Flags().IntVar(&mockFirstID, "first-id", 0, "Id of the first submitted batch")
	mockServerCmd.Flags().StringVar(&mockUser, "username", "", "Require HTTP basic auth with this user")
	mockServerCmd.Flags().StringVar(&mockPassword, "password", "", "Password for --username")
}

func runMockServer(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.CLILogger.Named("mock")
	opts := []livymock.Option{
		livymock.WithStates(mockStates...),
		livymock.WithFirstID(mockFirstID),
		livymock.WithLogger(logger),
	}
	if mockUser != "" {
		opts = append(opts, livymock.WithBasicAuth(mockUser, mockPassword))
	}
	mock := livymock.New(opts...)

	addr := net.JoinHostPort(mockHost, strconv.Itoa(mockPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return exitError(exitConfig, "Failed to listen", err)
	}
	srv := &http.Server{
		Handler:           mock.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("Fake Livy server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("states", mockStates),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitTaskFailed, "Fake Livy server stopped", err)
		}
		return nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return exitError(exitTaskFailed, "Failed to stop fake Livy server", err)
	}
	logger.Info("Fake Livy server stopped", zap.Int("submissions", mock.Submissions()))
	return nil
}
