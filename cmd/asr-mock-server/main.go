// Command asr-mock-server serves a scripted ASR websocket endpoint for local
// development and integration tests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saker-ai/asr-sdk-go/pkg/runtime"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "asr-mock-server",
		Short: "Scripted ASR websocket server",
		Long: `asr-mock-server answers the ASR websocket protocol with scripted results.

Configuration is read from conf.yaml in the working directory (or ASR_ROOT_DIR),
then ASR_* environment variables. The mock section selects the listen address,
endpoint path, credentials and reply script.

Examples:
  asr-mock-server
  asr-mock-server --config config/mock.yaml
  ASR_MOCK_HTTP_ADDR=127.0.0.1:9000 asr-mock-server`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: conf.yaml)")
	return cmd
}

// serve runs the server until ctx is done, then drains it.
func serve(ctx context.Context, configPath string) error {
	server, err := runtime.New(configPath)
	if err != nil {
		return fmt.Errorf("start asr mock server: %w", err)
	}
	logger := server.Logger()
	defer logger.Sync()

	if err := server.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("asr mock server ready", zap.String("url", server.URL()))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("asr mock server stopped")
	return nil
}
