// Forged is the forge daemon. It serves the HTTP API in front of a Team
// Foundation / Azure DevOps Server.
//
// Configuration is read from ~/.config/forge/config.yaml (or -config) and
// FORGE_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon
//	forged
//
//	# Point at another server
//	FORGE_TFS_SERVER_URL=https://tfs.example.com/tfs FORGE_TFS_PAT=... forged
//
//	# Show build information
//	forged version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/softwareforge/forge/internal/config"
	"github.com/softwareforge/forge/internal/logging"
	"github.com/softwareforge/forge/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/forge/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  forged [-config path]   Start the forge daemon\n")
			fmt.Fprintf(os.Stderr, "  forged version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("forged\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled, then shuts the
// HTTP server down within the configured timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()

	// Runs after logger.Sync below.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()
	defer func() {
		_ = logger.Sync()
	}()
	if degraded, err := tel.Degraded(); degraded {
		zl.Warn("telemetry degraded, continuing without export", zap.Error(err))
	}

	zl.Info("starting forged",
		zap.String("version", version),
		zap.String("tfs", cfg.TFS.ServerURL),
		zap.String("auth_mode", cfg.TFS.AuthMode),
		zap.Int("port", cfg.Server.Port))

	a, err := newApp(ctx, cfg, zl, tel)
	if err != nil {
		return err
	}
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.http.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.http.Shutdown(shutdownCtx)
}

// initLogger builds the logger from the logging section. A non-nil
// provider also receives every entry through the otelzap bridge.
func initLogger(cfg *config.Config, provider otellog.LoggerProvider) (*logging.Logger, error) {
	lcfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	lcfg.Output.OTEL = provider != nil
	return logging.NewLogger(lcfg, provider)
}
