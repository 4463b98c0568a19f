// tgsyncd — the message sync daemon. Mirrors conversation history
// into the local cache, keeps it fresh from live updates, and serves
// a localhost status API for the CLI.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tgsync/tgsync/pkg/api"
	"github.com/tgsync/tgsync/pkg/config"
	"github.com/tgsync/tgsync/pkg/daemon"
	"github.com/tgsync/tgsync/pkg/models"
	"github.com/tgsync/tgsync/pkg/telegram"
	"github.com/tgsync/tgsync/pkg/version"
)

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

func main() {
	os.Exit(run())
}

func run() int {
	apiPort := flag.Int("api-port", api.DefaultPort, "Localhost port for the status API")
	flag.Parse()

	// .env in the data dir supplements the environment, it never
	// overrides it.
	if dataDir, err := config.DataDir(); err == nil {
		envPath := filepath.Join(dataDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			slog.Info("Loaded environment", "path", envPath)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return daemon.ExitInvalidArgs
	}
	setupLogging(cfg.Verbose)

	slog.Info("Starting tgsyncd",
		"version", version.Full(),
		"data_dir", cfg.DataDir,
		"api_port", *apiPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime, err := daemon.NewRuntime(ctx, cfg, sessionFetcherFactory(cfg))
	if err != nil {
		slog.Error("Failed to initialize daemon", "error", err)
		return daemon.ExitCode(err)
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			slog.Error("Error closing stores", "error", err)
		}
	}()

	if err := runtime.Start(ctx); err != nil {
		slog.Error("Failed to start daemon", "error", err)
		_ = runtime.Stop(ctx)
		return daemon.ExitCode(err)
	}

	statusServer := api.NewServer(runtime.CacheDB(), runtime.Scheduler,
		runtime.Pool, runtime.Status, runtime.Limits)
	apiErrCh := make(chan error, 1)
	go func() {
		if err := statusServer.Start(ctx, *apiPort); err != nil {
			apiErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-apiErrCh:
		slog.Error("Status API error triggered shutdown", "error", err)
	}

	cancel()
	stopErr := runtime.Stop(context.Background())
	if stopErr != nil {
		slog.Error("Shutdown error", "error", stopErr)
		return daemon.ExitCode(stopErr)
	}

	slog.Info("Shutdown complete")
	return daemon.ExitOK
}

// sessionFetcherFactory opens the per-account transport session. The
// MTProto transport is provided by the companion client library; the
// daemon only needs its MessageFetcher surface. Credentials come from
// the environment.
func sessionFetcherFactory(cfg *config.Config) daemon.FetcherFactory {
	return func(ctx context.Context, account *models.Account) (telegram.MessageFetcher, error) {
		sessionPath := filepath.Join(cfg.DataDir,
			"session_"+strconv.FormatInt(account.ID, 10)+".db")
		return telegram.OpenSession(ctx, telegram.SessionOptions{
			APIID:       cfg.APIID,
			APIHash:     cfg.APIHash,
			SessionPath: sessionPath,
			AccountID:   account.ID,
		})
	}
}
