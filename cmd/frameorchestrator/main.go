// Command frameorchestrator runs the Frame Orchestrator process: it loads
// configuration, wires every component through internal/orchestrator, and
// serves until a termination signal arrives. Flag/signal handling follows
// the teacher's cli/cmd/ariadne/main.go shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frameorchestrator/core/internal/config"
	"github.com/frameorchestrator/core/internal/logging"
	"github.com/frameorchestrator/core/internal/orchestrator"
)

// Exit codes per spec.md §6.3: 0 normal shutdown, 1 configuration error,
// 2 unrecoverable bus failure at startup.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitBusUnreachable = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "optional YAML config overlay path")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("frameorchestrator (development build)")
		return exitOK
	}

	cfg := config.Defaults()
	cfg, err := config.LoadYAMLOverlay(cfg, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigError
	}
	cfg = config.LoadEnv(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logging.LevelFromString(cfg.Log.Level)})
	logger := logging.New(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := orchestrator.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build orchestrator: %v\n", err)
		return exitConfigError
	}

	if err := orch.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start orchestrator: %v\n", err)
		return exitBusUnreachable
	}

	logger.InfoCtx(ctx, "frame orchestrator running", "strategy", cfg.Router.Strategy, "listen_addr", cfg.HTTP.ListenAddr)

	go logSnapshots(ctx, orch, logger)

	<-ctx.Done()
	logger.InfoCtx(context.Background(), "shutdown signal received, draining")

	if err := orch.Stop(); err != nil {
		logger.ErrorCtx(context.Background(), "shutdown error", "error", err)
		return exitBusUnreachable
	}
	return exitOK
}

// logSnapshots emits a periodic one-line operational summary, the same
// heartbeat the HTTP /frames/stats endpoint serves on demand.
func logSnapshots(ctx context.Context, orch *orchestrator.Orchestrator, logger logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := orch.Snapshot()
			logger.InfoCtx(ctx, "orchestrator status",
				"uptime", snap.Uptime.Round(time.Second).String(),
				"active_processors", snap.ActiveProcessors,
				"pressure", string(snap.Pressure))
		}
	}
}
