// Command worker is the evaluation worker: it polls the front end's
// submission queues and drives each submission through the compile, exec
// and judge sandbox stages, reporting a result document back for every
// submission it fetches. Once its loop is running it exits only on
// SIGINT/SIGTERM, with status 0; a logger, configuration, profile or
// engine failure at startup exits with status 1 before the loop starts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"judgeworker/internal/config"
	"judgeworker/internal/frontendclient"
	"judgeworker/internal/orchestrator"
	"judgeworker/internal/sandbox/engine"
	"judgeworker/internal/sandbox/profiles"
	"judgeworker/pkg/utils/logger"
)

const (
	defaultExecStageCmd  = "sandbox-exec"
	defaultJudgeStageCmd = "judge-runner"
)

func main() {
	if err := logger.Init(logger.Config{
		Level:   envOr("LOG_LEVEL", "info"),
		Format:  envOr("LOG_FORMAT", "console"),
		Service: "judgeworker",
	}); err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err.Error())
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error(ctx, "configuration invalid", zap.Error(err))
		os.Exit(1)
	}

	repo, err := profiles.NewRepository(defaultExecStageCmd, defaultJudgeStageCmd, cfg.ProfilesPath)
	if err != nil {
		logger.Error(ctx, "load task profiles", zap.Error(err))
		os.Exit(1)
	}

	eng, err := engine.NewEngine(cfg.ToEngineConfig(), repo.Isolation())
	if err != nil {
		logger.Error(ctx, "create sandbox engine", zap.Error(err))
		os.Exit(1)
	}

	client := frontendclient.New(cfg.GUIURL, cfg.ConnectTimeout, cfg.ReadTimeout)
	orch := orchestrator.New(cfg, client, eng, repo)

	logger.Info(ctx, "worker started",
		zap.String("gui_url", cfg.GUIURL),
		zap.Int("queues", len(cfg.Queues)),
		zap.String("workspace", orch.Root()),
		zap.Bool("debug_mode", cfg.DebugMode))

	orch.Run(ctx)

	logger.Info(context.Background(), "worker stopped")
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
