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

	"github.com/joho/godotenv"

	"github.com/harunnryd/voicegate/pkg/configutil"
	"github.com/harunnryd/voicegate/pkg/gateway"
	"github.com/harunnryd/voicegate/pkg/logging"
	"github.com/harunnryd/voicegate/pkg/runner"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "env file error:", err)
		os.Exit(1)
	}

	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger := logging.InitLogger(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := gateway.NewProviderRegistry()
	gateway.RegisterBuiltins(reg)
	g, err := gateway.Build(ctx, cfg, reg)
	if err != nil {
		logger.Error("gateway_build_failed", "error", err)
		os.Exit(1)
	}
	defer g.Close()

	srv, err := g.Server()
	if err != nil {
		logger.Error("gateway_server_failed", "error", err)
		os.Exit(1)
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go g.RunJanitor(janitorCtx)

	drain := configutil.Millis(cfg.Server.DrainTimeoutMS, 10*time.Second)
	app := runner.NewLifecycleRunner(&runner.HTTPService{
		Server: srv,
		Logger: logging.NewComponentLogger(logger, "http"),
	}, runner.Hooks{
		OnStart: func() {
			logger.Info("voicegate_started", "addr", cfg.Server.Addr, "environment", cfg.Environment)
		},
		OnStop: func() {
			stopJanitor()
			logger.Info("voicegate_stopped")
		},
	}, drain)

	if err := app.Run(ctx); err != nil {
		slog.Error("voicegate_exit", "error", err)
		g.Close()
		os.Exit(1)
	}
}
