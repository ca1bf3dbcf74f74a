package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/trialmatch/internal/adapters/cli"
	mcpadapter "github.com/kirillkom/trialmatch/internal/adapters/mcp"
	"github.com/kirillkom/trialmatch/internal/bootstrap"
	"github.com/kirillkom/trialmatch/internal/config"
	"github.com/kirillkom/trialmatch/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// stdout belongs to command output and the MCP stdio transport.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "trialctl", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	root := cli.NewRootCommand(cli.Services{
		Searcher:     app.Search,
		Trials:       app.Search,
		Dialer:       app.Dialer,
		UseInitFrame: cfg.ChatUseInitFrame,
		MCP:          mcpadapter.NewServer(app.Search, app.Search),
	})
	root.SetOut(os.Stdout)

	err = root.ExecuteContext(ctx)
	app.Close()
	if err != nil {
		os.Exit(1)
	}
}
