package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/winnow/internal/adapters/mcp"
	"github.com/kirillkom/winnow/internal/bootstrap"
	"github.com/kirillkom/winnow/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "mcp")
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	// Stdio transport: the host process owns the lifecycle, stdin EOF ends it.
	srv := mcpadapter.NewServer(app.IngestUC, app.QueryUC, app.Logger)
	if err := srv.ServeStdio(); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
