package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/riftwatch/easm/internal/app"
	"github.com/riftwatch/easm/internal/app/httpapi"
	"github.com/riftwatch/easm/internal/config"
)

func main() {
	envFile := flag.String("env-file", "", "path to a .env file (defaults to ./.env if present)")
	addr := flag.String("addr", "", "HTTP listen address (overrides EASM_SERVER_ADDR)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		cfg.ServerAddr = trimmed
	}

	rootCtx := context.Background()

	application, err := app.New(rootCtx, cfg)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	httpService := httpapi.NewService(application)
	application.Attach(httpService)

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	application.Log.WithField("addr", cfg.ServerAddr).Info("easm orchestrator listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
