// Command ledgerd runs the reconciliation and review HTTP server: it
// loads configuration, opens the bbolt store, wires up the advisor
// provider (when configured), starts the story-cache worker, and serves
// the httpapi router until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ledgercore/internal/advisor"
	"ledgercore/internal/config"
	"ledgercore/internal/httpapi"
	"ledgercore/internal/storage"
	"ledgercore/internal/story"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the server config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("ledgerd: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("ledgerd: creating data dir: %v", err)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("ledgerd: opening store: %v", err)
	}
	defer db.Close()

	var provider advisor.Provider
	if cfg.AdvisorEnabled() {
		provider = advisor.NewHTTPProvider(cfg.AdvisorBaseURL, cfg.AdvisorAPIKey, cfg.AdvisorModel)
		log.Printf("ledgerd: advisor enabled, model=%s", cfg.AdvisorModel)
	} else {
		log.Printf("ledgerd: advisor disabled, no base url/api key configured")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go story.Worker(ctx, db, provider, cfg.StoryInterval)

	if err := httpapi.Run(ctx, httpapi.Config{
		Port:            cfg.Port,
		Storage:         db,
		AdvisorProvider: provider,
	}); err != nil {
		log.Fatalf("ledgerd: server error: %v", err)
	}
}
