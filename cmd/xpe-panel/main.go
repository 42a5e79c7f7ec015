package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xpe-hub/xpe-bot/internal/ai"
	"github.com/xpe-hub/xpe-bot/internal/conf"
	"github.com/xpe-hub/xpe-bot/internal/gateway"
	"github.com/xpe-hub/xpe-bot/internal/history"
	"github.com/xpe-hub/xpe-bot/internal/logsink"
	"github.com/xpe-hub/xpe-bot/internal/store"
	"github.com/xpe-hub/xpe-bot/internal/supervisor"
	"github.com/xpe-hub/xpe-bot/internal/transport"
)

const version = "1.0.0"

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Initialize storage
	botRepo, err := store.NewBotRepo(cfg.Store.BotsDBPath)
	if err != nil {
		log.Fatalf("Failed to open bot registry: %v", err)
	}
	archiveRepo, err := store.NewArchiveRepo(cfg.Store.ArchivePath)
	if err != nil {
		log.Fatalf("Failed to open message archive: %v", err)
	}
	fmt.Printf("[Panel] Bot registry: %s\n", cfg.Store.BotsDBPath)

	// In-memory panel feeds
	sink := logsink.New(cfg.Fleet.LogCapacity)
	hist := history.New(cfg.Fleet.HistoryLimit)

	// Websocket fan-out
	hub := gateway.NewHub()
	hub.WatchSink(sink)

	// Bot fleet
	sup := supervisor.New(supervisor.Config{
		Repo:          botRepo,
		Archive:       archiveRepo,
		Sink:          sink,
		History:       hist,
		Factory:       transport.NewTransport,
		Notifier:      hub,
		RestartDelay:  cfg.Fleet.RestartDelay,
		StopGrace:     cfg.Fleet.StopGrace,
		DefaultPrefix: cfg.Fleet.CommandPrefix,
		Admins:        cfg.Fleet.Admins,
		Version:       version,
		DataDir:       cfg.Store.DataDir,
	})

	ctx := context.Background()
	if err := sup.LoadAll(ctx); err != nil {
		log.Fatalf("Failed to load bots: %v", err)
	}

	// Optional AI reply drafting
	var suggester gateway.Suggester
	if cfg.AI.APIKey != "" {
		suggester = ai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model)
		fmt.Println("[Panel] AI reply drafting enabled")
	}

	// Panel gateway
	gw := gateway.NewServer(sup, sink, hist, archiveRepo, suggester, hub, cfg.Gateway.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		sup.Shutdown(ctx)
		gw.Stop()
		archiveRepo.Close()
		botRepo.Close()
		os.Exit(0)
	}()

	fmt.Printf("Starting panel v%s...\n", version)
	if err := gw.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
