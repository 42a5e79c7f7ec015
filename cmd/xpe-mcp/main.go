package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xpe-hub/xpe-bot/internal/mcptools"
)

const version = "1.0.0"

// This MCP server runs as a child of an agent (stdio transport) and
// relays tool calls to the running panel's HTTP API.
func main() {
	baseURL := os.Getenv("PANEL_API_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8321"
	}

	srv := mcptools.NewServer(baseURL, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
