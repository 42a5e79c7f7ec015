// Package mcptools exposes the panel's bot operations as MCP tools so
// an agent can drive the fleet over stdio.
package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps an MCP server whose tools call back into the panel's
// HTTP API.
type Server struct {
	server  *mcp.Server
	baseURL string
	client  *http.Client
}

// NewServer creates the tool server. baseURL points at the running
// panel, e.g. http://127.0.0.1:8321.
func NewServer(baseURL, version string) *Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "bot-panel-tools",
		Version: version,
	}, nil)

	s := &Server{
		server:  server,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "bot_list",
		Description: "List every configured bot with its connection state, linked account and last error.",
	}, s.handleBotList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "bot_start",
		Description: "Start a bot by identity. Fails if the bot is already running.",
	}, s.handleBotStart)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "bot_stop",
		Description: "Stop a bot by identity. Stopping a stopped bot is harmless.",
	}, s.handleBotStop)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "bot_restart",
		Description: "Restart a bot: full shutdown, a short delay, then a fresh start.",
	}, s.handleBotRestart)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "bot_get_qr",
		Description: "Get the bot's pending QR pairing code, if it is waiting to be linked.",
	}, s.handleBotQR)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "bot_send_message",
		Description: "Send a text message into a chat through a connected bot.",
	}, s.handleBotSend)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_recent_messages",
		Description: "Get recent messages received by the bots, optionally filtered by bot or kind.",
	}, s.handleRecentMessages)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_panel_logs",
		Description: "Get recent panel log entries for diagnosing bot behavior.",
	}, s.handlePanelLogs)
}

// Run starts the MCP server with stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// get performs a GET against the panel API and decodes the JSON body.
func (s *Server) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("panel request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// post performs a POST with an optional JSON body.
func (s *Server) post(ctx context.Context, path string, body, dst any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, &payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("panel request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("panel: %s", apiErr.Error)
	}
	return fmt.Errorf("panel: status %d", resp.StatusCode)
}
