package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// BotSummary mirrors the panel's status payload for tool output.
type BotSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	State       string `json:"state"`
	AccountID   string `json:"accountId,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	ConnectedAt string `json:"connectedAt,omitempty"`
}

// BotListInput is empty - no input needed
type BotListInput struct{}

// BotListOutput contains every configured bot
type BotListOutput struct {
	Bots  []BotSummary `json:"bots"`
	Error string       `json:"error,omitempty"`
}

func (s *Server) handleBotList(ctx context.Context, req *mcp.CallToolRequest, input BotListInput) (*mcp.CallToolResult, BotListOutput, error) {
	var result struct {
		Bots []BotSummary `json:"bots"`
	}
	if err := s.get(ctx, "/api/bots", &result); err != nil {
		return nil, BotListOutput{Error: err.Error()}, nil
	}
	return nil, BotListOutput{Bots: result.Bots}, nil
}

// LifecycleInput names the bot to operate on
type LifecycleInput struct {
	Identity string `json:"identity" jsonschema:"The bot identity to operate on"`
}

// LifecycleOutput reports the bot's state after the operation
type LifecycleOutput struct {
	Success bool   `json:"success"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) lifecycle(ctx context.Context, identity, action string) (*mcp.CallToolResult, LifecycleOutput, error) {
	if identity == "" {
		return nil, LifecycleOutput{Error: "identity is required"}, nil
	}
	var status BotSummary
	if err := s.post(ctx, fmt.Sprintf("/api/bots/%s/%s", identity, action), nil, &status); err != nil {
		return nil, LifecycleOutput{Error: err.Error()}, nil
	}
	return nil, LifecycleOutput{Success: true, State: status.State}, nil
}

func (s *Server) handleBotStart(ctx context.Context, req *mcp.CallToolRequest, input LifecycleInput) (*mcp.CallToolResult, LifecycleOutput, error) {
	return s.lifecycle(ctx, input.Identity, "start")
}

func (s *Server) handleBotStop(ctx context.Context, req *mcp.CallToolRequest, input LifecycleInput) (*mcp.CallToolResult, LifecycleOutput, error) {
	return s.lifecycle(ctx, input.Identity, "stop")
}

func (s *Server) handleBotRestart(ctx context.Context, req *mcp.CallToolRequest, input LifecycleInput) (*mcp.CallToolResult, LifecycleOutput, error) {
	return s.lifecycle(ctx, input.Identity, "restart")
}

// QROutput carries the pending pairing code
type QROutput struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleBotQR(ctx context.Context, req *mcp.CallToolRequest, input LifecycleInput) (*mcp.CallToolResult, QROutput, error) {
	if input.Identity == "" {
		return nil, QROutput{Error: "identity is required"}, nil
	}
	var result struct {
		Code string `json:"code"`
	}
	if err := s.get(ctx, fmt.Sprintf("/api/bots/%s/qr", input.Identity), &result); err != nil {
		return nil, QROutput{Error: err.Error()}, nil
	}
	if result.Code == "" {
		return nil, QROutput{Error: "no pending QR code"}, nil
	}
	return nil, QROutput{Code: result.Code}, nil
}

// SendInput is the input for bot_send_message
type SendInput struct {
	Identity string `json:"identity" jsonschema:"The bot identity to send through"`
	ChatID   string `json:"chat_id" jsonschema:"The destination chat id"`
	Text     string `json:"text" jsonschema:"The message text to send"`
}

// SendOutput reports delivery
type SendOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleBotSend(ctx context.Context, req *mcp.CallToolRequest, input SendInput) (*mcp.CallToolResult, SendOutput, error) {
	if input.Identity == "" || input.ChatID == "" || input.Text == "" {
		return nil, SendOutput{Error: "identity, chat_id and text are required"}, nil
	}
	body := map[string]string{"chat_id": input.ChatID, "text": input.Text}
	if err := s.post(ctx, fmt.Sprintf("/api/bots/%s/send", input.Identity), body, nil); err != nil {
		return nil, SendOutput{Error: err.Error()}, nil
	}
	return nil, SendOutput{Success: true}, nil
}

// RecentMessagesInput filters the history query
type RecentMessagesInput struct {
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of messages to return (default 20)"`
	BotID string `json:"bot_id,omitempty" jsonschema:"Only messages received by this bot"`
	Kind  string `json:"kind,omitempty" jsonschema:"Only messages of this kind (text, command, image, ...)"`
}

// HistoryMessage is one retained message
type HistoryMessage struct {
	ID         string `json:"id"`
	BotID      string `json:"bot_id"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Kind       string `json:"kind"`
	Body       string `json:"body"`
}

// RecentMessagesOutput contains matching messages, newest first
type RecentMessagesOutput struct {
	Messages []HistoryMessage `json:"messages"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleRecentMessages(ctx context.Context, req *mcp.CallToolRequest, input RecentMessagesInput) (*mcp.CallToolResult, RecentMessagesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	path := fmt.Sprintf("/api/history?limit=%d", limit)
	if input.BotID != "" {
		path += "&botId=" + input.BotID
	}
	if input.Kind != "" {
		path += "&kind=" + input.Kind
	}
	var result struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if err := s.get(ctx, path, &result); err != nil {
		return nil, RecentMessagesOutput{Error: err.Error()}, nil
	}
	return nil, RecentMessagesOutput{Messages: result.Messages}, nil
}

// PanelLogsInput limits the log query
type PanelLogsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of log entries to return (default 50)"`
}

// PanelLogEntry is one panel log line
type PanelLogEntry struct {
	Sequence  int64  `json:"sequence"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PanelLogsOutput contains log entries, newest first
type PanelLogsOutput struct {
	Logs  []PanelLogEntry `json:"logs"`
	Error string          `json:"error,omitempty"`
}

func (s *Server) handlePanelLogs(ctx context.Context, req *mcp.CallToolRequest, input PanelLogsInput) (*mcp.CallToolResult, PanelLogsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	var result struct {
		Logs []PanelLogEntry `json:"logs"`
	}
	if err := s.get(ctx, fmt.Sprintf("/api/logs?limit=%d", limit), &result); err != nil {
		return nil, PanelLogsOutput{Error: err.Error()}, nil
	}
	return nil, PanelLogsOutput{Logs: result.Logs}, nil
}
