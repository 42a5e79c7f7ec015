// Package gateway exposes the panel surface: an HTTP API for bot
// lifecycle and queries, plus a websocket feed of live events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/xpe-hub/xpe-bot/internal/bot"
	"github.com/xpe-hub/xpe-bot/internal/history"
	"github.com/xpe-hub/xpe-bot/internal/logsink"
	"github.com/xpe-hub/xpe-bot/internal/message"
	"github.com/xpe-hub/xpe-bot/internal/store"
	"github.com/xpe-hub/xpe-bot/internal/supervisor"
)

// Fleet is the slice of the supervisor the gateway needs.
type Fleet interface {
	List() []bot.Status
	Status(identity string) (bot.Status, error)
	Start(ctx context.Context, identity string) error
	Stop(ctx context.Context, identity string) error
	Restart(ctx context.Context, identity string) error
	Create(ctx context.Context, rec *store.BotRecord) error
	CreateSubIdentity(ctx context.Context) (string, error)
	GetQR(identity string) (string, error)
	SendMessage(ctx context.Context, identity, chatID, text string) error
}

// Suggester drafts a reply from recent conversation context.
type Suggester interface {
	SuggestReply(ctx context.Context, recent []message.Message) (string, error)
}

// Server provides the HTTP API for the panel and external tooling.
type Server struct {
	fleet     Fleet
	sink      *logsink.Sink
	history   *history.History
	archive   store.ArchiveRepo // optional
	suggester Suggester         // optional
	hub       *Hub

	server *http.Server
	port   int
}

// NewServer wires the gateway. hub may be shared with the supervisor's
// notifier; pass nil to run without a websocket feed.
func NewServer(fleet Fleet, sink *logsink.Sink, hist *history.History, archive store.ArchiveRepo, suggester Suggester, hub *Hub, port int) *Server {
	return &Server{
		fleet:     fleet,
		sink:      sink,
		history:   hist,
		archive:   archive,
		suggester: suggester,
		hub:       hub,
		port:      port,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Bot fleet operations
	mux.HandleFunc("/api/bots", s.handleBots)
	mux.HandleFunc("/api/bots/", s.handleBotItem)

	// Panel log sink
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/logs/clear", s.handleLogsClear)

	// Message history
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/history/clear", s.handleHistoryClear)

	// AI reply drafting
	mux.HandleFunc("/api/ai/suggest", s.handleSuggest)

	// Live feed
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.Handle)
	}

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler: s.Handler(),
	}
	fmt.Printf("[Gateway] Starting HTTP server on port %d\n", s.port)
	return s.server.ListenAndServe()
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// ============ Bot Handlers ============

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, map[string]any{"bots": s.fleet.List()})
	case http.MethodPost:
		var rec store.BotRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rec.Identity == "" {
			http.Error(w, "identity is required", http.StatusBadRequest)
			return
		}
		if rec.Mode == "" {
			rec.Mode = "whatsapp"
		}
		// An empty prefix is kept as-is; the fleet applies its
		// configured default.
		if err := s.fleet.Create(r.Context(), &rec); err != nil {
			s.writeOpError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		s.writeJSON(w, map[string]any{"identity": rec.Identity})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleBotItem routes /api/bots/{identity}/{action}.
func (s *Server) handleBotItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/bots/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	identity := parts[0]

	if identity == "sub" && len(parts) == 1 {
		s.handleCreateSub(w, r)
		return
	}
	if len(parts) < 2 {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	switch parts[1] {
	case "start":
		s.handleLifecycle(w, r, identity, s.fleet.Start)
	case "stop":
		s.handleLifecycle(w, r, identity, s.fleet.Stop)
	case "restart":
		s.handleLifecycle(w, r, identity, s.fleet.Restart)
	case "status":
		s.handleBotStatus(w, r, identity)
	case "qr":
		s.handleBotQR(w, r, identity)
	case "send":
		s.handleBotSend(w, r, identity)
	case "stats":
		s.handleBotStats(w, r, identity)
	case "archive":
		s.handleBotArchive(w, r, identity)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
	}
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request, identity string, op func(context.Context, string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := op(r.Context(), identity); err != nil {
		s.writeOpError(w, err)
		return
	}
	status, err := s.fleet.Status(identity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) handleCreateSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, err := s.fleet.CreateSubIdentity(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, map[string]string{"identity": identity})
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request, identity string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status, err := s.fleet.Status(identity)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) handleBotQR(w http.ResponseWriter, r *http.Request, identity string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code, err := s.fleet.GetQR(identity)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"identity": identity, "code": code})
}

// SendRequest is the body for POST /api/bots/{id}/send.
type SendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *Server) handleBotSend(w http.ResponseWriter, r *http.Request, identity string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || req.Text == "" {
		http.Error(w, "chat_id and text are required", http.StatusBadRequest)
		return
	}
	if err := s.fleet.SendMessage(r.Context(), identity, req.ChatID, req.Text); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, map[string]bool{"sent": true})
}

func (s *Server) handleBotStats(w http.ResponseWriter, r *http.Request, identity string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		http.Error(w, "archive not enabled", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.archive.StatsByBot(r.Context(), identity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleBotArchive(w http.ResponseWriter, r *http.Request, identity string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		http.Error(w, "archive not enabled", http.StatusServiceUnavailable)
		return
	}
	msgs, err := s.archive.RecentByBot(r.Context(), identity, queryLimit(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"messages": msgs})
}

// ============ Log Handlers ============

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]any{"logs": s.sink.Recent(queryLimit(r, 0))})
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sink.Clear()
	s.writeJSON(w, map[string]bool{"cleared": true})
}

// ============ History Handlers ============

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter := history.Filter{
		Kind:           message.Kind(q.Get("kind")),
		BotID:          q.Get("botId"),
		SenderContains: q.Get("sender"),
	}
	var msgs []message.Message
	if filter == (history.Filter{}) {
		msgs = s.history.Recent(queryLimit(r, 0))
	} else {
		msgs = s.history.Find(filter)
		if limit := queryLimit(r, 0); limit > 0 && limit < len(msgs) {
			msgs = msgs[:limit]
		}
	}
	s.writeJSON(w, map[string]any{"messages": msgs})
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.history.Clear()
	s.writeJSON(w, map[string]bool{"cleared": true})
}

// ============ AI Handlers ============

// SuggestRequest is the body for POST /api/ai/suggest.
type SuggestRequest struct {
	BotID  string `json:"botId"`
	ChatID string `json:"chatId"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.suggester == nil {
		http.Error(w, "ai not configured", http.StatusServiceUnavailable)
		return
	}
	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	// Pull the chat's recent context from history, oldest first.
	recent := s.history.Find(history.Filter{BotID: req.BotID})
	filtered := make([]message.Message, 0, limit)
	for _, m := range recent {
		if req.ChatID != "" && m.ChatID != req.ChatID {
			continue
		}
		filtered = append(filtered, m)
		if len(filtered) == limit {
			break
		}
	}
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}

	reply, err := s.suggester.SuggestReply(r.Context(), filtered)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"reply": reply})
}

// ============ Helpers ============

func queryLimit(r *http.Request, fallback int) int {
	limit := fallback
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	return limit
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeOpError maps known operation failures to meaningful statuses.
func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, supervisor.ErrNotFound), errors.Is(err, supervisor.ErrConfigurationMissing):
		status = http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyExists), errors.Is(err, bot.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, bot.ErrNotConnected):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
