// Package supervisor owns the fleet of bot connections: creation,
// lifecycle commands and fleet-wide queries for the panel.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xpe-hub/xpe-bot/internal/bot"
	"github.com/xpe-hub/xpe-bot/internal/command"
	"github.com/xpe-hub/xpe-bot/internal/history"
	"github.com/xpe-hub/xpe-bot/internal/logsink"
	"github.com/xpe-hub/xpe-bot/internal/store"
	"github.com/xpe-hub/xpe-bot/internal/transport"
)

var (
	// ErrAlreadyExists is returned when creating a bot whose identity is taken.
	ErrAlreadyExists = errors.New("bot already exists")
	// ErrNotFound is returned for operations on unknown identities.
	ErrNotFound = errors.New("bot not found")
	// ErrConfigurationMissing is returned when a bot has no stored config.
	ErrConfigurationMissing = errors.New("bot configuration missing")
)

const (
	defaultRestartDelay = 2 * time.Second
	minRestartDelay     = 1 * time.Second
	maxRestartDelay     = 3 * time.Second
	defaultStopGrace    = 5 * time.Second
)

// Config wires the supervisor's collaborators.
type Config struct {
	Repo         store.BotRepo
	Archive      store.ArchiveRepo // optional
	Sink         *logsink.Sink
	History      *history.History
	Factory      transport.Factory
	Notifier     bot.Notifier // optional
	RestartDelay time.Duration
	StopGrace    time.Duration
	// DefaultPrefix fills in for records that carry no command prefix.
	DefaultPrefix string
	// Admins are fleet-wide admin sender ids, honored by every bot on
	// top of its own admin list.
	Admins  []string
	Version string
	DataDir string
}

// Supervisor manages every configured bot connection.
type Supervisor struct {
	cfg       Config
	startedAt time.Time

	mu   sync.Mutex
	bots map[string]*bot.Connection
}

// New creates a supervisor. The restart delay is clamped to the 1-3s
// window so a restart can never hammer the endpoint.
func New(cfg Config) *Supervisor {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.RestartDelay < minRestartDelay {
		cfg.RestartDelay = minRestartDelay
	}
	if cfg.RestartDelay > maxRestartDelay {
		cfg.RestartDelay = maxRestartDelay
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.DefaultPrefix == "" {
		cfg.DefaultPrefix = "."
	}
	return &Supervisor{
		cfg:       cfg,
		startedAt: time.Now(),
		bots:      make(map[string]*bot.Connection),
	}
}

// LoadAll materializes connections for every stored bot without
// starting them.
func (s *Supervisor) LoadAll(ctx context.Context) error {
	recs, err := s.cfg.Repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	for _, rec := range recs {
		s.ensure(rec)
	}
	fmt.Printf("[Supervisor] Loaded %d bot(s)\n", len(recs))
	return nil
}

// Create registers a new bot. The identity must be free.
func (s *Supervisor) Create(ctx context.Context, rec *store.BotRecord) error {
	s.mu.Lock()
	_, loaded := s.bots[rec.Identity]
	s.mu.Unlock()
	if loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.Identity)
	}
	existing, err := s.cfg.Repo.Get(ctx, rec.Identity)
	if err != nil {
		return fmt.Errorf("lookup bot: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.Identity)
	}
	if rec.Prefix == "" {
		rec.Prefix = s.cfg.DefaultPrefix
	}
	if err := s.cfg.Repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("save bot: %w", err)
	}
	s.ensure(rec)
	fmt.Printf("[Supervisor] Created bot %s (%s)\n", rec.Identity, rec.Mode)
	return nil
}

// ensure returns the connection for rec, building it on first sight.
func (s *Supervisor) ensure(rec *store.BotRecord) *bot.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.bots[rec.Identity]; ok {
		return conn
	}
	prefix := rec.Prefix
	if prefix == "" {
		prefix = s.cfg.DefaultPrefix
	}
	conn := bot.NewConnection(bot.Options{
		ID:     rec.Identity,
		Name:   rec.Name,
		Prefix: prefix,
		Config: transport.Config{
			Identity:   rec.Identity,
			Mode:       transport.Mode(rec.Mode),
			SessionDSN: rec.SessionDSN,
			WorkingDir: rec.WorkingDir,
			Command:    rec.Command,
			Args:       rec.Args,
		},
		Factory:  s.cfg.Factory,
		Sink:     s.cfg.Sink,
		History:  s.cfg.History,
		Registry: s.buildRegistry(rec),
		Archive:  s.cfg.Archive,
		Notifier: s.cfg.Notifier,
	})
	s.bots[rec.Identity] = conn
	return conn
}

func (s *Supervisor) buildRegistry(rec *store.BotRecord) *command.Registry {
	admins := make(map[string]bool, len(rec.Admins)+len(s.cfg.Admins))
	for _, id := range rec.Admins {
		admins[id] = true
	}
	for _, id := range s.cfg.Admins {
		admins[id] = true
	}
	registry := command.NewRegistry(func(senderID string) bool { return admins[senderID] })
	if err := command.RegisterBuiltins(registry, command.BuiltinDeps{
		StartedAt:   s.startedAt,
		Version:     s.cfg.Version,
		Provisioner: s,
	}); err != nil {
		// Builtins only collide with themselves; a failure here is a bug.
		panic(fmt.Sprintf("register builtins: %v", err))
	}
	return registry
}

// connection resolves an identity, lazily loading from the store.
func (s *Supervisor) connection(ctx context.Context, identity string) (*bot.Connection, error) {
	s.mu.Lock()
	conn, ok := s.bots[identity]
	s.mu.Unlock()
	if ok {
		return conn, nil
	}
	rec, err := s.cfg.Repo.Get(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("lookup bot: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigurationMissing, identity)
	}
	return s.ensure(rec), nil
}

// Start brings one bot up. Starting a live bot fails with
// bot.ErrAlreadyRunning.
func (s *Supervisor) Start(ctx context.Context, identity string) error {
	conn, err := s.connection(ctx, identity)
	if err != nil {
		return err
	}
	fmt.Printf("[Supervisor] Starting bot %s\n", identity)
	return conn.Start(ctx)
}

// Stop brings one bot down. Stopping a stopped or unknown bot is a no-op.
func (s *Supervisor) Stop(ctx context.Context, identity string) error {
	s.mu.Lock()
	conn, ok := s.bots[identity]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	fmt.Printf("[Supervisor] Stopping bot %s\n", identity)
	return conn.Stop(ctx, s.cfg.StopGrace)
}

// Restart stops the bot, waits out the restart delay, then starts it
// again. The old session is fully torn down before the new one begins.
func (s *Supervisor) Restart(ctx context.Context, identity string) error {
	if err := s.Stop(ctx, identity); err != nil {
		return fmt.Errorf("stop %s: %w", identity, err)
	}
	select {
	case <-time.After(s.cfg.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Start(ctx, identity)
}

// List snapshots every known bot, sorted by identity. No network calls.
func (s *Supervisor) List() []bot.Status {
	s.mu.Lock()
	conns := make([]*bot.Connection, 0, len(s.bots))
	for _, conn := range s.bots {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	out := make([]bot.Status, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status snapshots one bot.
func (s *Supervisor) Status(identity string) (bot.Status, error) {
	s.mu.Lock()
	conn, ok := s.bots[identity]
	s.mu.Unlock()
	if !ok {
		return bot.Status{}, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return conn.Snapshot(), nil
}

// GetQR returns the bot's pending pairing code, empty when none.
func (s *Supervisor) GetQR(identity string) (string, error) {
	s.mu.Lock()
	conn, ok := s.bots[identity]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return conn.QRCode(), nil
}

// SendMessage delivers text into a chat through the named bot.
func (s *Supervisor) SendMessage(ctx context.Context, identity, chatID, text string) error {
	s.mu.Lock()
	conn, ok := s.bots[identity]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return conn.Send(ctx, chatID, text)
}

// CreateSubIdentity provisions a fresh linked bot and starts it so its
// QR code becomes available. Implements command.Provisioner.
func (s *Supervisor) CreateSubIdentity(ctx context.Context) (string, error) {
	identity := "sub-" + uuid.NewString()[:8]
	rec := &store.BotRecord{
		Identity:   identity,
		Name:       "Sub bot " + identity,
		Mode:       string(transport.ModeWhatsApp),
		Prefix:     s.cfg.DefaultPrefix,
		SessionDSN: filepath.Join(s.cfg.DataDir, identity+".db"),
	}
	if err := s.Create(ctx, rec); err != nil {
		return "", err
	}
	if err := s.Start(ctx, identity); err != nil {
		return "", fmt.Errorf("start %s: %w", identity, err)
	}
	return identity, nil
}

// Shutdown stops every running bot.
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, status := range s.List() {
		if status.State == bot.StateDisconnected {
			continue
		}
		if err := s.Stop(ctx, status.ID); err != nil {
			fmt.Printf("[Supervisor] Failed to stop %s: %v\n", status.ID, err)
		}
	}
	fmt.Println("[Supervisor] All bots stopped")
}
