package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xpe-hub/xpe-bot/internal/bot"
	"github.com/xpe-hub/xpe-bot/internal/command"
	"github.com/xpe-hub/xpe-bot/internal/history"
	"github.com/xpe-hub/xpe-bot/internal/logsink"
	"github.com/xpe-hub/xpe-bot/internal/store"
	"github.com/xpe-hub/xpe-bot/internal/transport"
)

// memBotRepo keeps bot records in memory for tests.
type memBotRepo struct {
	mu   sync.Mutex
	recs map[string]*store.BotRecord
}

func newMemBotRepo() *memBotRepo {
	return &memBotRepo{recs: make(map[string]*store.BotRecord)}
}

func (r *memBotRepo) Get(ctx context.Context, identity string) (*store.BotRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[identity]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memBotRepo) Save(ctx context.Context, rec *store.BotRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.recs[rec.Identity] = &cp
	return nil
}

func (r *memBotRepo) Delete(ctx context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recs, identity)
	return nil
}

func (r *memBotRepo) ListAll(ctx context.Context) ([]*store.BotRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*store.BotRecord, 0, len(r.recs))
	for _, rec := range r.recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memBotRepo) Close() error { return nil }

// scriptedTransport connects immediately on Open and shuts down cleanly
// on Close.
type scriptedTransport struct {
	mu     sync.Mutex
	events chan transport.Event
	sent   []string
	killed bool
	done   bool
}

func (f *scriptedTransport) Open(ctx context.Context) error {
	f.events <- transport.Event{Type: transport.EventConnected, Data: transport.ConnectedData{AccountID: "acct@s.whatsapp.net"}}
	return nil
}

func (f *scriptedTransport) Events() <-chan transport.Event { return f.events }

func (f *scriptedTransport) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		f.events <- transport.Event{Type: transport.EventClosed, Data: transport.ClosedData{Reason: "stopped"}}
		f.done = true
		close(f.events)
	}
	return nil
}

func (f *scriptedTransport) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	if !f.done {
		f.done = true
		close(f.events)
	}
}

func (f *scriptedTransport) Send(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *scriptedTransport) inject(evt transport.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		f.events <- evt
	}
}

func (f *scriptedTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// trackingFactory hands out scripted transports and remembers them.
type trackingFactory struct {
	mu      sync.Mutex
	created []*scriptedTransport
}

func (tf *trackingFactory) factory(cfg transport.Config) (transport.Transport, error) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tr := &scriptedTransport{events: make(chan transport.Event, 32)}
	tf.created = append(tf.created, tr)
	return tr, nil
}

func (tf *trackingFactory) count() int {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return len(tf.created)
}

func (tf *trackingFactory) last() *scriptedTransport {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	if len(tf.created) == 0 {
		return nil
	}
	return tf.created[len(tf.created)-1]
}

func newTestSupervisor(t *testing.T) (*Supervisor, *memBotRepo, *trackingFactory) {
	t.Helper()
	repo := newMemBotRepo()
	tf := &trackingFactory{}
	sup := New(Config{
		Repo:         repo,
		Sink:         logsink.New(0),
		History:      history.New(0),
		Factory:      tf.factory,
		RestartDelay: time.Second,
		StopGrace:    time.Second,
		Version:      "test",
		DataDir:      t.TempDir(),
	})
	return sup, repo, tf
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mainRecord() *store.BotRecord {
	return &store.BotRecord{Identity: "main", Name: "Main", Mode: "whatsapp", Prefix: "."}
}

func TestCreateRejectsDuplicateIdentity(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	ctx := context.Background()

	if err := sup.Create(ctx, mainRecord()); err != nil {
		t.Fatal(err)
	}
	if err := sup.Create(ctx, mainRecord()); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v", err)
	}
}

func TestStartUnknownBotFails(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	err := sup.Start(context.Background(), "ghost")
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("got %v, want ErrConfigurationMissing", err)
	}
}

func TestDoubleStartRejected(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	ctx := context.Background()

	if err := sup.Create(ctx, mainRecord()); err != nil {
		t.Fatal(err)
	}
	if err := sup.Start(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connected", func() bool {
		st, _ := sup.Status("main")
		return st.State == bot.StateConnected
	})
	if err := sup.Start(ctx, "main"); !errors.Is(err, bot.ErrAlreadyRunning) {
		t.Fatalf("second start: got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	ctx := context.Background()

	if err := sup.Stop(ctx, "ghost"); err != nil {
		t.Fatalf("stop unknown bot: %v", err)
	}
	if err := sup.Create(ctx, mainRecord()); err != nil {
		t.Fatal(err)
	}
	if err := sup.Stop(ctx, "main"); err != nil {
		t.Fatalf("stop stopped bot: %v", err)
	}
	if err := sup.Stop(ctx, "main"); err != nil {
		t.Fatalf("stop again: %v", err)
	}
}

func TestRestartTearsDownBeforeStartingAgain(t *testing.T) {
	sup, _, tf := newTestSupervisor(t)
	ctx := context.Background()

	if err := sup.Create(ctx, mainRecord()); err != nil {
		t.Fatal(err)
	}
	if err := sup.Start(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connected", func() bool {
		st, _ := sup.Status("main")
		return st.State == bot.StateConnected
	})
	first := tf.last()

	started := time.Now()
	if err := sup.Restart(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(started); elapsed < time.Second {
		t.Fatalf("restart returned after %s, before the delay", elapsed)
	}
	if tf.count() != 2 {
		t.Fatalf("factory invoked %d times, want 2", tf.count())
	}
	first.mu.Lock()
	oldDone := first.done
	first.mu.Unlock()
	if !oldDone {
		t.Fatal("old transport still live after restart")
	}
	waitFor(t, "reconnected", func() bool {
		st, _ := sup.Status("main")
		return st.State == bot.StateConnected
	})
}

func TestFullLifecycleWithCommand(t *testing.T) {
	sup, _, tf := newTestSupervisor(t)
	ctx := context.Background()

	if err := sup.Create(ctx, mainRecord()); err != nil {
		t.Fatal(err)
	}
	if err := sup.Start(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connected", func() bool {
		st, _ := sup.Status("main")
		return st.State == bot.StateConnected
	})

	tr := tf.last()
	tr.inject(transport.Event{Type: transport.EventMessage, Data: transport.MessageData{Inbound: transport.Inbound{
		ID: "m1", ChatID: "chat-1", SenderID: "alice@s.whatsapp.net",
		Timestamp: time.Now(),
		Payload:   transport.Payload{Text: ".ping"},
	}}})

	waitFor(t, "pong reply", func() bool {
		for _, text := range tr.sentTexts() {
			if strings.Contains(text, "Pong") {
				return true
			}
		}
		return false
	})

	if err := sup.Stop(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	st, err := sup.Status("main")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != bot.StateDisconnected {
		t.Fatalf("state after stop = %s", st.State)
	}
}

func TestCreateSubIdentity(t *testing.T) {
	sup, repo, _ := newTestSupervisor(t)
	ctx := context.Background()

	identity, err := sup.CreateSubIdentity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(identity, "sub-") {
		t.Fatalf("identity = %q", identity)
	}
	rec, err := repo.Get(ctx, identity)
	if err != nil || rec == nil {
		t.Fatalf("sub bot not persisted: rec=%v err=%v", rec, err)
	}
	waitFor(t, "sub bot running", func() bool {
		st, err := sup.Status(identity)
		return err == nil && st.State == bot.StateConnected
	})
}

func TestListIsSortedAndOffline(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		rec := mainRecord()
		rec.Identity = id
		if err := sup.Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	statuses := sup.List()
	if len(statuses) != 3 {
		t.Fatalf("got %d statuses", len(statuses))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, st := range statuses {
		if st.ID != want[i] {
			t.Fatalf("order = %v", statuses)
		}
		if st.State != bot.StateDisconnected {
			t.Fatalf("unstarted bot state = %s", st.State)
		}
	}
}

func TestLoadAllMaterializesStoredBots(t *testing.T) {
	sup, repo, _ := newTestSupervisor(t)
	ctx := context.Background()

	if err := repo.Save(ctx, mainRecord()); err != nil {
		t.Fatal(err)
	}
	if err := sup.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := sup.Status("main"); err != nil {
		t.Fatalf("stored bot not loaded: %v", err)
	}
}

func TestCreateAppliesDefaultPrefix(t *testing.T) {
	repo := newMemBotRepo()
	tf := &trackingFactory{}
	sup := New(Config{
		Repo:          repo,
		Sink:          logsink.New(0),
		History:       history.New(0),
		Factory:       tf.factory,
		RestartDelay:  time.Second,
		StopGrace:     time.Second,
		DefaultPrefix: "!",
		Version:       "test",
		DataDir:       t.TempDir(),
	})
	ctx := context.Background()

	if err := sup.Create(ctx, &store.BotRecord{Identity: "main", Mode: "whatsapp"}); err != nil {
		t.Fatal(err)
	}
	rec, err := repo.Get(ctx, "main")
	if err != nil || rec == nil {
		t.Fatalf("record not saved: rec=%v err=%v", rec, err)
	}
	if rec.Prefix != "!" {
		t.Fatalf("prefix = %q, want %q", rec.Prefix, "!")
	}

	if err := sup.Start(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connected", func() bool {
		st, _ := sup.Status("main")
		return st.State == bot.StateConnected
	})

	tr := tf.last()
	tr.inject(transport.Event{Type: transport.EventMessage, Data: transport.MessageData{Inbound: transport.Inbound{
		ID: "m1", ChatID: "chat-1", SenderID: "alice@s.whatsapp.net",
		Timestamp: time.Now(),
		Payload:   transport.Payload{Text: "!ping"},
	}}})
	waitFor(t, "pong reply", func() bool {
		for _, text := range tr.sentTexts() {
			if strings.Contains(text, "Pong") {
				return true
			}
		}
		return false
	})
}

func TestFleetAdminsGrantAccessOnEveryBot(t *testing.T) {
	repo := newMemBotRepo()
	tf := &trackingFactory{}
	sup := New(Config{
		Repo:         repo,
		Sink:         logsink.New(0),
		History:      history.New(0),
		Factory:      tf.factory,
		RestartDelay: time.Second,
		StopGrace:    time.Second,
		Admins:       []string{"boss@s.whatsapp.net"},
		Version:      "test",
		DataDir:      t.TempDir(),
	})

	registry := sup.buildRegistry(&store.BotRecord{
		Identity: "main",
		Admins:   []string{"local@s.whatsapp.net"},
	})
	t.Cleanup(registry.Close)
	if err := registry.Register(command.Definition{
		Name:          "shutdown",
		RequiresAdmin: true,
		Handler:       func(ctx context.Context, call *command.Call) error { return nil },
	}); err != nil {
		t.Fatal(err)
	}

	for sender, want := range map[string]command.Code{
		"boss@s.whatsapp.net":  command.CodeHandled,
		"local@s.whatsapp.net": command.CodeHandled,
		"rando@s.whatsapp.net": command.CodeForbidden,
	} {
		res := registry.Dispatch(context.Background(), "shutdown", &command.Call{
			BotID:    "main",
			SenderID: sender,
		})
		if res.Code != want {
			t.Errorf("sender %s: code = %s, want %s", sender, res.Code, want)
		}
	}
}
