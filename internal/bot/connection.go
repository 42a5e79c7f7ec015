// Package bot drives a single bot connection: a state machine over a
// transport, feeding the log sink, the message history and the command
// registry.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xpe-hub/xpe-bot/internal/classify"
	"github.com/xpe-hub/xpe-bot/internal/command"
	"github.com/xpe-hub/xpe-bot/internal/history"
	"github.com/xpe-hub/xpe-bot/internal/logsink"
	"github.com/xpe-hub/xpe-bot/internal/message"
	"github.com/xpe-hub/xpe-bot/internal/store"
	"github.com/xpe-hub/xpe-bot/internal/transport"
)

// State names one phase of a connection's lifecycle.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAwaitingQR     State = "awaiting_qr"
	StateConnected      State = "connected"
	StateSessionExpired State = "session_expired"
	StateError          State = "error"
)

var (
	// ErrAlreadyRunning is returned by Start while the connection is live.
	ErrAlreadyRunning = errors.New("bot already running")
	// ErrNotConnected is returned by Send before the connection is up.
	ErrNotConnected = errors.New("bot not connected")
)

// Status is a point-in-time snapshot of a connection.
type Status struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	State       State     `json:"state"`
	AccountID   string    `json:"accountId,omitempty"`
	QRCode      string    `json:"qrCode,omitempty"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Notifier receives connection-level events for fan-out to panel clients.
// All methods must be non-blocking or internally buffered.
type Notifier interface {
	BotStatus(status Status)
	BotQR(botID, code string)
	BotMessage(msg message.Message)
}

// Options wires a connection's collaborators. Transport factories keep
// the state machine testable without a real WhatsApp session.
type Options struct {
	ID       string
	Name     string
	Prefix   string
	Config   transport.Config
	Factory  transport.Factory
	Sink     *logsink.Sink
	History  *history.History
	Registry *command.Registry
	Archive  store.ArchiveRepo // optional
	Notifier Notifier          // optional
}

// Connection manages one bot's transport lifecycle.
type Connection struct {
	id       string
	name     string
	prefix   string
	config   transport.Config
	factory  transport.Factory
	sink     *logsink.Sink
	history  *history.History
	registry *command.Registry
	archive  store.ArchiveRepo
	notifier Notifier

	mu          sync.Mutex
	state       State
	transport   transport.Transport
	accountID   string
	qrCode      string
	connectedAt time.Time
	lastError   string
	stopping    bool
	startSeq    uint64
	done        chan struct{}
}

// NewConnection builds a connection in the disconnected state.
func NewConnection(opts Options) *Connection {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "."
	}
	return &Connection{
		id:       opts.ID,
		name:     opts.Name,
		prefix:   prefix,
		config:   opts.Config,
		factory:  opts.Factory,
		sink:     opts.Sink,
		history:  opts.History,
		registry: opts.Registry,
		archive:  opts.Archive,
		notifier: opts.Notifier,
		state:    StateDisconnected,
	}
}

// ID returns the bot identity.
func (c *Connection) ID() string { return c.id }

// Snapshot reports current status without touching the network.
func (c *Connection) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		ID:          c.id,
		Name:        c.name,
		State:       c.state,
		AccountID:   c.accountID,
		QRCode:      c.qrCode,
		ConnectedAt: c.connectedAt,
		LastError:   c.lastError,
	}
}

// QRCode returns the pending pairing code, if any.
func (c *Connection) QRCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qrCode
}

// Start opens the transport and begins processing events. A connection
// that is already connecting or connected rejects the second start.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateAwaitingQR, StateConnected:
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, c.id, c.state)
	}
	c.stopping = false
	c.lastError = ""
	c.startSeq++
	seq := c.startSeq
	c.done = make(chan struct{})
	emit := c.setStateLocked(StateConnecting, logsink.SeverityInfo, "Connecting...")
	c.mu.Unlock()
	emit()

	tr, err := c.factory(c.config)
	if err != nil {
		c.failStart(seq, fmt.Errorf("create transport: %w", err))
		return err
	}
	if err := tr.Open(ctx); err != nil {
		c.failStart(seq, fmt.Errorf("open transport: %w", err))
		return err
	}

	c.mu.Lock()
	if c.stopping || c.startSeq != seq {
		// A stop or a newer start arrived while the transport was
		// opening. Discard this transport instead of attaching it.
		emit := func() {}
		if c.stopping && c.state != StateDisconnected {
			emit = c.setStateLocked(StateDisconnected, logsink.SeverityInfo, "Disconnected")
		}
		var done chan struct{}
		if c.startSeq == seq {
			done = c.done
			c.done = nil
		}
		c.mu.Unlock()
		go func() {
			for range tr.Events() {
			}
		}()
		tr.Kill()
		if done != nil {
			close(done)
		}
		emit()
		c.log(logsink.SeverityInfo, "Startup aborted before the transport attached")
		return nil
	}
	c.transport = tr
	c.mu.Unlock()

	go c.run(tr)
	return nil
}

func (c *Connection) failStart(seq uint64, err error) {
	c.mu.Lock()
	if c.startSeq != seq {
		// Superseded by a newer start; nothing here is ours anymore.
		c.mu.Unlock()
		return
	}
	var emit func()
	if c.stopping {
		// A stop intervened; it already owns the terminal state.
		emit = func() {}
		if c.state != StateDisconnected {
			emit = c.setStateLocked(StateDisconnected, logsink.SeverityInfo, "Disconnected")
		}
	} else {
		c.lastError = err.Error()
		emit = c.setStateLocked(StateError, logsink.SeverityError, fmt.Sprintf("Start failed: %v", err))
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()
	emit()
}

// run consumes transport events until the channel closes. It is the only
// goroutine that advances the state machine after Start returns.
func (c *Connection) run(tr transport.Transport) {
	for evt := range tr.Events() {
		switch evt.Type {
		case transport.EventQR:
			c.handleQR(evt.Data.(transport.QRData))
		case transport.EventConnected:
			c.handleConnected(evt.Data.(transport.ConnectedData))
		case transport.EventMessage:
			c.handleInbound(evt.Data.(transport.MessageData).Inbound)
		case transport.EventLogLine:
			c.handleLogLine(evt.Data.(transport.LogLineData))
		case transport.EventClosed:
			c.handleClosed(evt.Data.(transport.ClosedData))
		case transport.EventFatal:
			c.handleFatal(evt.Data.(transport.FatalData))
		}
	}
	c.mu.Lock()
	c.transport = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()
}

func (c *Connection) handleQR(data transport.QRData) {
	c.mu.Lock()
	c.qrCode = data.Code
	emit := c.setStateLocked(StateAwaitingQR, logsink.SeverityInfo, "QR code ready, scan to link")
	c.mu.Unlock()
	emit()

	if c.notifier != nil {
		c.notifier.BotQR(c.id, data.Code)
	}
	c.recordSystem("QR code generated, waiting for scan")
}

func (c *Connection) handleConnected(data transport.ConnectedData) {
	c.mu.Lock()
	c.accountID = data.AccountID
	c.qrCode = ""
	c.connectedAt = time.Now()
	emit := c.setStateLocked(StateConnected, logsink.SeveritySuccess, fmt.Sprintf("Connected as %s", data.AccountID))
	c.mu.Unlock()
	emit()

	c.recordSystem(fmt.Sprintf("Bot connected as %s", data.AccountID))
}

func (c *Connection) handleLogLine(data transport.LogLineData) {
	severity := logsink.SeverityInfo
	if data.Stderr {
		severity = logsink.SeverityError
	}
	c.log(severity, data.Text)
}

func (c *Connection) handleClosed(data transport.ClosedData) {
	c.mu.Lock()
	c.qrCode = ""
	var emit func()
	switch {
	case data.AuthInvalid:
		emit = c.setStateLocked(StateSessionExpired, logsink.SeverityError, "Session expired, re-link required")
	case c.stopping:
		emit = c.setStateLocked(StateDisconnected, logsink.SeverityInfo, "Disconnected")
	default:
		reason := data.Reason
		if reason == "" {
			reason = "connection closed"
		}
		c.lastError = reason
		emit = c.setStateLocked(StateError, logsink.SeverityError, fmt.Sprintf("Connection lost: %s", reason))
	}
	c.mu.Unlock()
	emit()
}

func (c *Connection) handleFatal(data transport.FatalData) {
	c.mu.Lock()
	c.lastError = data.Err.Error()
	emit := c.setStateLocked(StateError, logsink.SeverityError, fmt.Sprintf("Transport failure: %v", data.Err))
	c.mu.Unlock()
	emit()
}

// handleInbound routes one received message: classify, record, and
// dispatch if it carries the command prefix.
func (c *Connection) handleInbound(in transport.Inbound) {
	c.mu.Lock()
	accountID := c.accountID
	tr := c.transport
	c.mu.Unlock()

	if in.FromSelf || (accountID != "" && in.SenderID == accountID) {
		return
	}

	msg := classify.Classify(in, c.id, c.prefix)
	c.record(msg)

	if msg.Kind != message.KindCommand || c.registry == nil || tr == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	commandText := strings.TrimPrefix(strings.TrimSpace(msg.Body), c.prefix)
	call := &command.Call{
		BotID:      c.id,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		IsGroup:    msg.IsGroup,
		Message:    &msg,
		Reply: func(text string) error {
			return tr.Send(ctx, msg.ChatID, text)
		},
	}

	result := c.registry.Dispatch(ctx, commandText, call)
	switch result.Code {
	case command.CodeHandled:
		c.log(logsink.SeveritySuccess, fmt.Sprintf("Command %s handled for %s", result.Command, msg.SenderID))
	case command.CodeUnrecognized:
		c.log(logsink.SeverityWarning, fmt.Sprintf("Unrecognized command from %s: %s", msg.SenderID, msg.Body))
		name := firstWord(commandText)
		if err := call.Reply(command.UnrecognizedReply(name, c.prefix)); err != nil {
			c.log(logsink.SeverityWarning, fmt.Sprintf("Failed to send reply: %v", err))
		}
	case command.CodeRateLimited, command.CodeForbidden, command.CodeWrongScope:
		c.log(logsink.SeverityWarning, fmt.Sprintf("Command %s rejected for %s: %s", result.Command, msg.SenderID, result.Reason))
	case command.CodeHandlerError:
		c.log(logsink.SeverityError, fmt.Sprintf("Command %s failed: %v", result.Command, result.Err))
	}
}

// Send delivers a text message through the live transport.
func (c *Connection) Send(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	tr := c.transport
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || tr == nil {
		return fmt.Errorf("%w: %s is %s", ErrNotConnected, c.id, state)
	}
	return tr.Send(ctx, chatID, text)
}

// Stop shuts the transport down, waiting up to grace for a clean exit
// before killing it. The connection always ends up disconnected.
func (c *Connection) Stop(ctx context.Context, grace time.Duration) error {
	c.mu.Lock()
	tr := c.transport
	done := c.done
	if tr == nil {
		// No transport attached yet. Mark stopping so an in-flight
		// Start discards its transport, and normalize terminal states
		// back to disconnected.
		c.stopping = true
		emit := func() {}
		if c.state != StateDisconnected {
			emit = c.setStateLocked(StateDisconnected, logsink.SeverityInfo, "Disconnected")
		}
		c.mu.Unlock()
		emit()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	if err := tr.Close(ctx); err != nil {
		c.log(logsink.SeverityWarning, fmt.Sprintf("Graceful shutdown failed: %v", err))
	}

	select {
	case <-done:
	case <-time.After(grace):
		c.log(logsink.SeverityWarning, "Shutdown deadline passed, killing transport")
		tr.Kill()
		select {
		case <-done:
		case <-time.After(grace):
		}
	}

	c.mu.Lock()
	emit := func() {}
	if c.state != StateDisconnected {
		emit = c.setStateLocked(StateDisconnected, logsink.SeverityInfo, "Disconnected")
	}
	c.mu.Unlock()
	emit()
	return nil
}

// setStateLocked performs a transition and returns the emit step: the
// single log entry plus status notification for it. Caller holds c.mu
// and must invoke the returned func after unlocking, so sink
// subscribers may call back into the connection.
func (c *Connection) setStateLocked(next State, severity logsink.Severity, note string) func() {
	c.state = next
	status := Status{
		ID:          c.id,
		Name:        c.name,
		State:       c.state,
		AccountID:   c.accountID,
		QRCode:      c.qrCode,
		ConnectedAt: c.connectedAt,
		LastError:   c.lastError,
	}
	return func() {
		c.log(severity, note)
		if c.notifier != nil {
			c.notifier.BotStatus(status)
		}
	}
}

func (c *Connection) log(severity logsink.Severity, text string) {
	fmt.Printf("[Bot %s] %s\n", c.id, text)
	if c.sink != nil {
		c.sink.Append(severity, text)
	}
}

// record appends a message to history and the archive, and notifies
// panel clients. Archive failures degrade to a warning.
func (c *Connection) record(msg message.Message) {
	if c.history != nil {
		c.history.Append(msg)
	}
	if c.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.archive.Add(ctx, &msg); err != nil {
			c.log(logsink.SeverityWarning, fmt.Sprintf("Archive write failed: %v", err))
		}
		cancel()
	}
	if c.notifier != nil {
		c.notifier.BotMessage(msg)
	}
}

// recordSystem appends a synthetic system-kind message to the history.
func (c *Connection) recordSystem(text string) {
	c.record(message.Message{
		ID:         fmt.Sprintf("sys-%d", time.Now().UnixNano()),
		BotID:      c.id,
		Kind:       message.KindSystem,
		Body:       text,
		ReceivedAt: time.Now(),
	})
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			return s[:i]
		}
	}
	return s
}
