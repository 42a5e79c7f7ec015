package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// ProcessTransport runs a bot as an external OS child process. Stdout and
// stderr are forwarded line by line (partial lines are withheld until a
// terminator); a JSON line protocol on stdin carries outbound sends.
type ProcessTransport struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewProcessTransport creates an unopened process transport.
func NewProcessTransport(cfg Config) *ProcessTransport {
	return &ProcessTransport{
		cfg:    cfg,
		events: make(chan Event, 100),
	}
}

// Open spawns the child process and starts forwarding its output.
func (t *ProcessTransport) Open(ctx context.Context) error {
	if t.cfg.Command == "" {
		return fmt.Errorf("process transport %s: no command configured", t.cfg.Identity)
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.cmd = exec.CommandContext(t.ctx, t.cfg.Command, t.cfg.Args...)
	t.cmd.Dir = t.cfg.WorkingDir

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	t.stdin = stdin

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", t.cfg.Command, err)
	}

	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	t.events <- Event{Type: EventConnected, Data: ConnectedData{
		AccountID: fmt.Sprintf("pid:%d", t.cmd.Process.Pid),
	}}

	t.wg.Add(2)
	go t.readLines(stdout, false)
	go t.readLines(stderr, true)
	go t.waitForExit()

	return nil
}

func (t *ProcessTransport) readLines(r io.Reader, stderr bool) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		t.events <- Event{Type: EventLogLine, Data: LogLineData{Text: line, Stderr: stderr}}
	}
}

func (t *ProcessTransport) waitForExit() {
	t.wg.Wait()
	err := t.cmd.Wait()

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	reason := "process exited"
	if err != nil {
		reason = fmt.Sprintf("process exited: %v", err)
	}
	t.events <- Event{Type: EventClosed, Data: ClosedData{Reason: reason}}
	close(t.events)
}

// Close sends SIGTERM to the child. The caller enforces the grace
// deadline and falls back to Kill.
func (t *ProcessTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	if t.stdin != nil {
		t.stdin.Close()
	}
	return t.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill forcibly terminates the child process.
func (t *ProcessTransport) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	if t.cancel != nil {
		t.cancel()
	}
}

// Send writes one outbound message as a JSON line on the child's stdin.
func (t *ProcessTransport) Send(ctx context.Context, chatID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.stdin == nil {
		return fmt.Errorf("process transport %s: not running", t.cfg.Identity)
	}
	payload, err := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	if err != nil {
		return err
	}
	if _, err := t.stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("failed to write to bot stdin: %w", err)
	}
	return nil
}

// Events returns the transport event stream.
func (t *ProcessTransport) Events() <-chan Event {
	return t.events
}
