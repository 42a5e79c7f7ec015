package transport

import (
	"context"
	"strings"
	"testing"
	"time"
)

// collectEvents drains the transport until the channel closes or the
// deadline passes.
func collectEvents(t *testing.T, tr *ProcessTransport, deadline time.Duration) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(deadline)
	for {
		select {
		case evt, ok := <-tr.Events():
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatalf("timed out draining events, got %d so far", len(out))
		}
	}
}

func TestProcessOpenRequiresCommand(t *testing.T) {
	tr := NewProcessTransport(Config{Identity: "p1", Mode: ModeProcess})
	if err := tr.Open(context.Background()); err == nil {
		t.Fatal("open without a command succeeded")
	}
}

func TestProcessForwardsOutputAndExit(t *testing.T) {
	tr := NewProcessTransport(Config{
		Identity: "p1",
		Mode:     ModeProcess,
		Command:  "/bin/sh",
		Args:     []string{"-c", "echo out-line; echo err-line 1>&2"},
	})
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	events := collectEvents(t, tr, 5*time.Second)

	if len(events) == 0 || events[0].Type != EventConnected {
		t.Fatalf("first event = %+v, want connected", events)
	}

	var sawStdout, sawStderr, sawClosed bool
	for _, evt := range events {
		switch evt.Type {
		case EventLogLine:
			data := evt.Data.(LogLineData)
			if data.Text == "out-line" && !data.Stderr {
				sawStdout = true
			}
			if data.Text == "err-line" && data.Stderr {
				sawStderr = true
			}
		case EventClosed:
			data := evt.Data.(ClosedData)
			if !strings.Contains(data.Reason, "process exited") {
				t.Fatalf("close reason = %q", data.Reason)
			}
			sawClosed = true
		}
	}
	if !sawStdout || !sawStderr || !sawClosed {
		t.Fatalf("missing events (stdout=%v stderr=%v closed=%v): %+v",
			sawStdout, sawStderr, sawClosed, events)
	}
}

func TestProcessCloseTerminatesChild(t *testing.T) {
	tr := NewProcessTransport(Config{
		Identity: "p1",
		Mode:     ModeProcess,
		Command:  "/bin/sleep",
		Args:     []string{"30"},
	})
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := tr.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	events := collectEvents(t, tr, 5*time.Second)

	last := events[len(events)-1]
	if last.Type != EventClosed {
		t.Fatalf("last event = %+v, want closed", last)
	}
	if reason := last.Data.(ClosedData).Reason; !strings.Contains(reason, "terminated") {
		t.Fatalf("close reason = %q, want termination by signal", reason)
	}
}

func TestProcessKillClosesEventStream(t *testing.T) {
	tr := NewProcessTransport(Config{
		Identity: "p1",
		Mode:     ModeProcess,
		Command:  "/bin/sleep",
		Args:     []string{"30"},
	})
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	tr.Kill()
	events := collectEvents(t, tr, 5*time.Second)
	if events[len(events)-1].Type != EventClosed {
		t.Fatalf("last event = %+v, want closed", events[len(events)-1])
	}
}

func TestProcessSendWritesJSONLine(t *testing.T) {
	// cat echoes stdin back, so the JSON line shows up as stdout.
	tr := NewProcessTransport(Config{
		Identity: "p1",
		Mode:     ModeProcess,
		Command:  "/bin/cat",
	})
	if err := tr.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := tr.Send(context.Background(), "chat-1", "hello"); err != nil {
		t.Fatal(err)
	}

	var line string
	deadline := time.After(5 * time.Second)
	for line == "" {
		select {
		case evt := <-tr.Events():
			if evt.Type == EventLogLine {
				line = evt.Data.(LogLineData).Text
			}
		case <-deadline:
			t.Fatal("no echo from child")
		}
	}
	if !strings.Contains(line, `"chat_id":"chat-1"`) || !strings.Contains(line, `"text":"hello"`) {
		t.Fatalf("stdin payload not echoed: %q", line)
	}

	_ = tr.Close(context.Background())
	collectEvents(t, tr, 5*time.Second)
}
