package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xpe-hub/xpe-bot/internal/bot"
	"github.com/xpe-hub/xpe-bot/internal/logsink"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() > 0 {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client never attached")
	return nil
}

func TestHubBroadcastsStatusFrames(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	hub.BotStatus(bot.Status{ID: "main", State: bot.StateConnected})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Event != "bot.status" {
		t.Fatalf("event = %q", frame.Event)
	}
	data, ok := frame.Data.(map[string]any)
	if !ok || data["id"] != "main" {
		t.Fatalf("data = %+v", frame.Data)
	}
}

func TestHubForwardsSinkEntries(t *testing.T) {
	hub := NewHub()
	sink := logsink.New(0)
	hub.WatchSink(sink)
	conn := dialHub(t, hub)

	sink.Append(logsink.SeverityWarning, "disk almost full")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Event != "bot.log" {
		t.Fatalf("event = %q", frame.Event)
	}
}
