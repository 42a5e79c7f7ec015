package history

import (
	"testing"

	"github.com/xpe-hub/xpe-bot/internal/message"
)

func msg(id, botID, sender string, kind message.Kind) message.Message {
	return message.Message{ID: id, BotID: botID, SenderID: sender, Kind: kind}
}

func TestAppendBoundedNewestFirst(t *testing.T) {
	h := New(2)
	h.Append(msg("1", "main", "a@s.whatsapp.net", message.KindText))
	h.Append(msg("2", "main", "b@s.whatsapp.net", message.KindText))
	h.Append(msg("3", "main", "c@s.whatsapp.net", message.KindText))

	got := h.Recent(0)
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "3" || got[1].ID != "2" {
		t.Errorf("Expected newest-first 3, 2; got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestFilterByKind(t *testing.T) {
	h := New(10)
	h.Append(msg("1", "main", "a", message.KindText))
	h.Append(msg("2", "main", "a", message.KindImage))
	h.Append(msg("3", "main", "a", message.KindText))

	got := h.Find(Filter{Kind: message.KindText})
	if len(got) != 2 {
		t.Fatalf("Expected 2 text messages, got %d", len(got))
	}
	for _, m := range got {
		if m.Kind != message.KindText {
			t.Errorf("Filter returned kind %s", m.Kind)
		}
	}
}

func TestFilterByBotID(t *testing.T) {
	h := New(10)
	h.Append(msg("1", "main", "a", message.KindText))
	h.Append(msg("2", "sub-1", "a", message.KindText))

	got := h.Find(Filter{BotID: "main"})
	if len(got) != 1 || got[0].BotID != "main" {
		t.Fatalf("Expected only main messages, got %+v", got)
	}
}

func TestFiltersCompose(t *testing.T) {
	h := New(10)
	h.Append(msg("1", "main", "5215551234@s.whatsapp.net", message.KindText))
	h.Append(msg("2", "main", "5215551234@s.whatsapp.net", message.KindImage))
	h.Append(msg("3", "sub-1", "5215551234@s.whatsapp.net", message.KindText))
	h.Append(msg("4", "main", "999@s.whatsapp.net", message.KindText))

	got := h.Find(Filter{Kind: message.KindText, BotID: "main", SenderContains: "5551234"})
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("Expected only message 1, got %+v", got)
	}
}

func TestFilterSenderCaseInsensitive(t *testing.T) {
	h := New(10)
	h.Append(msg("1", "main", "Alice@s.whatsapp.net", message.KindText))

	got := h.Find(Filter{SenderContains: "alice"})
	if len(got) != 1 {
		t.Fatalf("Expected case-insensitive match, got %d results", len(got))
	}
}

func TestSubscriberReceivesAppend(t *testing.T) {
	h := New(10)
	var received []message.Message
	h.Subscribe(func(m message.Message) {
		received = append(received, m)
	})

	h.Append(msg("1", "main", "a", message.KindText))

	if len(received) != 1 || received[0].ID != "1" {
		t.Fatalf("Expected delivered message 1, got %+v", received)
	}
}

func TestClear(t *testing.T) {
	h := New(10)
	h.Append(msg("1", "main", "a", message.KindText))
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Expected empty history, got %d", h.Len())
	}
}
