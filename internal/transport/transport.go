// Package transport abstracts the bidirectional channel to a running bot:
// either a WhatsApp protocol session or an external OS child process. The
// bot connection consumes the event stream and never touches the concrete
// binding.
package transport

import (
	"context"
	"time"
)

// Mode selects the concrete transport binding.
type Mode string

const (
	ModeWhatsApp Mode = "whatsapp"
	ModeProcess  Mode = "process"
)

// Config describes how to open a transport for one bot identity.
type Config struct {
	Identity string
	Mode     Mode

	// WhatsApp session store (sqlite DSN for the protocol library).
	SessionDSN string

	// External process settings.
	WorkingDir string
	Command    string
	Args       []string
}

// EventType tags an event from the transport.
type EventType string

const (
	// EventQR carries a pairing code the user must scan.
	EventQR EventType = "qr"
	// EventConnected reports a successfully authenticated session.
	EventConnected EventType = "connected"
	// EventClosed reports the transport shutting down.
	EventClosed EventType = "closed"
	// EventFatal reports an unrecoverable transport error.
	EventFatal EventType = "fatal"
	// EventMessage carries an inbound application message.
	EventMessage EventType = "message"
	// EventLogLine carries one line of process output.
	EventLogLine EventType = "log_line"
)

// Event is a notification from the transport to its bot connection.
type Event struct {
	Type EventType
	Data any
}

// QRData is the payload of EventQR.
type QRData struct {
	Code string
}

// ConnectedData is the payload of EventConnected.
type ConnectedData struct {
	AccountID string
}

// ClosedData is the payload of EventClosed. AuthInvalid distinguishes a
// server-side credential invalidation from an expected close.
type ClosedData struct {
	AuthInvalid bool
	Reason      string
}

// FatalData is the payload of EventFatal.
type FatalData struct {
	Err error
}

// MessageData is the payload of EventMessage.
type MessageData struct {
	Inbound Inbound
}

// LogLineData is the payload of EventLogLine.
type LogLineData struct {
	Text   string
	Stderr bool
}

// Inbound is a raw inbound message before classification.
type Inbound struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderName string
	IsGroup    bool
	FromSelf   bool
	Timestamp  time.Time
	Payload    Payload
	Raw        any
}

// Payload holds the transport-level content variants of an inbound
// message. At most one variant is set; all nil/empty means unrecognized.
type Payload struct {
	Text     string
	Image    *MediaInfo
	Video    *MediaInfo
	Audio    *MediaInfo
	Document *DocumentInfo
	Sticker  bool
	Location *LocationInfo
	Contact  bool
}

// MediaInfo describes an image/video/audio payload.
type MediaInfo struct {
	Caption  string
	MimeType string
}

// DocumentInfo describes a document payload.
type DocumentInfo struct {
	FileName string
}

// LocationInfo describes a location payload.
type LocationInfo struct {
	Latitude  float64
	Longitude float64
}

// Transport is a live channel to one bot. Open must be called once;
// Events is closed after the transport reaches a terminal state.
type Transport interface {
	// Open establishes the channel and starts the event stream.
	Open(ctx context.Context) error

	// Close requests a graceful shutdown. It does not wait for the
	// event stream to drain.
	Close(ctx context.Context) error

	// Kill forcibly tears the channel down.
	Kill()

	// Send delivers a text message to a conversation.
	Send(ctx context.Context, chatID, text string) error

	// Events returns the stream of transport notifications.
	Events() <-chan Event
}

// Factory builds a transport for a config. Injected into the supervisor
// so tests can substitute fakes.
type Factory func(cfg Config) (Transport, error)

// NewTransport is the production factory covering both bindings.
func NewTransport(cfg Config) (Transport, error) {
	switch cfg.Mode {
	case ModeProcess:
		return NewProcessTransport(cfg), nil
	default:
		return NewWhatsAppTransport(cfg)
	}
}
