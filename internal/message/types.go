// Package message defines the structured message record shared by the
// classifier, the history buffer and the panel boundary.
package message

import "time"

// Kind is the classified message type.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindLocation Kind = "location"
	KindContact  Kind = "contact"
	KindCommand  Kind = "command"
	KindSystem   Kind = "system"
	KindUnknown  Kind = "unknown"
)

// Message is a classified inbound message. Produced by the classifier and
// immutable afterwards.
type Message struct {
	ID         string    `json:"id"`
	BotID      string    `json:"bot_id"`
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	IsGroup    bool      `json:"is_group"`
	Kind       Kind      `json:"kind"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`

	// Raw keeps a reference to the transport payload for handlers that
	// need it (e.g. media commands). Never serialized to the panel.
	Raw any `json:"-"`
}

