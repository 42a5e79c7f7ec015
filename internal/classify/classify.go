// Package classify maps raw transport events to structured message
// records. Classification is a pure function; precedence follows the
// payload ladder (first match wins).
package classify

import (
	"fmt"
	"strings"

	"github.com/xpe-hub/xpe-bot/internal/message"
	"github.com/xpe-hub/xpe-bot/internal/transport"
)

// Classify builds a structured message from an inbound transport event.
// Text bodies starting with commandPrefix classify as commands; media
// kinds without text get a fixed human-readable placeholder body.
func Classify(in transport.Inbound, botID, commandPrefix string) message.Message {
	msg := message.Message{
		ID:         in.ID,
		BotID:      botID,
		ChatID:     in.ChatID,
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		IsGroup:    in.IsGroup,
		ReceivedAt: in.Timestamp,
		Raw:        in.Raw,
	}

	p := in.Payload
	switch {
	case p.Text != "":
		msg.Kind = message.KindText
		msg.Body = p.Text
		if commandPrefix != "" && strings.HasPrefix(strings.TrimSpace(p.Text), commandPrefix) {
			msg.Kind = message.KindCommand
		}
	case p.Image != nil:
		msg.Kind = message.KindImage
		msg.Body = captionOr(p.Image.Caption, "[Image]")
	case p.Video != nil:
		msg.Kind = message.KindVideo
		msg.Body = captionOr(p.Video.Caption, "[Video]")
	case p.Audio != nil:
		msg.Kind = message.KindAudio
		msg.Body = "[Audio]"
	case p.Document != nil:
		name := p.Document.FileName
		if name == "" {
			name = "document"
		}
		msg.Kind = message.KindDocument
		msg.Body = fmt.Sprintf("[File: %s]", name)
	case p.Sticker:
		msg.Kind = message.KindSticker
		msg.Body = "[Sticker]"
	case p.Location != nil:
		msg.Kind = message.KindLocation
		msg.Body = fmt.Sprintf("[Location: %f, %f]", p.Location.Latitude, p.Location.Longitude)
	case p.Contact:
		msg.Kind = message.KindContact
		msg.Body = "[Shared contact]"
	default:
		msg.Kind = message.KindUnknown
	}
	return msg
}

func captionOr(caption, placeholder string) string {
	if caption != "" {
		return caption
	}
	return placeholder
}
