package transport

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

// WhatsAppTransport binds a bot identity to a multi-device WhatsApp
// session. Credentials live in the protocol library's sqlite container;
// a missing session triggers the QR pairing flow.
type WhatsAppTransport struct {
	cfg       Config
	container *sqlstore.Container
	client    *whatsmeow.Client
	events    chan Event

	mu       sync.Mutex
	stopping bool
	closed   bool
}

// NewWhatsAppTransport creates an unopened WhatsApp transport.
func NewWhatsAppTransport(cfg Config) (*WhatsAppTransport, error) {
	if cfg.SessionDSN == "" {
		return nil, fmt.Errorf("whatsapp transport %s: no session store configured", cfg.Identity)
	}
	return &WhatsAppTransport{
		cfg:    cfg,
		events: make(chan Event, 100),
	}, nil
}

// Open loads (or provisions) the device session and connects. When no
// credentials are stored, pairing codes stream out as EventQR until the
// user scans one.
func (t *WhatsAppTransport) Open(ctx context.Context) error {
	dbLog := waLog.Stdout("Database", "ERROR", true)
	container, err := sqlstore.New(ctx, "sqlite", t.cfg.SessionDSN, dbLog)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	t.container = container

	device, err := container.GetFirstDevice(ctx)
	if err == sql.ErrNoRows || device == nil {
		device = container.NewDevice()
	} else if err != nil {
		return fmt.Errorf("failed to load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "ERROR", true))
	client.EnableAutoReconnect = false
	client.AddEventHandler(t.handleEvent)
	t.client = client

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go t.pumpQR(qrChan)
		return nil
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (t *WhatsAppTransport) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			t.emit(Event{Type: EventQR, Data: QRData{Code: evt.Code}})
		case "success":
			// events.Connected follows from the client handler.
			return
		case "timeout":
			t.emit(Event{Type: EventClosed, Data: ClosedData{Reason: "qr scan timed out"}})
			t.closeEvents()
			return
		}
	}
}

func (t *WhatsAppTransport) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		accountID := ""
		if t.client.Store.ID != nil {
			accountID = t.client.Store.ID.User
		}
		t.emit(Event{Type: EventConnected, Data: ConnectedData{AccountID: accountID}})
	case *events.LoggedOut:
		t.emit(Event{Type: EventClosed, Data: ClosedData{AuthInvalid: true, Reason: "logged out by server"}})
		t.closeEvents()
	case *events.Disconnected:
		t.mu.Lock()
		stopping := t.stopping
		t.mu.Unlock()
		reason := "connection closed"
		if stopping {
			reason = "stopped"
		}
		t.emit(Event{Type: EventClosed, Data: ClosedData{Reason: reason}})
		t.closeEvents()
	case *events.StreamReplaced:
		t.emit(Event{Type: EventFatal, Data: FatalData{Err: fmt.Errorf("stream replaced by another session")}})
		t.closeEvents()
	case *events.Message:
		t.emit(Event{Type: EventMessage, Data: MessageData{Inbound: buildInbound(v)}})
	}
}

func buildInbound(v *events.Message) Inbound {
	info := v.Info
	senderName := info.PushName
	if senderName == "" {
		senderName = info.Sender.User
	}
	inbound := Inbound{
		ID:         info.ID,
		ChatID:     info.Chat.String(),
		SenderID:   info.Sender.String(),
		SenderName: senderName,
		IsGroup:    info.IsGroup,
		FromSelf:   info.IsFromMe,
		Timestamp:  info.Timestamp,
		Raw:        v.Message,
	}

	msg := v.Message
	switch {
	case msg.GetConversation() != "":
		inbound.Payload.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		inbound.Payload.Text = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		inbound.Payload.Image = &MediaInfo{
			Caption:  msg.GetImageMessage().GetCaption(),
			MimeType: msg.GetImageMessage().GetMimetype(),
		}
	case msg.GetVideoMessage() != nil:
		inbound.Payload.Video = &MediaInfo{
			Caption:  msg.GetVideoMessage().GetCaption(),
			MimeType: msg.GetVideoMessage().GetMimetype(),
		}
	case msg.GetAudioMessage() != nil:
		inbound.Payload.Audio = &MediaInfo{MimeType: msg.GetAudioMessage().GetMimetype()}
	case msg.GetDocumentMessage() != nil:
		inbound.Payload.Document = &DocumentInfo{FileName: msg.GetDocumentMessage().GetFileName()}
	case msg.GetStickerMessage() != nil:
		inbound.Payload.Sticker = true
	case msg.GetLocationMessage() != nil:
		inbound.Payload.Location = &LocationInfo{
			Latitude:  msg.GetLocationMessage().GetDegreesLatitude(),
			Longitude: msg.GetLocationMessage().GetDegreesLongitude(),
		}
	case msg.GetContactMessage() != nil, msg.GetContactsArrayMessage() != nil:
		inbound.Payload.Contact = true
	}
	return inbound
}

func (t *WhatsAppTransport) emit(evt Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- evt:
	default:
		// Event buffer full; drop rather than block the client handler.
	}
}

func (t *WhatsAppTransport) closeEvents() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.events)
}

// Close disconnects the session. The protocol library's Disconnect is
// synchronous and does not fire a Disconnected event, so the close event
// is emitted here.
func (t *WhatsAppTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect()
	}
	t.emit(Event{Type: EventClosed, Data: ClosedData{Reason: "stopped"}})
	t.closeEvents()
	return nil
}

// Kill tears the session down without ceremony.
func (t *WhatsAppTransport) Kill() {
	if t.client != nil {
		t.client.Disconnect()
	}
	t.closeEvents()
}

// Send delivers a plain text message.
func (t *WhatsAppTransport) Send(ctx context.Context, chatID, text string) error {
	if t.client == nil || !t.client.IsConnected() {
		return fmt.Errorf("whatsapp transport %s: not connected", t.cfg.Identity)
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	_, err = t.client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Events returns the transport event stream.
func (t *WhatsAppTransport) Events() <-chan Event {
	return t.events
}
