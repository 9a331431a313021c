package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	events    *eventChannels
	handlerID uint32
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client: client,
		events: newEventChannels(),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService.NewWhatsAppService: full client available for event handling")
	}
	return service
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(s.handleEvent)
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop removes the event handler, disconnects and closes the channels.
func (s *WhatsAppService) Stop() error {
	if s.waClient != nil && s.waClient.GetClient() != nil {
		if s.handlerID != 0 {
			s.waClient.GetClient().RemoveEventHandler(s.handlerID)
		}
		s.waClient.Disconnect()
	}
	if s.events.close() {
		slog.Info("WhatsAppService.Stop: stopped and channels closed")
	}
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.events.isStopped() {
		return ErrServiceStopped
	}
	if err := validateOutbound(to, body); err != nil {
		slog.Warn("WhatsAppService.SendMessage: rejected reply", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", to)
		return fmt.Errorf("whatsapp send failed: %w", err)
	}
	s.events.emitReceipt(models.Receipt{To: to, Body: body, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Debug("WhatsAppService.SendMessage: sent", "to", to)
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns a channel of incoming messages.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.events.responses
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Receipt:
		s.handleMessageReceipt(v)
	}
}

// handleIncomingMessage forwards text messages from other users.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text, ok := whatsapp.MessageText(evt.Message)
	if !ok {
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	response := models.Response{
		From:      phoneFromUser(evt.Info.Sender.User),
		Body:      text,
		MessageID: string(evt.Info.ID),
		Time:      evt.Info.Timestamp.Unix(),
	}
	if !s.events.emitResponse(response) {
		slog.Warn("WhatsAppService.handleIncomingMessage: dropping message", "from", response.From, "timeout", DefaultChannelTimeout)
		return
	}
	slog.Debug("WhatsAppService.handleIncomingMessage: forwarded", "from", response.From, "body_length", len(response.Body))
}

// handleMessageReceipt processes delivery and read receipts
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	receipt := models.Receipt{
		To:     phoneFromUser(evt.MessageSource.Chat.User),
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}
	if !s.events.emitReceipt(receipt) {
		slog.Warn("WhatsAppService.handleMessageReceipt: dropping receipt", "to", receipt.To)
	}
}

// phoneFromUser turns a JID user part into a "+"-prefixed number.
func phoneFromUser(user string) string {
	if strings.HasPrefix(user, "+") {
		return user
	}
	return "+" + user
}

var _ Service = (*WhatsAppService)(nil)
