package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using Twilio API.
//
// Twilio has no live connection: inbound messages arrive on the HTTP webhook,
// which hands them to EmitResponse when replies are sent asynchronously.
type TwilioService struct {
	client twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	events *eventChannels
}

// NewTwilioService creates a new TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client: client,
		events: newEventChannels(),
	}
}

// Start is a no-op for Twilio (no live client)
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Debug("TwilioService.Start: nothing to start")
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	if s.events.close() {
		slog.Info("TwilioService.Stop: stopped and channels closed")
	}
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.events.isStopped() {
		return ErrServiceStopped
	}
	if err := validateOutbound(to, body); err != nil {
		slog.Warn("TwilioService.SendMessage: rejected reply", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("TwilioService.SendMessage: send failed", "error", err, "to", to)
		return fmt.Errorf("twilio send failed: %w", err)
	}

	s.events.emitReceipt(models.Receipt{To: to, Body: body, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Debug("TwilioService.SendMessage: sent", "to", to)
	return nil
}

// EmitResponse queues an inbound webhook message for asynchronous handling.
// It reports false if the service is stopped or the queue stayed full.
func (s *TwilioService) EmitResponse(response models.Response) bool {
	if !s.events.emitResponse(response) {
		slog.Warn("TwilioService.EmitResponse: dropping inbound message", "from", response.From)
		return false
	}
	slog.Debug("TwilioService.EmitResponse: queued inbound message", "from", response.From)
	return true
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns the channel for incoming webhook messages
func (s *TwilioService) Responses() <-chan models.Response {
	return s.events.responses
}

var _ Service = (*TwilioService)(nil)
