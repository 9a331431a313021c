// Package messaging connects WhatsApp transports to the onboarding conversation.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/VitalAI/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., listening for events).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming user messages.
	Responses() <-chan models.Response
}

// eventChannels holds the receipt and response channels shared by services.
// Sends and close are serialized so a late event never hits a closed channel.
type eventChannels struct {
	mu        sync.RWMutex
	receipts  chan models.Receipt
	responses chan models.Response
	stopped   bool
}

func newEventChannels() *eventChannels {
	return &eventChannels{
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (c *eventChannels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// emitReceipt forwards r, dropping it if the buffer stays full past DefaultChannelTimeout.
func (c *eventChannels) emitReceipt(r models.Receipt) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return false
	}
	select {
	case c.receipts <- r:
		return true
	case <-time.After(DefaultChannelTimeout):
		return false
	}
}

// emitResponse forwards r, dropping it if the buffer stays full past DefaultChannelTimeout.
func (c *eventChannels) emitResponse(r models.Response) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return false
	}
	select {
	case c.responses <- r:
		return true
	case <-time.After(DefaultChannelTimeout):
		return false
	}
}

// close marks the channels stopped and closes them once. It reports whether
// this call did the closing.
func (c *eventChannels) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.stopped = true
	close(c.receipts)
	close(c.responses)
	return true
}

// validateOutbound rejects replies the transports would refuse.
func validateOutbound(to, body string) error {
	if strings.TrimSpace(to) == "" {
		return models.ErrEmptyRecipient
	}
	if n := utf8.RuneCountInString(body); n > models.MaxMessageLength {
		return fmt.Errorf("%w: %d characters, limit %d", models.ErrMessageTooLong, n, models.MaxMessageLength)
	}
	return nil
}
