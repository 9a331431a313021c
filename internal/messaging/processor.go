package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/store"
)

// Replier produces the reply to one inbound message. flow.Controller implements it.
type Replier interface {
	HandleMessage(ctx context.Context, userID, text string) string
}

// Processor runs one inbound message through dedup, the transcript and the
// Replier. Both the synchronous webhook and the ResponseHandler use it.
type Processor struct {
	replier Replier
	store   store.Store
	now     func() time.Time
}

// NewProcessor creates a Processor. A nil store falls back to an in-memory one.
func NewProcessor(replier Replier, st store.Store) *Processor {
	if st == nil {
		st = store.NewInMemoryStore()
	}
	return &Processor{replier: replier, store: st, now: time.Now}
}

// Store returns the transcript store.
func (p *Processor) Store() store.Store {
	return p.store
}

// Process handles resp and returns the reply. handled is false when the
// message was a redelivery of one already processed; no reply is due then.
func (p *Processor) Process(ctx context.Context, resp models.Response) (reply string, handled bool, err error) {
	if err := resp.Validate(); err != nil {
		return "", false, err
	}
	if resp.Time == 0 {
		resp.Time = p.now().Unix()
	}

	if resp.MessageID != "" {
		inserted, err := p.store.RecordInbound(resp.MessageID, resp.From)
		if err != nil {
			// The ledger is advisory; a storage error must not drop the user's message.
			slog.Warn("Processor.Process: dedup record failed", "error", err, "messageID", resp.MessageID)
		} else if !inserted {
			slog.Info("Processor.Process: duplicate message ignored", "from", resp.From, "messageID", resp.MessageID)
			return "", false, nil
		}
	}

	if err := p.store.AddResponse(resp); err != nil {
		slog.Warn("Processor.Process: transcript write failed", "error", err, "from", resp.From)
	}

	reply = p.replier.HandleMessage(ctx, resp.From, resp.Body)

	if resp.MessageID != "" {
		if err := p.store.MarkProcessed(resp.MessageID); err != nil {
			slog.Warn("Processor.Process: mark processed failed", "error", err, "messageID", resp.MessageID)
		}
	}
	return reply, true, nil
}

// RecordReply appends an outbound reply to the transcript.
func (p *Processor) RecordReply(to, body string, status models.MessageStatus) {
	receipt := models.Receipt{To: to, Body: body, Status: status, Time: p.now().Unix()}
	if err := p.store.AddReceipt(receipt); err != nil {
		slog.Warn("Processor.RecordReply: transcript write failed", "error", err, "to", to)
	}
}
