package messaging

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/BTreeMap/VitalAI/internal/models"
)

// DefaultWorkers is the number of concurrent reply workers.
const DefaultWorkers = 8

// HandlerOpts holds configuration options for the ResponseHandler.
type HandlerOpts struct {
	Workers int
}

// HandlerOption defines a configuration option for the ResponseHandler.
type HandlerOption func(*HandlerOpts)

// WithWorkers sets the number of reply workers.
func WithWorkers(n int) HandlerOption {
	return func(o *HandlerOpts) { o.Workers = n }
}

// ResponseHandler consumes a Service's inbound messages and sends each reply
// back through the same Service.
//
// Messages are sharded by sender onto workers, so one user's messages are
// answered in arrival order while different users proceed in parallel.
type ResponseHandler struct {
	msgService Service
	processor  *Processor
	workers    int
	wg         sync.WaitGroup
}

// NewResponseHandler creates a ResponseHandler.
func NewResponseHandler(msgService Service, processor *Processor, opts ...HandlerOption) *ResponseHandler {
	cfg := HandlerOpts{Workers: DefaultWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &ResponseHandler{
		msgService: msgService,
		processor:  processor,
		workers:    cfg.Workers,
	}
}

// ProcessResponse handles one inbound message and sends the reply.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	reply, handled, err := rh.processor.Process(ctx, response)
	if err != nil {
		return fmt.Errorf("invalid inbound message: %w", err)
	}
	if !handled || reply == "" {
		return nil
	}

	if err := rh.msgService.SendMessage(ctx, response.From, reply); err != nil {
		rh.processor.RecordReply(response.From, reply, models.MessageStatusFailed)
		return fmt.Errorf("failed to send reply: %w", err)
	}
	rh.processor.RecordReply(response.From, reply, models.MessageStatusSent)
	slog.Debug("ResponseHandler.ProcessResponse: reply sent", "to", response.From, "length", len(reply))
	return nil
}

// Start begins processing responses from the messaging service. Processing
// ends when ctx is cancelled or the Responses channel is closed; Wait blocks
// until every queued message has been answered.
func (rh *ResponseHandler) Start(ctx context.Context) {
	queues := make([]chan models.Response, rh.workers)
	for i := range queues {
		queues[i] = make(chan models.Response, DefaultChannelBufferSize)
		rh.wg.Add(1)
		go rh.work(ctx, queues[i])
	}

	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			select {
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler.Start: responses channel closed")
					return
				}
				select {
				case queues[shard(response.From, len(queues))] <- response:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				slog.Debug("ResponseHandler.Start: stopping due to context cancellation")
				return
			}
		}
	}()
	slog.Info("ResponseHandler.Start: response processing started", "workers", rh.workers)
}

// Wait blocks until the dispatcher and all workers have exited.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

func (rh *ResponseHandler) work(ctx context.Context, queue <-chan models.Response) {
	defer rh.wg.Done()
	for response := range queue {
		if err := rh.ProcessResponse(ctx, response); err != nil {
			slog.Error("ResponseHandler.work: failed to process response", "error", err, "from", response.From)
		}
	}
}

func shard(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
