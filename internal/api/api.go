// Package api provides the HTTP server and wiring for VitalAI.
//
// It exposes the Twilio WhatsApp webhook plus read-only transcript, stats and
// health endpoints, and assembles the store, GenAI, flow and messaging modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/VitalAI/internal/flow"
	"github.com/BTreeMap/VitalAI/internal/genai"
	"github.com/BTreeMap/VitalAI/internal/messaging"
	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/store"
	"github.com/BTreeMap/VitalAI/internal/twiliowhatsapp"
	"github.com/BTreeMap/VitalAI/internal/whatsapp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Default configuration constants
const (
	// DefaultServerAddress is the default address for the API server
	DefaultServerAddress = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second
	// DefaultReadTimeout bounds reading a webhook request
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout leaves room for a synchronous plan generation
	DefaultWriteTimeout = 2 * time.Minute
	// DefaultIdleTimeout closes idle keep-alive connections
	DefaultIdleTimeout = 120 * time.Second
)

// Messaging transports.
const (
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr                 string
	Transport            string
	TwilioAsync          bool
	PlanSystemPromptFile string
	Workers              int
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTransport selects TransportTwilio or TransportWhatsmeow.
func WithTransport(transport string) Option {
	return func(o *Opts) { o.Transport = transport }
}

// WithTwilioAsync answers Twilio webhooks immediately and sends replies through the REST API.
func WithTwilioAsync(async bool) Option {
	return func(o *Opts) { o.TwilioAsync = async }
}

// WithPlanSystemPromptFile loads the plan system prompt from path.
func WithPlanSystemPromptFile(path string) Option {
	return func(o *Opts) { o.PlanSystemPromptFile = path }
}

// WithWorkers sets the number of asynchronous reply workers.
func WithWorkers(n int) Option {
	return func(o *Opts) { o.Workers = n }
}

// Server holds all dependencies for the API server.
type Server struct {
	controller *flow.Controller
	processor  *messaging.Processor
	st         store.Store
	async      *messaging.TwilioService // set when webhook replies are sent asynchronously
	started    time.Time
}

// NewServer creates a Server. async may be nil, in which case webhook replies
// are returned inline as TwiML.
func NewServer(controller *flow.Controller, processor *messaging.Processor, async *messaging.TwilioService) *Server {
	return &Server{
		controller: controller,
		processor:  processor,
		st:         processor.Store(),
		async:      async,
		started:    time.Now(),
	}
}

// Router returns the HTTP handler serving every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/whatsapp", s.webhookHandler)
	r.Get("/receipts", s.receiptsHandler)
	r.Get("/responses", s.responsesHandler)
	r.Get("/stats", s.statsHandler)
	r.Get("/users/{userID}", s.userHandler)
	r.Get("/health", s.healthHandler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})
	return r
}

// Run initializes all modules and starts the HTTP server. It blocks until
// SIGINT or SIGTERM, then shuts everything down gracefully.
func Run(waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, flowOpts []flow.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultServerAddress, Transport: TransportTwilio}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	slog.Debug("API.Run: options applied", "addr", cfg.Addr, "transport", cfg.Transport, "twilioAsync", cfg.TwilioAsync)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	controller, err := newController(cfg, genaiOpts, flowOpts)
	if err != nil {
		return err
	}
	processor := messaging.NewProcessor(controller, st)

	svc, async, err := newMessagingService(ctx, cfg, waOpts, twilioOpts)
	if err != nil {
		return err
	}

	// Replies in flight at shutdown finish under workCtx, cancelled only once
	// the handler has drained.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	var rh *messaging.ResponseHandler
	receiptsDone := make(chan struct{})
	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		var handlerOpts []messaging.HandlerOption
		if cfg.Workers > 0 {
			handlerOpts = append(handlerOpts, messaging.WithWorkers(cfg.Workers))
		}
		rh = messaging.NewResponseHandler(svc, processor, handlerOpts...)
		rh.Start(workCtx)
		go func() {
			defer close(receiptsDone)
			recordDeliveryReceipts(svc, st)
		}()
	} else {
		close(receiptsDone)
	}

	server := NewServer(controller, processor, async)
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.Router(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API.Run: server listening", "addr", cfg.Addr, "transport", cfg.Transport)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	stop()
	slog.Info("API.Run: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API.Run: server shutdown failed", "error", err)
	}
	if svc != nil {
		svc.Stop()
		rh.Wait()
	}
	<-receiptsDone
	slog.Info("API.Run: stopped")
	return nil
}

// newController builds the GenAI client, plan generator and conversation controller.
func newController(cfg Opts, genaiOpts []genai.Option, flowOpts []flow.Option) (*flow.Controller, error) {
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GenAI client: %w", err)
	}
	return newPlanController(client, cfg, flowOpts)
}

// newPlanController wires client into a plan generator that prompts with the
// same questionnaire the controller asks.
func newPlanController(client genai.ClientInterface, cfg Opts, flowOpts []flow.Option) (*flow.Controller, error) {
	var flowCfg flow.Opts
	for _, opt := range flowOpts {
		opt(&flowCfg)
	}
	generator := flow.NewGenAIPlanGenerator(client, flowCfg.Questions)
	if cfg.PlanSystemPromptFile != "" {
		if err := generator.LoadSystemPrompt(cfg.PlanSystemPromptFile); err != nil {
			return nil, err
		}
	}
	controller, err := flow.NewController(generator, flowOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conversation controller: %w", err)
	}
	return controller, nil
}

// newMessagingService returns the service replies are sent through, or nil
// when Twilio webhooks are answered inline. async is non-nil in Twilio async mode.
func newMessagingService(ctx context.Context, cfg Opts, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option) (svc messaging.Service, async *messaging.TwilioService, err error) {
	switch cfg.Transport {
	case TransportWhatsmeow:
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case TransportTwilio, "":
		if !cfg.TwilioAsync {
			return nil, nil, nil
		}
		client, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Twilio client: %w", err)
		}
		twilioSvc := messaging.NewTwilioService(client)
		return twilioSvc, twilioSvc, nil
	default:
		return nil, nil, fmt.Errorf("unknown messaging transport %q", cfg.Transport)
	}
}

// recordDeliveryReceipts stores delivered and read receipts reported by the
// transport. Sent receipts are skipped; the reply path already recorded them.
func recordDeliveryReceipts(svc messaging.Service, st store.Store) {
	for receipt := range svc.Receipts() {
		if receipt.Status == models.MessageStatusSent {
			continue
		}
		if err := st.AddReceipt(receipt); err != nil {
			slog.Warn("API.recordDeliveryReceipts: failed to store receipt", "error", err, "to", receipt.To)
		}
	}
}
