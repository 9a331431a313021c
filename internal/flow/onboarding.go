// Package flow implements the onboarding conversation that walks a new user
// through a fixed questionnaire and then delivers a generated plan.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/VitalAI/internal/models"
)

// PlanGenerator produces a personalized plan from collected answers.
// A non-nil error is a failed generation; its message is shown to the user.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, answers models.Answers) (string, error)
}

// Opts holds configuration options for the Controller.
type Opts struct {
	StateManager     StateManager
	Questions        []models.Question
	Messages         *Messages
	MaxMessageLength int
}

// Option defines a configuration option for the Controller.
type Option func(*Opts)

// WithStateManager sets the record store. Defaults to a new InMemoryStateManager.
func WithStateManager(sm StateManager) Option {
	return func(o *Opts) { o.StateManager = sm }
}

// WithQuestions replaces the onboarding questionnaire.
func WithQuestions(questions []models.Question) Option {
	return func(o *Opts) { o.Questions = questions }
}

// WithMessages replaces the user-facing copy.
func WithMessages(m Messages) Option {
	return func(o *Opts) { o.Messages = &m }
}

// WithMaxMessageLength sets the outbound reply cap in characters.
func WithMaxMessageLength(n int) Option {
	return func(o *Opts) { o.MaxMessageLength = n }
}

// Controller runs the per-user onboarding state machine. It is safe for
// concurrent use; messages from one user are handled one at a time.
type Controller struct {
	state     StateManager
	generator PlanGenerator
	questions []models.Question
	messages  Messages
	maxLen    int
}

// NewController creates a Controller calling gen for plan generation.
func NewController(gen PlanGenerator, opts ...Option) (*Controller, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if gen == nil {
		return nil, fmt.Errorf("plan generator is required")
	}
	if cfg.StateManager == nil {
		cfg.StateManager = NewInMemoryStateManager()
	}
	if cfg.Questions == nil {
		cfg.Questions = DefaultQuestions()
	}
	if err := ValidateQuestions(cfg.Questions); err != nil {
		return nil, fmt.Errorf("invalid questionnaire: %w", err)
	}
	messages := DefaultMessages()
	if cfg.Messages != nil {
		messages = *cfg.Messages
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = models.MaxMessageLength
	}

	questions := make([]models.Question, len(cfg.Questions))
	copy(questions, cfg.Questions)

	slog.Debug("Controller.NewController: created", "questions", len(questions), "maxMessageLength", cfg.MaxMessageLength)
	return &Controller{
		state:     cfg.StateManager,
		generator: gen,
		questions: questions,
		messages:  messages,
		maxLen:    cfg.MaxMessageLength,
	}, nil
}

// Questions returns a copy of the questionnaire.
func (c *Controller) Questions() []models.Question {
	out := make([]models.Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// StateManager returns the record store the controller uses.
func (c *Controller) StateManager() StateManager {
	return c.state
}

// HandleMessage applies one inbound message from userID and returns the single
// reply to send. It never fails: plan generation errors become inline notices.
func (c *Controller) HandleMessage(ctx context.Context, userID, text string) string {
	text = strings.TrimSpace(text)

	turn, created := c.state.Acquire(userID)
	defer turn.Release()

	if created {
		slog.Info("Controller.HandleMessage: first contact", "userID", userID)
		return c.cap(c.messages.Welcome + c.questions[0].Prompt)
	}

	command := models.Command(strings.ToLower(text))
	if command == models.CommandRestart {
		turn.Reset()
		slog.Info("Controller.HandleMessage: restart", "userID", userID)
		return c.cap(c.messages.Restart + c.questions[0].Prompt)
	}

	rec := turn.Record()
	if rec.Complete {
		return c.handleComplete(ctx, rec, command)
	}

	if rec.Step >= len(c.questions) {
		// Every answer is in but the last generation failed; retry without
		// consuming this message as an answer.
		slog.Info("Controller.HandleMessage: retrying plan generation", "userID", userID)
		return c.completeOnboarding(ctx, turn)
	}

	q := c.questions[rec.Step]
	rec.Answers[q.Field] = text
	rec.Step++
	turn.Touch()
	slog.Debug("Controller.HandleMessage: answer recorded", "userID", userID, "field", q.Field, "step", rec.Step)

	if rec.Step < len(c.questions) {
		return c.cap(c.questions[rec.Step].Prompt)
	}
	slog.Info("Controller.HandleMessage: onboarding answers complete", "userID", userID)
	return c.completeOnboarding(ctx, turn)
}

// handleComplete answers a message from an onboarded user.
func (c *Controller) handleComplete(ctx context.Context, rec *models.UserRecord, command models.Command) string {
	reply := c.messages.AlreadyOnboarded
	if command != models.CommandPlan {
		return c.cap(reply)
	}

	plan, err := c.generator.GeneratePlan(ctx, rec.Answers.Clone())
	if err != nil {
		slog.Warn("Controller.handleComplete: plan regeneration failed", "userID", rec.UserID, "error", err)
		return c.cap(reply + c.messages.Separator + c.messages.planLoadFailed(err))
	}
	slog.Info("Controller.handleComplete: plan regenerated", "userID", rec.UserID, "length", len(plan))
	return withinBudget(reply+c.messages.Separator, plan, c.maxLen)
}

// completeOnboarding generates the first plan. On success the record becomes
// complete; on failure it stays pending so the next message retries.
func (c *Controller) completeOnboarding(ctx context.Context, turn *Turn) string {
	rec := turn.Record()
	plan, err := c.generator.GeneratePlan(ctx, rec.Answers.Clone())
	if err != nil {
		slog.Warn("Controller.completeOnboarding: plan generation failed", "userID", rec.UserID, "error", err)
		return c.cap(c.messages.generationFailed(err))
	}

	rec.Complete = true
	turn.Touch()
	slog.Info("Controller.completeOnboarding: user onboarded", "userID", rec.UserID, "length", len(plan))
	return withinBudget(c.messages.PlanIntro, plan, c.maxLen)
}

func (c *Controller) cap(s string) string {
	return truncate(s, c.maxLen)
}

// Stats summarizes the records held by the controller.
type Stats struct {
	Users       int `json:"users"`
	Onboarding  int `json:"onboarding"`
	PlanPending int `json:"plan_pending"`
	Complete    int `json:"complete"`
}

// Stats counts users per conversation state.
func (c *Controller) Stats() Stats {
	var s Stats
	for _, rec := range c.state.Snapshot() {
		s.Users++
		switch rec.State(len(c.questions)) {
		case models.StateComplete:
			s.Complete++
		case models.StatePlanPending:
			s.PlanPending++
		default:
			s.Onboarding++
		}
	}
	return s
}
