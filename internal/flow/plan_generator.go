// Package flow provides the GenAI-backed plan generator for onboarding.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/VitalAI/internal/genai"
	"github.com/BTreeMap/VitalAI/internal/models"
)

// DefaultPlanSystemPrompt is the system prompt used when none is loaded from file.
const DefaultPlanSystemPrompt = "You are an elite AI fitness and wellness assistant."

const planInstructions = `Create a powerful 5-day workout plan with sets, reps, and rest days. Include YouTube links for guidance.
Then create a full-day meal plan tailored to their diet.

Make it motivational, engaging, and very practical. Use emojis and clear section headers.`

var (
	// ErrIncompleteAnswers is returned when an answer for a questionnaire field is missing.
	ErrIncompleteAnswers = errors.New("incomplete onboarding answers")
	// ErrEmptyPlan is returned when the model produced no text.
	ErrEmptyPlan = errors.New("generated plan is empty")
)

// GenAIPlanGenerator builds a coaching prompt from onboarding answers and asks
// the GenAI client for a plan.
type GenAIPlanGenerator struct {
	client           genai.ClientInterface
	questions        []models.Question
	systemPrompt     string
	systemPromptFile string
}

// NewGenAIPlanGenerator creates a plan generator for the given questionnaire.
func NewGenAIPlanGenerator(client genai.ClientInterface, questions []models.Question) *GenAIPlanGenerator {
	if questions == nil {
		questions = DefaultQuestions()
	}
	slog.Debug("GenAIPlanGenerator.NewGenAIPlanGenerator: created", "hasClient", client != nil, "questions", len(questions))
	return &GenAIPlanGenerator{
		client:       client,
		questions:    questions,
		systemPrompt: DefaultPlanSystemPrompt,
	}
}

// LoadSystemPrompt replaces the system prompt with the content of path.
func (g *GenAIPlanGenerator) LoadSystemPrompt(path string) error {
	slog.Debug("GenAIPlanGenerator.LoadSystemPrompt: loading system prompt from file", "file", path)
	if path == "" {
		return fmt.Errorf("plan system prompt file not configured")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Error("GenAIPlanGenerator.LoadSystemPrompt: failed to read system prompt file", "file", path, "error", err)
		return fmt.Errorf("failed to read plan system prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(content))
	if prompt == "" {
		return fmt.Errorf("plan system prompt file %s is empty", path)
	}
	g.systemPrompt = prompt
	g.systemPromptFile = path
	slog.Info("GenAIPlanGenerator.LoadSystemPrompt: system prompt loaded successfully", "file", path, "length", len(prompt))
	return nil
}

// SystemPrompt returns the system prompt currently in use.
func (g *GenAIPlanGenerator) SystemPrompt() string {
	return g.systemPrompt
}

// GeneratePlan implements PlanGenerator.
func (g *GenAIPlanGenerator) GeneratePlan(ctx context.Context, answers models.Answers) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("genai client not initialized")
	}
	userPrompt, err := g.BuildPrompt(answers)
	if err != nil {
		return "", err
	}
	plan, err := g.client.GeneratePromptWithContext(ctx, g.systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return "", ErrEmptyPlan
	}
	return plan, nil
}

// BuildPrompt renders the user prompt listing every answer in question order.
func (g *GenAIPlanGenerator) BuildPrompt(answers models.Answers) (string, error) {
	var b strings.Builder
	b.WriteString("You are a world-class fitness coach and dietician helping a new client.\n\nClient:\n")
	for _, q := range g.questions {
		v, ok := answers[q.Field]
		if !ok {
			return "", fmt.Errorf("%w: missing %s", ErrIncompleteAnswers, q.Field)
		}
		fmt.Fprintf(&b, "- %s: %s\n", fieldLabel(q.Field), v)
	}
	b.WriteString("\n")
	b.WriteString(planInstructions)
	return b.String(), nil
}

// fieldLabel turns a field key such as "body_fat" into "Body fat".
func fieldLabel(field string) string {
	label := strings.ReplaceAll(field, "_", " ")
	r, size := utf8.DecodeRuneInString(label)
	if size == 0 {
		return label
	}
	return string(unicode.ToUpper(r)) + label[size:]
}
