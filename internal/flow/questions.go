package flow

import (
	"errors"
	"fmt"

	"github.com/BTreeMap/VitalAI/internal/models"
)

// Onboarding question fields.
const (
	FieldAge    = "age"
	FieldWeight = "weight"
	FieldGoal   = "goal"
	FieldDiet   = "diet"
)

// ErrNoQuestions is returned when a questionnaire is empty.
var ErrNoQuestions = errors.New("questionnaire must contain at least one question")

// DefaultQuestions returns the onboarding questionnaire in interrogation order.
func DefaultQuestions() []models.Question {
	return []models.Question{
		{Field: FieldAge, Prompt: "🎂 What's your age?"},
		{Field: FieldWeight, Prompt: "⚖️ What's your weight in kg?"},
		{Field: FieldGoal, Prompt: "🎯 What's your primary fitness goal (e.g., lose fat, gain muscle)?"},
		{Field: FieldDiet, Prompt: "🥗 Any dietary preference (e.g., vegetarian, keto)?"},
	}
}

// ValidateQuestions checks that the questionnaire is non-empty and that every
// question has a unique field and a prompt.
func ValidateQuestions(questions []models.Question) error {
	if len(questions) == 0 {
		return ErrNoQuestions
	}
	seen := make(map[string]bool, len(questions))
	for i, q := range questions {
		if q.Field == "" {
			return fmt.Errorf("question %d: empty field", i)
		}
		if q.Prompt == "" {
			return fmt.Errorf("question %d (%s): empty prompt", i, q.Field)
		}
		if seen[q.Field] {
			return fmt.Errorf("question %d: duplicate field %q", i, q.Field)
		}
		seen[q.Field] = true
	}
	return nil
}
