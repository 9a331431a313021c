package flow

import (
	"fmt"
	"unicode/utf8"
)

// Messages holds the user-facing copy of the onboarding conversation.
type Messages struct {
	Welcome          string // followed by the first question
	Restart          string // followed by the first question
	AlreadyOnboarded string
	PlanIntro        string // prefixed to a freshly generated plan
	GenerationFailed string // %s receives the failure message
	PlanLoadFailed   string // %s receives the failure message
	Separator        string // joins the onboarded notice and the plan or error
}

// DefaultMessages returns the standard VitalAI copy.
func DefaultMessages() Messages {
	return Messages{
		Welcome:          "💪 Welcome to *VitalAI*, your AI-powered personal coach.\nLet's get started! ",
		Restart:          "🔄 Restarting setup. ",
		AlreadyOnboarded: "✅ You're already onboarded!\nReply *restart* to reset or *plan* to view your plan again.",
		PlanIntro:        "📋 Here's your plan:\n\n",
		GenerationFailed: "⚠️ Could not generate plan. Error: %s\nReply with anything to try again, or *restart* to start over.",
		PlanLoadFailed:   "⚠️ Error loading your plan: %s",
		Separator:        "\n\n",
	}
}

func (m Messages) generationFailed(err error) string {
	return fmt.Sprintf(m.GenerationFailed, err.Error())
}

func (m Messages) planLoadFailed(err error) string {
	return fmt.Sprintf(m.PlanLoadFailed, err.Error())
}

// truncate cuts s to at most limit characters without splitting a rune.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// withinBudget appends body to prefix, cutting body so that the result holds at
// most limit characters. A prefix that alone exceeds limit is itself cut.
func withinBudget(prefix, body string, limit int) string {
	budget := limit - utf8.RuneCountInString(prefix)
	if budget <= 0 {
		return truncate(prefix, limit)
	}
	return prefix + truncate(body, budget)
}
