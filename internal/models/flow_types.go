// Package models defines conversation state type definitions to avoid circular imports.
package models

// StateType names the phase a user's conversation is in.
type StateType string

// Conversation states.
const (
	// StateOnboarding means questions remain unanswered.
	StateOnboarding StateType = "ONBOARDING"
	// StatePlanPending means every question is answered but no plan has been generated yet.
	StatePlanPending StateType = "PLAN_PENDING"
	// StateComplete means a plan was generated and the user is onboarded.
	StateComplete StateType = "COMPLETE"
)

// Command is a reserved message body recognized case-insensitively.
type Command string

// Commands recognized in inbound messages.
const (
	CommandRestart Command = "restart"
	CommandPlan    Command = "plan"
)
