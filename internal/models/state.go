// Package models defines state management structures for VitalAI conversations.
package models

import "time"

// Question is one onboarding prompt. Field is the key the answer is stored
// under; Prompt is the text sent to the user.
type Question struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
}

// Answers maps a question field to the user's raw reply.
type Answers map[string]string

// Clone returns an independent copy of the answers.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// UserRecord is the conversation state of one user.
//
// Step is the index of the next unanswered question; Answers holds exactly the
// fields of questions with index < Step. Complete is only set once every
// question has been answered and a plan was generated.
type UserRecord struct {
	UserID    string    `json:"user_id"`
	Step      int       `json:"step"`
	Answers   Answers   `json:"answers"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserRecord returns a record in the initial state.
func NewUserRecord(userID string, now time.Time) *UserRecord {
	return &UserRecord{
		UserID:    userID,
		Step:      0,
		Answers:   make(Answers),
		Complete:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the record.
func (r *UserRecord) Clone() UserRecord {
	out := *r
	out.Answers = r.Answers.Clone()
	return out
}

// State classifies the record against a questionnaire of questionCount questions.
func (r *UserRecord) State(questionCount int) StateType {
	switch {
	case r.Complete:
		return StateComplete
	case r.Step >= questionCount:
		return StatePlanPending
	default:
		return StateOnboarding
	}
}
