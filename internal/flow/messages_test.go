package flow

import (
	"errors"
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"hello", 0, ""},
		{"héllo", 2, "hé"},
		{"💪💪💪", 2, "💪💪"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestWithinBudget(t *testing.T) {
	if got := withinBudget("ab", "cdef", 4); got != "abcd" {
		t.Errorf("expected body cut to remaining budget, got %q", got)
	}
	if got := withinBudget("ab", "cd", 10); got != "abcd" {
		t.Errorf("expected full body, got %q", got)
	}
	if got := withinBudget("abcdef", "xyz", 4); got != "abcd" {
		t.Errorf("expected oversize prefix to be cut, got %q", got)
	}
}

func TestMessages_ErrorNoticesEmbedFailure(t *testing.T) {
	m := DefaultMessages()
	err := errors.New("rate limited")
	if !strings.Contains(m.generationFailed(err), "rate limited") {
		t.Error("generation failure notice must contain the error text")
	}
	if !strings.Contains(m.planLoadFailed(err), "rate limited") {
		t.Error("plan load failure notice must contain the error text")
	}
}
