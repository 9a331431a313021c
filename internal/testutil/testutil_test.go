package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/store"
)

// recordingTB captures failures instead of failing the enclosing test.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...interface{}) { r.failed = true }

func TestPlanRecorder(t *testing.T) {
	gen := NewPlanRecorder("Day 1: rest", nil)
	answers := models.Answers{"age": "30"}

	plan, err := gen.GeneratePlan(context.Background(), answers)
	if err != nil || plan != "Day 1: rest" {
		t.Fatalf("unexpected result %q, %v", plan, err)
	}
	answers["age"] = "31"

	calls := gen.Calls()
	if len(calls) != 1 || calls[0]["age"] != "30" {
		t.Errorf("expected one recorded call with a copy of the answers, got %v", calls)
	}

	gen.Err = errors.New("boom")
	if _, err := gen.GeneratePlan(context.Background(), answers); err == nil {
		t.Error("expected configured error")
	}
}

func TestWebhookForm(t *testing.T) {
	v := WebhookForm("whatsapp:+1", "hi", "")
	if v.Get("From") != "whatsapp:+1" || v.Get("Body") != "hi" {
		t.Errorf("unexpected form: %v", v)
	}
	if v.Has("MessageSid") {
		t.Error("empty sid should be omitted")
	}
	if WebhookForm("+1", "hi", "SM1").Get("MessageSid") != "SM1" {
		t.Error("expected MessageSid")
	}
}

func TestPostFormAndGet(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil || r.PostForm.Get("From") != "+1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","result":"` + r.Method + `"}`))
	})

	rr := PostForm(t, h, "/whatsapp", WebhookForm("+1", "hi", ""))
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "post")
	if resp := DecodeAPIResponse(t, rr); resp.Result != http.MethodPost {
		t.Errorf("unexpected result %v", resp.Result)
	}

	rr = Get(t, h, "/stats")
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "get")
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{"matching status codes", 200, 200, false},
		{"different status codes", 200, 404, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingTB{TB: t}
			AssertHTTPStatus(rec, tt.expected, tt.actual, "test context")
			if rec.failed != tt.shouldFail {
				t.Errorf("expected failed=%v, got %v", tt.shouldFail, rec.failed)
			}
		})
	}
}

func TestDecodeAPIResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"error","message":"nope"}`)
	resp := DecodeAPIResponse(t, rr)
	if resp.Status != string(models.APIStatusError) || resp.Message != "nope" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestSeedTranscript(t *testing.T) {
	st := store.NewInMemoryStore()
	SeedTranscript(t, st)
	AssertResponseCount(t, st, 2, "seeded")
	AssertReceiptCount(t, st, 2, "seeded")
}
