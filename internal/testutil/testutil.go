// Package testutil provides common test utilities and helpers for VitalAI tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/VitalAI/internal/flow"
	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/store"
)

// PlanRecorder is a flow.PlanGenerator returning a fixed plan or error and
// recording the answers of every call.
type PlanRecorder struct {
	Plan string
	Err  error

	mu    sync.Mutex
	calls []models.Answers
}

var _ flow.PlanGenerator = (*PlanRecorder)(nil)

// NewPlanRecorder returns a generator that answers every call with plan, or err when non-nil.
func NewPlanRecorder(plan string, err error) *PlanRecorder {
	return &PlanRecorder{Plan: plan, Err: err}
}

// GeneratePlan implements flow.PlanGenerator.
func (p *PlanRecorder) GeneratePlan(ctx context.Context, answers models.Answers) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, answers.Clone())
	p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.Plan, nil
}

// Calls returns a copy of the answers passed to each call, in order.
func (p *PlanRecorder) Calls() []models.Answers {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Answers, len(p.calls))
	copy(out, p.calls)
	return out
}

// WebhookForm builds the form fields Twilio posts for one inbound WhatsApp message.
// An empty sid omits MessageSid.
func WebhookForm(from, body, sid string) url.Values {
	v := url.Values{}
	v.Set("From", from)
	v.Set("Body", body)
	if sid != "" {
		v.Set("MessageSid", sid)
	}
	return v
}

// PostForm serves a form-encoded POST to path on h and returns the recorder.
func PostForm(t *testing.T, h http.Handler, path string, fields url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(fields.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// Get serves a GET to path on h and returns the recorder.
func Get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeAPIResponse decodes the JSON envelope written by the API.
func DecodeAPIResponse(t testing.TB, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return resp
}

// AssertResponseCount validates the number of inbound messages in the store.
func AssertResponseCount(t testing.TB, st store.Store, expected int, context string) {
	t.Helper()
	responses, err := st.GetResponses()
	if err != nil {
		t.Fatalf("%s: failed to get responses: %v", context, err)
	}
	if len(responses) != expected {
		t.Errorf("%s: expected %d responses, got %d", context, expected, len(responses))
	}
}

// AssertReceiptCount validates the number of outbound receipts in the store.
func AssertReceiptCount(t testing.TB, st store.Store, expected int, context string) {
	t.Helper()
	receipts, err := st.GetReceipts()
	if err != nil {
		t.Fatalf("%s: failed to get receipts: %v", context, err)
	}
	if len(receipts) != expected {
		t.Errorf("%s: expected %d receipts, got %d", context, expected, len(receipts))
	}
}

// SeedTranscript adds a short two-user transcript to the store.
func SeedTranscript(t testing.TB, st store.Store) {
	t.Helper()

	responses := []models.Response{
		{From: "+123", Body: "hi", MessageID: "SM1", Time: 10},
		{From: "+456", Body: "hello", MessageID: "SM2", Time: 20},
	}
	for _, r := range responses {
		if err := st.AddResponse(r); err != nil {
			t.Fatalf("failed to add test response: %v", err)
		}
	}

	receipts := []models.Receipt{
		{To: "+123", Body: "What's your age?", Status: models.MessageStatusReplied, Time: 11},
		{To: "+456", Body: "What's your age?", Status: models.MessageStatusDelivered, Time: 21},
	}
	for _, r := range receipts {
		if err := st.AddReceipt(r); err != nil {
			t.Fatalf("failed to add test receipt: %v", err)
		}
	}
}
