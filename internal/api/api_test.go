package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/VitalAI/internal/flow"
	"github.com/BTreeMap/VitalAI/internal/messaging"
	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/store"
	"github.com/BTreeMap/VitalAI/internal/testutil"
	"github.com/BTreeMap/VitalAI/internal/twiliowhatsapp"
)

const testPlan = "Day 1: squats"

// newTestServer creates a Server answering webhooks inline, with a plan
// generator that returns testPlan or planErr.
func newTestServer(t *testing.T, planErr error) *Server {
	t.Helper()
	controller, err := flow.NewController(testutil.NewPlanRecorder(testPlan, planErr))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return NewServer(controller, messaging.NewProcessor(controller, store.NewInMemoryStore()), nil)
}

func postWebhook(t *testing.T, h http.Handler, fields url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.PostForm(t, h, "/whatsapp", fields)
}

func TestWebhook_FullOnboarding(t *testing.T) {
	server := newTestServer(t, nil)
	h := server.Router()
	from := "whatsapp:+15551234567"

	rr := postWebhook(t, h, testutil.WebhookForm(from, "hi", "SM0"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected application/xml, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "your age") {
		t.Errorf("first contact should ask the first question: %s", rr.Body.String())
	}

	for i, answer := range []string{"25", "70kg", "lose fat"} {
		rr = postWebhook(t, h, testutil.WebhookForm(from, answer, "SM"+string(rune('1'+i))))
		if rr.Code != http.StatusOK {
			t.Fatalf("answer %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr = postWebhook(t, h, testutil.WebhookForm(from, "vegan", "SM9"))
	if !strings.Contains(rr.Body.String(), testPlan) {
		t.Errorf("final answer should return the plan: %s", rr.Body.String())
	}

	rec, ok := server.controller.StateManager().Get(from)
	if !ok || !rec.Complete || rec.Answers[flow.FieldDiet] != "vegan" {
		t.Errorf("unexpected record: %+v", rec)
	}

	receipts, _ := server.st.GetReceipts()
	if len(receipts) != 5 {
		t.Errorf("expected 5 receipts, got %d", len(receipts))
	}
	for _, r := range receipts {
		if r.Status != models.MessageStatusReplied {
			t.Errorf("expected replied status, got %s", r.Status)
		}
	}
}

func TestWebhook_MissingFrom(t *testing.T) {
	server := newTestServer(t, nil)
	rr := postWebhook(t, server.Router(), url.Values{"Body": {"hi"}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if resp := testutil.DecodeAPIResponse(t, rr); resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error status, got %q", resp.Status)
	}
}

func TestWebhook_EmptyBodyIsAnAnswer(t *testing.T) {
	server := newTestServer(t, nil)
	h := server.Router()
	postWebhook(t, h, testutil.WebhookForm("+1", "hi", ""))
	rr := postWebhook(t, h, url.Values{"From": {"+1"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rec, _ := server.controller.StateManager().Get("+1")
	if rec.Step != 1 {
		t.Errorf("empty body should be stored as an answer, step=%d", rec.Step)
	}
}

func TestWebhook_DuplicateMessageSid(t *testing.T) {
	server := newTestServer(t, nil)
	h := server.Router()
	postWebhook(t, h, testutil.WebhookForm("+1", "hi", "SMa"))
	postWebhook(t, h, testutil.WebhookForm("+1", "25", "SMb"))

	rr := postWebhook(t, h, testutil.WebhookForm("+1", "25", "SMb"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "<Message") {
		t.Errorf("duplicate should be acknowledged without a reply: %s", rr.Body.String())
	}
	rec, _ := server.controller.StateManager().Get("+1")
	if rec.Step != 1 {
		t.Errorf("duplicate must not advance the conversation, step=%d", rec.Step)
	}
}

func TestWebhook_PlanFailureNotice(t *testing.T) {
	server := newTestServer(t, errors.New("quota exceeded"))
	h := server.Router()
	postWebhook(t, h, testutil.WebhookForm("+1", "hi", ""))
	for _, a := range []string{"25", "70", "fit"} {
		postWebhook(t, h, testutil.WebhookForm("+1", a, ""))
	}
	rr := postWebhook(t, h, testutil.WebhookForm("+1", "keto", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "quota exceeded") {
		t.Errorf("failure notice should carry the error message: %s", rr.Body.String())
	}
}

func TestWebhook_Async(t *testing.T) {
	server := newTestServer(t, nil)
	mock := twiliowhatsapp.NewMockClient()
	svc := messaging.NewTwilioService(mock)
	server.async = svc

	rr := postWebhook(t, server.Router(), testutil.WebhookForm("whatsapp:+1", "hi", "SM1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "<Message") {
		t.Errorf("async mode should acknowledge with empty TwiML: %s", rr.Body.String())
	}

	select {
	case resp := <-svc.Responses():
		if resp.From != "whatsapp:+1" || resp.MessageID != "SM1" {
			t.Errorf("unexpected queued message: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("message was not queued")
	}

	svc.Stop()
	rr = postWebhook(t, server.Router(), testutil.WebhookForm("whatsapp:+1", "again", "SM2"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after stop, got %d", rr.Code)
	}
}

func TestReceiptsAndResponsesHandlers(t *testing.T) {
	server := newTestServer(t, nil)
	h := server.Router()
	postWebhook(t, h, testutil.WebhookForm("+1", "hi", ""))

	for _, path := range []string{"/receipts", "/responses"} {
		rr := testutil.Get(t, h, path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		resp := testutil.DecodeAPIResponse(t, rr)
		items, ok := resp.Result.([]interface{})
		if !ok || len(items) != 1 {
			t.Errorf("%s: expected one item, got %v", path, resp.Result)
		}
	}
}

func TestStatsHandler(t *testing.T) {
	server := newTestServer(t, nil)
	h := server.Router()
	postWebhook(t, h, testutil.WebhookForm("+1", "hi", ""))
	postWebhook(t, h, testutil.WebhookForm("+1", "25", ""))
	postWebhook(t, h, testutil.WebhookForm("+2", "hello", ""))

	rr := testutil.Get(t, h, "/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := testutil.DecodeAPIResponse(t, rr)
	stats := resp.Result.(map[string]interface{})
	if stats["total_responses"].(float64) != 3 {
		t.Errorf("expected 3 total responses, got %v", stats["total_responses"])
	}
	onboarding := stats["onboarding"].(map[string]interface{})
	if onboarding["users"].(float64) != 2 || onboarding["onboarding"].(float64) != 2 {
		t.Errorf("unexpected onboarding stats: %v", onboarding)
	}
}

func TestUserHandler(t *testing.T) {
	server := newTestServer(t, nil)
	h := server.Router()
	postWebhook(t, h, testutil.WebhookForm("+1", "hi", ""))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/+1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	result := testutil.DecodeAPIResponse(t, rr).Result.(map[string]interface{})
	if result["state"] != string(models.StateOnboarding) {
		t.Errorf("expected onboarding state, got %v", result["state"])
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	server := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	server := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/whatsapp", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestNewMessagingService(t *testing.T) {
	svc, async, err := newMessagingService(context.Background(), Opts{Transport: TransportTwilio}, nil, nil)
	if err != nil || svc != nil || async != nil {
		t.Errorf("sync Twilio mode should need no service: %v %v %v", svc, async, err)
	}

	svc, async, err = newMessagingService(context.Background(), Opts{Transport: TransportTwilio, TwilioAsync: true},
		nil, []twiliowhatsapp.Option{
			twiliowhatsapp.WithAccountSID("AC123"),
			twiliowhatsapp.WithAuthToken("tok"),
			twiliowhatsapp.WithFromWhats("+14155238886"),
		})
	if err != nil || svc == nil || async == nil {
		t.Errorf("async Twilio mode should build a service: %v %v %v", svc, async, err)
	}

	if _, _, err := newMessagingService(context.Background(), Opts{Transport: "sms"}, nil, nil); err == nil {
		t.Error("expected error for unknown transport")
	}
}

// stubGenAIClient answers every completion with the user prompt it received.
type stubGenAIClient struct{}

func (stubGenAIClient) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return userPrompt, nil
}

func TestNewPlanController_CustomQuestions(t *testing.T) {
	questions := []models.Question{{Field: "name", Prompt: "What's your name?"}}
	controller, err := newPlanController(stubGenAIClient{}, Opts{}, []flow.Option{flow.WithQuestions(questions)})
	if err != nil {
		t.Fatalf("newPlanController: %v", err)
	}

	ctx := context.Background()
	if reply := controller.HandleMessage(ctx, "+1", "hi"); !strings.Contains(reply, "What's your name?") {
		t.Fatalf("expected the custom question, got %q", reply)
	}
	reply := controller.HandleMessage(ctx, "+1", "Ana")
	if !strings.Contains(reply, "- Name: Ana") {
		t.Errorf("plan prompt should list the custom answer, got %q", reply)
	}
	rec, _ := controller.StateManager().Get("+1")
	if !rec.Complete {
		t.Errorf("custom questionnaire should complete onboarding, got %+v", rec)
	}
}

func TestNewPlanController_MissingPromptFile(t *testing.T) {
	_, err := newPlanController(stubGenAIClient{}, Opts{PlanSystemPromptFile: "/nonexistent/prompt.txt"}, nil)
	if err == nil {
		t.Error("expected error for a missing system prompt file")
	}
}
