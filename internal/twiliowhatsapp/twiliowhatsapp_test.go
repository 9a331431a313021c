package twiliowhatsapp

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "whatsapp:+12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", sent[0].Body)
	}
}

func TestMockClient_SendMessageError(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("boom")
	if err := mock.SendMessage(context.Background(), "+1", "x"); err == nil {
		t.Fatal("expected configured error")
	}
	if len(mock.Sent()) != 0 {
		t.Error("failed send should not be recorded")
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without sender number")
	}
}

func TestNewClient_EnvFallback(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_FROM_NUMBER", "+14155238886")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("expected prefixed sender, got %q", c.fromWhats)
	}
}

func TestWithChannelPrefix(t *testing.T) {
	if got := WithChannelPrefix("+1555"); got != "whatsapp:+1555" {
		t.Errorf("got %q", got)
	}
	if got := WithChannelPrefix("whatsapp:+1555"); got != "whatsapp:+1555" {
		t.Errorf("prefix duplicated: %q", got)
	}
}

func TestRenderReply(t *testing.T) {
	doc, err := RenderReply("How old are you? & why")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(doc, "<Response") {
		t.Errorf("missing Response element: %s", doc)
	}
	if !strings.Contains(doc, "<Message") || !strings.Contains(doc, "How old are you?") {
		t.Errorf("missing Message element: %s", doc)
	}
	if !strings.Contains(doc, "&amp;") {
		t.Errorf("body not XML-escaped: %s", doc)
	}
}

func TestRenderReply_Empty(t *testing.T) {
	doc, err := RenderReply("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(doc, "<Message") {
		t.Errorf("empty body should render no message: %s", doc)
	}
}
