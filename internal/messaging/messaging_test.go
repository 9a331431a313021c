package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/BTreeMap/VitalAI/internal/store"
	"github.com/BTreeMap/VitalAI/internal/twiliowhatsapp"
	"github.com/BTreeMap/VitalAI/internal/whatsapp"
)

// echoReplier answers "re:<text>" and records every call.
type echoReplier struct {
	mu    sync.Mutex
	calls []models.Response
}

func (r *echoReplier) HandleMessage(ctx context.Context, userID, text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, models.Response{From: userID, Body: text})
	return "re:" + text
}

func (r *echoReplier) Calls() []models.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Response, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestServicesImplementService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+123", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "+123" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt: %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "+1", "x"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped after Stop, got %v", err)
	}
}

func TestPhoneFromUser(t *testing.T) {
	if got := phoneFromUser("15551234567"); got != "+15551234567" {
		t.Errorf("got %q", got)
	}
	if got := phoneFromUser("+15551234567"); got != "+15551234567" {
		t.Errorf("got %q", got)
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+1555", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].To != "whatsapp:+1555" {
		t.Errorf("unexpected sent messages: %+v", sent)
	}
	receipt := <-svc.Receipts()
	if receipt.Body != "hi" || receipt.Status != models.MessageStatusSent {
		t.Errorf("unexpected receipt: %+v", receipt)
	}

	if err := svc.SendMessage(context.Background(), " ", "hi"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}

	mock.Err = errors.New("twilio down")
	if err := svc.SendMessage(context.Background(), "+1", "hi"); err == nil {
		t.Error("expected client error to propagate")
	}
}

func TestSendMessage_RejectsOversizedReply(t *testing.T) {
	twilioMock := twiliowhatsapp.NewMockClient()
	waMock := whatsapp.NewMockClient()
	services := map[string]Service{
		"twilio":   NewTwilioService(twilioMock),
		"whatsapp": NewWhatsAppService(waMock),
	}
	atLimit := strings.Repeat("é", models.MaxMessageLength)

	for name, svc := range services {
		t.Run(name, func(t *testing.T) {
			defer svc.Stop()
			err := svc.SendMessage(context.Background(), "+1", atLimit+"x")
			if !errors.Is(err, models.ErrMessageTooLong) {
				t.Errorf("expected ErrMessageTooLong, got %v", err)
			}
			if err := svc.SendMessage(context.Background(), "+1", atLimit); err != nil {
				t.Errorf("a reply of exactly %d characters should be sent: %v", models.MaxMessageLength, err)
			}
		})
	}
	if len(twilioMock.Sent()) != 1 || len(waMock.Sent()) != 1 {
		t.Errorf("only the in-limit replies should reach the transports: twilio=%d whatsapp=%d", len(twilioMock.Sent()), len(waMock.Sent()))
	}
}

func TestTwilioService_EmitResponseAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if !svc.EmitResponse(models.Response{From: "+1", Body: "a"}) {
		t.Fatal("EmitResponse should succeed while running")
	}
	svc.Stop()
	if svc.EmitResponse(models.Response{From: "+1", Body: "b"}) {
		t.Error("EmitResponse should fail after Stop")
	}
	if err := svc.SendMessage(context.Background(), "+1", "x"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Buffered message is still readable, then the channel reports closed.
	if r, ok := <-svc.Responses(); !ok || r.Body != "a" {
		t.Errorf("expected buffered message, got %+v ok=%v", r, ok)
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
}

func TestProcessor_Process(t *testing.T) {
	replier := &echoReplier{}
	st := store.NewInMemoryStore()
	p := NewProcessor(replier, st)

	reply, handled, err := p.Process(context.Background(), models.Response{From: "+1", Body: "25", MessageID: "SM1"})
	if err != nil || !handled || reply != "re:25" {
		t.Fatalf("unexpected result: %q %v %v", reply, handled, err)
	}

	responses, _ := st.GetResponses()
	if len(responses) != 1 || responses[0].Time == 0 {
		t.Errorf("expected timestamped transcript entry, got %+v", responses)
	}

	// Redelivery of the same provider message ID is ignored.
	reply, handled, err = p.Process(context.Background(), models.Response{From: "+1", Body: "25", MessageID: "SM1"})
	if err != nil || handled || reply != "" {
		t.Errorf("duplicate should be ignored, got %q %v %v", reply, handled, err)
	}
	if len(replier.Calls()) != 1 {
		t.Errorf("replier called %d times, want 1", len(replier.Calls()))
	}

	// Messages without an ID are never deduplicated.
	for i := 0; i < 2; i++ {
		if _, handled, _ := p.Process(context.Background(), models.Response{From: "+1", Body: "x"}); !handled {
			t.Error("message without ID should always be handled")
		}
	}

	if _, _, err := p.Process(context.Background(), models.Response{Body: "x"}); !errors.Is(err, models.ErrEmptySender) {
		t.Errorf("expected ErrEmptySender, got %v", err)
	}
}

func TestProcessor_RecordReply(t *testing.T) {
	st := store.NewInMemoryStore()
	p := NewProcessor(&echoReplier{}, st)
	p.RecordReply("+1", "hello", models.MessageStatusReplied)

	receipts, _ := st.GetReceipts()
	if len(receipts) != 1 || receipts[0].Status != models.MessageStatusReplied || receipts[0].Body != "hello" {
		t.Errorf("unexpected receipts: %+v", receipts)
	}
}

func TestResponseHandler_ProcessResponse(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	st := store.NewInMemoryStore()
	rh := NewResponseHandler(svc, NewProcessor(&echoReplier{}, st))

	if err := rh.ProcessResponse(context.Background(), models.Response{From: "+1", Body: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].Body != "re:hi" {
		t.Errorf("unexpected sent messages: %+v", sent)
	}

	mock.Err = errors.New("down")
	if err := rh.ProcessResponse(context.Background(), models.Response{From: "+1", Body: "again"}); err == nil {
		t.Error("expected send error")
	}
	receipts, _ := st.GetReceipts()
	if len(receipts) != 2 || receipts[1].Status != models.MessageStatusFailed {
		t.Errorf("expected failed receipt recorded, got %+v", receipts)
	}
}

func TestResponseHandler_StartPreservesPerUserOrder(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	replier := &echoReplier{}
	rh := NewResponseHandler(svc, NewProcessor(replier, nil), WithWorkers(4))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rh.Start(ctx)

	users := []string{"+1", "+2", "+3"}
	const perUser = 20
	for i := 0; i < perUser; i++ {
		for _, u := range users {
			if !svc.EmitResponse(models.Response{From: u, Body: fmt.Sprintf("%d", i)}) {
				t.Fatal("EmitResponse failed")
			}
		}
	}
	svc.Stop()

	done := make(chan struct{})
	go func() {
		rh.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not drain")
	}

	calls := replier.Calls()
	if len(calls) != perUser*len(users) {
		t.Fatalf("expected %d calls, got %d", perUser*len(users), len(calls))
	}
	next := map[string]int{}
	for _, c := range calls {
		if c.Body != fmt.Sprintf("%d", next[c.From]) {
			t.Fatalf("user %s: got message %s, want %d", c.From, c.Body, next[c.From])
		}
		next[c.From]++
	}
}
