package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"contentsync/internal/resilience"
	"contentsync/internal/source"
	logx "contentsync/pkg/logx"
)

func testDoc() source.Document {
	return source.Document{
		"news": {
			{Title: "Launch day", Body: "We shipped.", URL: "https://example.org/launch"},
			{Title: "Roadmap", Body: "What's next."},
		},
	}
}

func TestRenderIsPure(t *testing.T) {
	t.Parallel()
	doc := testDoc()
	a := Render(doc, ChannelEmail, "corr-1")
	b := Render(doc, ChannelEmail, "corr-1")
	if a.Subject != b.Subject || a.Body != b.Body {
		t.Fatal("render must be deterministic")
	}
	if a.Subject != "Launch day (+1 more)" {
		t.Fatalf("subject = %q", a.Subject)
	}
	if !strings.Contains(a.Body, "## news") {
		t.Fatalf("email body missing category header: %q", a.Body)
	}
}

func TestRenderTelegramKeepsPostsShort(t *testing.T) {
	t.Parallel()
	p := Render(testDoc(), ChannelTelegram, "")
	if strings.Contains(p.Body, "We shipped.") {
		t.Fatalf("telegram body must omit item bodies: %q", p.Body)
	}
	if !strings.Contains(p.Body, "[Launch day](https://example.org/launch)") {
		t.Fatalf("telegram body missing link: %q", p.Body)
	}
}

func TestRegistryDispatch(t *testing.T) {
	t.Parallel()
	email := NewEmailSender(EmailConfig{Endpoint: "http://unused"}, logx.Nop())
	reg := NewRegistry(email)

	if got := reg.Sender(ChannelEmail); got != email {
		t.Fatal("registry did not return the registered sender")
	}
	if got := reg.Sender(ChannelWebsite); got != nil {
		t.Fatalf("unexpected sender for unregistered channel: %v", got)
	}
	if chs := reg.Channels(); len(chs) != 1 || chs[0] != ChannelEmail {
		t.Fatalf("channels = %v", chs)
	}
}

func TestEmailSenderHappyPath(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		_, _ = w.Write([]byte(`{"delivered": 1234}`))
	}))
	defer srv.Close()

	s := NewEmailSender(EmailConfig{Endpoint: srv.URL, APIKey: "key", ListID: "weekly"}, logx.Nop())
	rcpt, err := s.Send(context.Background(), Payload{Subject: "s", Body: "b"})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if rcpt.Delivered != 1234 {
		t.Fatalf("delivered = %d", rcpt.Delivered)
	}
}

func TestEmailSenderValidationBypassesBreaker(t *testing.T) {
	t.Parallel()
	s := NewEmailSender(EmailConfig{
		Endpoint: "http://unused",
		Guard:    GuardConfig{FailureThreshold: 1},
	}, logx.Nop())

	for i := 0; i < 3; i++ {
		_, err := s.Send(context.Background(), Payload{Subject: "", Body: "b"})
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("err = %v, want ErrInvalidPayload", err)
		}
	}
	if got := s.guard.BreakerState(); got != resilience.BreakerClosed {
		t.Fatalf("breaker = %v, validation errors must not trip it", got)
	}
}

func TestWebsiteSenderTripsBreakerOnProviderErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebsiteSender(WebsiteConfig{
		Endpoint: srv.URL,
		Guard: GuardConfig{
			FailureThreshold: 2,
			RecoveryTimeout:  time.Hour,
			RateMaxCalls:     100,
		},
	}, logx.Nop())

	for i := 0; i < 2; i++ {
		if _, err := s.Send(context.Background(), Payload{Subject: "t", Body: "b"}); err == nil {
			t.Fatalf("send %d: expected provider error", i)
		}
	}

	// Third call: circuit open, the provider is not contacted at all.
	_, err := s.Send(context.Background(), Payload{Subject: "t", Body: "b"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

type fakeBot struct {
	sent []string
	err  error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	text, _ := what.(string)
	f.sent = append(f.sent, text)
	return &tele.Message{ID: 71}, nil
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	s := newTelegramSender(TelegramConfig{ChatID: -100123, MessagesPerSec: 100}, bot, logx.Nop())

	rcpt, err := s.Send(context.Background(), Payload{Body: "hello channel"})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if rcpt.ID != "71" {
		t.Fatalf("receipt id = %q", rcpt.ID)
	}
	if len(bot.sent) != 1 || bot.sent[0] != "hello channel" {
		t.Fatalf("sent = %v", bot.sent)
	}

	if _, err := s.Send(context.Background(), Payload{Body: "  "}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}
