package mailer

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

type recordingProvider struct {
	sent []Message
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Send(msg Message) (SendResult, error) {
	p.sent = append(p.sent, msg)
	return SendResult{ProviderMessageID: "recorded"}, nil
}

func TestLogProviderSend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	provider := NewLogProvider(logger)

	result, err := provider.Send(Message{
		From:    "test@example.com",
		To:      []string{"recipient@example.com"},
		Subject: "Test Subject",
		HTML:    "<p>Test HTML</p>",
		Text:    "Test text",
	})
	if err != nil {
		t.Fatalf("LogProvider.Send() error = %v", err)
	}
	if !strings.HasPrefix(result.ProviderMessageID, "log-") {
		t.Errorf("LogProvider.Send() message ID = %v, want prefix 'log-'", result.ProviderMessageID)
	}
}

func TestMailerFillsDefaultFrom(t *testing.T) {
	provider := &recordingProvider{}
	m := New(provider, "default@report2clean.org")

	if _, err := m.Send(Message{To: []string{"recipient@example.com"}, Subject: "Hi"}); err != nil {
		t.Fatalf("Mailer.Send() error = %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("provider received %d messages, want 1", len(provider.sent))
	}
	if got := provider.sent[0].From; got != "default@report2clean.org" {
		t.Errorf("From = %q, want default sender", got)
	}
}

func TestMailerKeepsExplicitFrom(t *testing.T) {
	provider := &recordingProvider{}
	m := New(provider, "default@report2clean.org")

	if _, err := m.Send(Message{From: "explicit@example.com", To: []string{"r@example.com"}}); err != nil {
		t.Fatalf("Mailer.Send() error = %v", err)
	}
	if got := provider.sent[0].From; got != "explicit@example.com" {
		t.Errorf("From = %q, want explicit sender", got)
	}
}

func TestProviderNames(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if got := NewLogProvider(logger).Name(); got != "log" {
		t.Errorf("LogProvider.Name() = %v, want 'log'", got)
	}
	if got := NewResendProvider("fake-api-key").Name(); got != "resend" {
		t.Errorf("ResendProvider.Name() = %v, want 'resend'", got)
	}
}
