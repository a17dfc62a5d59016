package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{
		"guest_name": "Rana",
		"queue_name": "Tables",
	}
	got := renderTemplate("{guest_name}, go to {queue_name}", vars)
	if got != "Rana, go to Tables" {
		t.Fatalf("unexpected template render: %s", got)
	}
}

func TestLoadTemplatesOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := "served: \"Now serving {guest_name}\"\npasscode: \"\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	templates, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := templates.Render(TemplateServed, map[string]string{"guest_name": "Rana"}); got != "Now serving Rana" {
		t.Fatalf("served=%q", got)
	}
	if got := templates.Render(TemplatePasscode, map[string]string{"code": "123456"}); got != "Your Q-Me verification code is 123456." {
		t.Fatalf("passcode=%q", got)
	}
}

func TestLoadTemplatesMissingFile(t *testing.T) {
	if _, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSenderKinds(t *testing.T) {
	ctx := context.Background()
	if err := NewSender(ProviderConfig{Kind: "noop"}).Send(ctx, "hi", "+9611234567"); err != nil {
		t.Fatalf("noop: %v", err)
	}
	if err := NewSender(ProviderConfig{Kind: "fail"}).Send(ctx, "hi", "+9611234567"); !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("fail: %v", err)
	}
	if _, ok := NewSender(ProviderConfig{Kind: "webhook"}).(logProvider); !ok {
		t.Fatal("webhook without url should fall back to log provider")
	}
}

func TestWebhookProvider(t *testing.T) {
	var got map[string]string
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewSender(ProviderConfig{Kind: "webhook", WebhookURL: server.URL, WebhookToken: "secret"})
	if err := sender.Send(context.Background(), "hello", "+9611234567"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth=%q", auth)
	}
	if got["recipient"] != "+9611234567" || got["message"] != "hello" {
		t.Fatalf("payload=%v", got)
	}

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer rejecting.Close()
	if err := NewSender(ProviderConfig{Kind: rejecting.URL}).Send(context.Background(), "hello", "+9611234567"); !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("expected provider failure, got %v", err)
	}
}

func TestLogProviderHidesBodyAtInfo(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)
	t.Cleanup(func() { log.Logger = previous })

	if err := NewSender(ProviderConfig{}).Send(context.Background(), "Your code is 482913.", "+9611234567"); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "482913") {
		t.Fatalf("passcode leaked into info log: %s", out)
	}
	if !strings.Contains(out, "+9611234567") {
		t.Fatalf("expected recipient in log: %s", out)
	}
}
