package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shineum/mailkit/internal/config"
	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
	"github.com/shineum/mailkit/internal/provider/graph"
	"github.com/shineum/mailkit/internal/provider/smtp"
	"github.com/shineum/mailkit/internal/provider/stdout"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadMessage_YAMLMap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "report.csv", "a,b\n1,2\n")
	path := writeFile(t, dir, "message.yaml", `
from:
  email: sender@example.com
  name: Sender
to:
  - email: alice@example.com
    name: Alice
subject: Weekly report
text: see attached
headers:
  X-Campaign: weekly
attachments:
  - file: report.csv
    type: text/csv
`)

	msg, err := loadMessage(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.From().Email != "sender@example.com" || msg.From().Name != "Sender" {
		t.Errorf("From: got %+v", msg.From())
	}
	if to := msg.To(); len(to) != 1 || to[0].Email != "alice@example.com" {
		t.Errorf("To: got %+v", to)
	}
	if msg.Subject() != "Weekly report" {
		t.Errorf("Subject: got %q", msg.Subject())
	}
	if v, _ := msg.Header("X-Campaign"); v != "weekly" {
		t.Errorf("X-Campaign: got %q", v)
	}

	atts := msg.Attachments()
	if len(atts) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(atts))
	}
	if atts[0].Path != filepath.Join(dir, "report.csv") {
		t.Errorf("attachment path should resolve against the message file: got %q", atts[0].Path)
	}
	if atts[0].Name != "report.csv" {
		t.Errorf("attachment name: got %q", atts[0].Name)
	}
}

func TestLoadMessage_JSONMap(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "message.json",
		`{"from":{"email":"sender@example.com"},"to":[{"email":"bob@example.com"}],"html":"<p>hi</p>"}`)

	msg, err := loadMessage(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentType() != email.ContentTypeHTML {
		t.Errorf("ContentType: got %q", msg.ContentType())
	}
	if msg.HTML() != "<p>hi</p>" {
		t.Errorf("HTML: got %q", msg.HTML())
	}
}

func TestLoadMessage_MissingAttachment(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "message.yaml", `
from:
  email: sender@example.com
to:
  - email: alice@example.com
attachments:
  - file: missing.pdf
`)

	_, err := loadMessage(path, "")
	if !errors.Is(err, email.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestLoadMessage_EML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "message.eml", strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com",
		"Subject: From eml",
		"",
		"hello",
	}, "\r\n"))

	msg, err := loadMessage("", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject() != "From eml" || msg.Text() != "hello" {
		t.Errorf("got subject %q text %q", msg.Subject(), msg.Text())
	}
}

func TestLoadMessage_SourceSelection(t *testing.T) {
	t.Parallel()

	if _, err := loadMessage("", ""); err == nil {
		t.Error("expected error when no source is given")
	}
	if _, err := loadMessage("a.yaml", "b.eml"); err == nil {
		t.Error("expected error when both sources are given")
	}
	if _, err := loadMessage("/nonexistent/message.yaml", ""); err == nil {
		t.Error("expected error for missing message file")
	}
}

func TestSelectProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cfg := &config.Config{}
	p, err := selectProvider(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*stdout.Provider); !ok {
		t.Errorf("empty config: got %T, want *stdout.Provider", p)
	}

	cfg = &config.Config{SMTP: config.SMTPConfig{Host: "mail.example.com", Port: 587}}
	p, err = selectProvider(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sp, ok := p.(*smtp.Provider)
	if !ok {
		t.Fatalf("smtp config: got %T, want *smtp.Provider", p)
	}
	if sp.Session().Secure() != smtp.SecureTLS {
		t.Errorf("port 587 should select tls, got %q", sp.Session().Secure())
	}

	cfg = &config.Config{Graph: config.GraphConfig{
		TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "noreply@example.com",
	}}
	p, err = selectProvider(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*graph.GraphProvider); !ok {
		t.Errorf("graph config: got %T, want *graph.GraphProvider", p)
	}
}

func TestSelectProvider_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"unknown provider", &config.Config{Provider: "pigeon"}},
		{"ses without region", &config.Config{Provider: "ses"}},
		{"graph without credentials", &config.Config{Provider: "graph"}},
		{"smtp bad protocol", &config.Config{Provider: "smtp", SMTP: config.SMTPConfig{Protocol: "ftp"}}},
		{"smtp missing CA file", &config.Config{Provider: "smtp", SMTP: config.SMTPConfig{CAFile: "/nonexistent/ca.pem"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := selectProvider(ctx, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Send(context.Context, *email.Message) (bool, error) {
	return false, &email.TransportError{Info: "relay refused"}
}

func newTestMessage(t *testing.T) *email.Message {
	t.Helper()
	msg := email.NewMessage()
	if err := msg.SetFrom("sender@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := msg.AddTo("alice@example.com"); err != nil {
		t.Fatal(err)
	}
	msg.SetSubject("hello").SetText("body")
	return msg
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	m := provider.NewMailerWithMessage(stdout.NewWithWriter(&out), newTestMessage(t))

	if err := send(context.Background(), m, &errOut); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "alice@example.com") {
		t.Errorf("stdout provider output missing recipient: %s", out.String())
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected error output: %s", errOut.String())
	}
}

func TestSend_FailurePrintsErrors(t *testing.T) {
	t.Parallel()

	var errOut bytes.Buffer
	m := provider.NewMailerWithMessage(failingProvider{}, newTestMessage(t))

	err := send(context.Background(), m, &errOut)
	if err == nil {
		t.Fatal("expected error for failed delivery")
	}
	if got := strings.TrimSpace(errOut.String()); got != "failing: relay refused" {
		t.Errorf("error output: got %q, want %q", got, "failing: relay refused")
	}
}

func TestProtocolsCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	if err := app.Run([]string{"mailsend", "protocols"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "smtp\nmail\nsendmail\nqmail\nssl\ntls\n"
	if out.String() != want {
		t.Errorf("output: got %q, want %q", out.String(), want)
	}
}
