package smtp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
	"github.com/shineum/mailkit/internal/smtptest"
	mailtls "github.com/shineum/mailkit/internal/tls"
)

func startCapture(t *testing.T, opts smtptest.Options) *smtptest.Server {
	t.Helper()
	srv, err := smtptest.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to start capture server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

// loopbackCert returns a server certificate for 127.0.0.1 and the path of
// its PEM encoding, usable as a CA file.
func loopbackCert(t *testing.T) (tls.Certificate, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, caFile
}

func TestMailTransport_SMTPDialer(t *testing.T) {
	t.Parallel()

	srv := startCapture(t, smtptest.Options{Username: "relay", Password: "s3cret"})

	p, err := New(Config{
		Host:     srv.Host(),
		Port:     srv.Port(),
		Username: "relay",
		Password: "s3cret",
		Auth:     true,
		Hostname: "client.example.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := newTestMessage(t)
	if err := msg.AddCc("carol@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := msg.AddBcc("hidden@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := msg.AddHeader("X-Campaign", "spring"); err != nil {
		t.Fatal(err)
	}
	msg.SetText("plain").SetHTML("<p>rich</p>")

	ok, err := p.Send(context.Background(), msg)
	if err != nil || !ok {
		t.Fatalf("Send: got (%v, %v)", ok, err)
	}

	txs := srv.Transactions()
	if len(txs) != 1 {
		t.Fatalf("Transactions: got %d, want 1", len(txs))
	}
	tx := txs[0]
	if tx.Helo != "client.example.com" {
		t.Errorf("Helo: got %q", tx.Helo)
	}
	if tx.From != "sender@example.com" {
		t.Errorf("envelope From: got %q", tx.From)
	}
	for _, rcpt := range []string{"to@example.com", "carol@example.com", "hidden@example.com"} {
		if !slices.Contains(tx.To, rcpt) {
			t.Errorf("envelope To %v missing %s", tx.To, rcpt)
		}
	}
	if strings.Contains(string(tx.Data), "hidden@example.com") {
		t.Error("Bcc address must not appear in the message data")
	}

	got := tx.Message
	if got == nil {
		t.Fatal("captured message did not parse")
	}
	if got.Subject() != "Hello" {
		t.Errorf("Subject: got %q", got.Subject())
	}
	if got.ContentType() != email.ContentTypeHTML || strings.TrimSpace(got.HTML()) != "<p>rich</p>" {
		t.Errorf("body: got %q (%s)", got.HTML(), got.ContentType())
	}
	if v, _ := got.Header("X-Campaign"); v != "spring" {
		t.Errorf("X-Campaign: got %q", v)
	}
	if v, _ := got.Header("Message-Id"); !strings.HasSuffix(v, "@client.example.com>") {
		t.Errorf("Message-Id: got %q", v)
	}
}

func TestMailTransport_SMTPRejectedRecipient(t *testing.T) {
	t.Parallel()

	srv := startCapture(t, smtptest.Options{Reject: []string{"to@example.com"}})

	p, err := New(Config{Host: srv.Host(), Port: srv.Port()})
	if err != nil {
		t.Fatal(err)
	}
	m := provider.NewMailerWithMessage(p, newTestMessage(t))

	ok, err := m.Send(context.Background())
	if err != nil {
		t.Fatalf("transport failures must not be returned: %v", err)
	}
	if ok {
		t.Fatal("expected false for a rejected recipient")
	}

	errs := m.Errors()
	if len(errs) != 1 {
		t.Fatalf("Errors: got %v, want one entry", errs)
	}
	if !strings.HasPrefix(errs[0], "smtp: ") || !strings.Contains(errs[0], "550") {
		t.Errorf("error entry: got %q", errs[0])
	}
	if len(srv.Transactions()) != 0 {
		t.Error("no transaction should be recorded")
	}
}

func TestMailTransport_SMTPAuthFailure(t *testing.T) {
	t.Parallel()

	srv := startCapture(t, smtptest.Options{Username: "relay", Password: "s3cret"})

	p, err := New(Config{Host: srv.Host(), Port: srv.Port()})
	if err != nil {
		t.Fatal(err)
	}
	p.SetAuth("relay", "wrong")

	ok, err := p.Send(context.Background(), newTestMessage(t))
	if ok {
		t.Error("expected false")
	}
	var te *email.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *email.TransportError", err)
	}
	if p.Session().ErrorInfo() == "" {
		t.Error("failed session should keep its error info")
	}
}

func TestMailTransport_STARTTLS(t *testing.T) {
	t.Parallel()

	cert, caFile := loopbackCert(t)
	srv := startCapture(t, smtptest.Options{
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	})

	clientTLS, err := mailtls.ClientConfig(mailtls.ClientOptions{ServerName: srv.Host(), CAFile: caFile})
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(Config{Host: srv.Host(), Port: srv.Port(), TLSConfig: clientTLS})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := p.Send(context.Background(), newTestMessage(t).SetText("over tls"))
	if err != nil || !ok {
		t.Fatalf("Send: got (%v, %v)", ok, err)
	}

	txs := srv.Transactions()
	if len(txs) != 1 {
		t.Fatalf("Transactions: got %d, want 1", len(txs))
	}
	if !txs[0].TLS {
		t.Error("message should be delivered after STARTTLS")
	}
}

func TestMailTransport_TLSRequiresSTARTTLS(t *testing.T) {
	t.Parallel()

	srv := startCapture(t, smtptest.Options{Username: "relay", Password: "s3cret"})

	p, err := New(Config{
		Host:     srv.Host(),
		Port:     srv.Port(),
		Protocol: "tls",
		Username: "relay",
		Password: "s3cret",
		Auth:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Session().Secure() != SecureTLS {
		t.Fatalf("secure flag: got %q", p.Session().Secure())
	}

	ok, err := p.Send(context.Background(), newTestMessage(t))
	if ok {
		t.Error("expected false when the server does not offer STARTTLS")
	}
	var te *email.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *email.TransportError", err)
	}
	if !strings.Contains(te.Info, "STARTTLS") {
		t.Errorf("Info: got %q", te.Info)
	}
	if n := len(srv.Transactions()); n != 0 {
		t.Errorf("Transactions: got %d, want 0", n)
	}
}

func TestMailTransport_TLSUpgradesBeforeAuth(t *testing.T) {
	t.Parallel()

	cert, caFile := loopbackCert(t)
	srv := startCapture(t, smtptest.Options{
		Username:  "relay",
		Password:  "s3cret",
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	})

	clientTLS, err := mailtls.ClientConfig(mailtls.ClientOptions{ServerName: srv.Host(), CAFile: caFile})
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(Config{
		Host:      srv.Host(),
		Port:      srv.Port(),
		Protocol:  "tls",
		Username:  "relay",
		Password:  "s3cret",
		Auth:      true,
		Hostname:  "client.example.com",
		TLSConfig: clientTLS,
	})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := p.Send(context.Background(), newTestMessage(t).SetText("submitted"))
	if err != nil || !ok {
		t.Fatalf("Send: got (%v, %v)", ok, err)
	}

	txs := srv.Transactions()
	if len(txs) != 1 {
		t.Fatalf("Transactions: got %d, want 1", len(txs))
	}
	tx := txs[0]
	if !tx.TLS {
		t.Error("message should be delivered after STARTTLS")
	}
	if tx.Helo != "client.example.com" {
		t.Errorf("Helo: got %q", tx.Helo)
	}
	if !slices.Equal(tx.To, []string{"to@example.com"}) {
		t.Errorf("envelope To: got %v", tx.To)
	}
	if tx.Message == nil || strings.TrimSpace(tx.Message.Text()) != "submitted" {
		t.Errorf("captured message: got %+v", tx.Message)
	}
}

func TestMailTransport_TLSRejectedRecipient(t *testing.T) {
	t.Parallel()

	cert, caFile := loopbackCert(t)
	srv := startCapture(t, smtptest.Options{
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		Reject:    []string{"to@example.com"},
	})

	clientTLS, err := mailtls.ClientConfig(mailtls.ClientOptions{ServerName: srv.Host(), CAFile: caFile})
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(Config{Host: srv.Host(), Port: srv.Port(), Protocol: "tls", TLSConfig: clientTLS})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := p.Send(context.Background(), newTestMessage(t))
	if ok {
		t.Error("expected false")
	}
	var te *email.TransportError
	if !errors.As(err, &te) || !strings.Contains(te.Info, "550") {
		t.Fatalf("got %v, want a *email.TransportError carrying the 550", err)
	}
	if n := len(srv.Transactions()); n != 0 {
		t.Errorf("Transactions: got %d, want 0", n)
	}
}

func TestMailTransport_SSLImplicitTLS(t *testing.T) {
	t.Parallel()

	cert, caFile := loopbackCert(t)
	srv := startCapture(t, smtptest.Options{
		TLSConfig:   &tls.Config{Certificates: []tls.Certificate{cert}},
		ImplicitTLS: true,
	})

	clientTLS, err := mailtls.ClientConfig(mailtls.ClientOptions{ServerName: srv.Host(), CAFile: caFile})
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(Config{Host: srv.Host(), Port: srv.Port(), Protocol: "ssl", TLSConfig: clientTLS})
	if err != nil {
		t.Fatal(err)
	}
	if p.Session().Secure() != SecureSSL {
		t.Fatalf("secure flag: got %q", p.Session().Secure())
	}

	ok, err := p.Send(context.Background(), newTestMessage(t).SetText("over smtps"))
	if err != nil || !ok {
		t.Fatalf("Send: got (%v, %v)", ok, err)
	}

	txs := srv.Transactions()
	if len(txs) != 1 {
		t.Fatalf("Transactions: got %d, want 1", len(txs))
	}
	if !txs[0].TLS {
		t.Error("message should be delivered over implicit TLS")
	}
}
