package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os/exec"
	"strings"

	gomail "gopkg.in/mail.v2"
)

// Transport performs the synchronous send of a composed message using the
// settings of a session.
type Transport interface {
	Deliver(ctx context.Context, s *Session, m *gomail.Message) error
}

// MailTransport delivers through gomail: an SMTP dialer for the smtp mode
// and a local MTA pipe for the mail, sendmail and qmail modes. With the tls
// secure flag the dialer refuses servers that do not offer STARTTLS.
type MailTransport struct{}

// Deliver sends m according to the session mode.
func (MailTransport) Deliver(ctx context.Context, s *Session, m *gomail.Message) error {
	switch s.mode {
	case ModeSMTP:
		return dialer(s).DialAndSend(m)
	case ModeMail, ModeSendmail:
		return gomail.Send(pipe(ctx, s.sendmailPath(defaultSendmailPath), sendmailArgs), m)
	case ModeQmail:
		return gomail.Send(pipe(ctx, s.sendmailPath(defaultQmailPath), qmailArgs), m)
	default:
		return fmt.Errorf("unknown delivery mode %q", s.mode)
	}
}

func dialer(s *Session) *gomail.Dialer {
	var d *gomail.Dialer
	if s.settings.Auth {
		d = gomail.NewDialer(s.settings.Host, s.settings.Port, s.settings.Username, s.settings.Password)
	} else {
		d = gomail.NewDialer(s.settings.Host, s.settings.Port, "", "")
	}
	d.SSL = s.secure == SecureSSL
	if s.secure == SecureTLS {
		d.StartTLSPolicy = gomail.MandatoryStartTLS
	}
	d.LocalName = s.Hostname
	if s.TLSConfig != nil {
		d.TLSConfig = s.TLSConfig
	} else {
		d.TLSConfig = &tls.Config{ServerName: s.settings.Host, MinVersion: tls.VersionTLS12}
	}
	return d
}

func (s *Session) sendmailPath(fallback string) string {
	if s.SendmailPath != "" {
		return s.SendmailPath
	}
	return fallback
}

func sendmailArgs(from string, to []string) []string {
	return append([]string{"-i", "-f", from, "--"}, to...)
}

func qmailArgs(from string, to []string) []string {
	return append([]string{"-f" + from, "--"}, to...)
}

// pipe returns a gomail sender that writes the message to a local MTA binary.
func pipe(ctx context.Context, path string, args func(from string, to []string) []string) gomail.SendFunc {
	return func(from string, to []string, msg io.WriterTo) error {
		cmd := exec.CommandContext(ctx, path, args(from, to)...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to open %s stdin: %w", path, err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", path, err)
		}
		if _, err := msg.WriteTo(stdin); err != nil {
			stdin.Close()
			cmd.Wait()
			return fmt.Errorf("failed to write message to %s: %w", path, err)
		}
		stdin.Close()

		if err := cmd.Wait(); err != nil {
			if out := strings.TrimSpace(stderr.String()); out != "" {
				return fmt.Errorf("%s: %w: %s", path, err, out)
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	}
}
