// Package smtp implements the library-backed reference Provider. It keeps a
// template configuration and a working Session that is rebuilt from the
// template before every send and again after every successful one.
package smtp

import (
	"context"
	"log/slog"

	"github.com/shineum/mailkit/internal/email"
)

// Provider sends email through gomail. Configuration setters update both the
// template and the current working session.
//
// A Provider is not safe for concurrent Send calls; use one per goroutine.
type Provider struct {
	template  *settings
	working   *Session
	transport Transport
}

// New creates a Provider whose template is built from cfg.
func New(cfg Config) (*Provider, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	p := &Provider{template: &s, transport: MailTransport{}}
	p.reset()
	return p, nil
}

// NewWithTransport creates a Provider with a custom transport, used for testing.
func NewWithTransport(cfg Config, t Transport) (*Provider, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	p.transport = t
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Session returns the current working session.
func (p *Provider) Session() *Session {
	if p.working == nil {
		p.reset()
	}
	return p.working
}

// reset replaces the working session with a fresh copy of the template, or
// with a default session when no template exists yet.
func (p *Provider) reset() {
	if p.template == nil {
		p.working = newSession(defaultSettings())
		return
	}
	p.working = newSession(*p.template)
}

// configure applies fn to the template, creating it from defaults if needed,
// and to the working session.
func (p *Provider) configure(fn func(*settings)) {
	if p.template == nil {
		s := defaultSettings()
		p.template = &s
	}
	fn(p.template)
	fn(&p.Session().settings)
}

// SetProtocol selects the delivery mode and, for ssl and tls, the secure
// flag. Names are case-insensitive.
func (p *Provider) SetProtocol(name string) error {
	proto, err := lookupProtocol(name)
	if err != nil {
		return err
	}
	p.configure(func(s *settings) {
		s.applyProtocol(proto)
		s.Protocol = name
	})
	return nil
}

// SetPort records the port. Port 587 also sets the secure flag to tls; the
// setter called last decides the flag.
func (p *Provider) SetPort(port int) {
	p.configure(func(s *settings) { s.applyPort(port) })
}

// SetHost records the SMTP server host.
func (p *Provider) SetHost(host string) {
	p.configure(func(s *settings) { s.Host = host })
}

// SetAuth enables SMTP AUTH with the given credentials.
func (p *Provider) SetAuth(username, password string) {
	p.configure(func(s *settings) {
		s.Username = username
		s.Password = password
		s.Auth = true
	})
}

// Send copies msg onto a fresh working session and runs the transport. A
// transport failure returns false with an *email.TransportError and keeps
// the failed session for inspection.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}
	if p.transport == nil {
		p.transport = MailTransport{}
	}

	p.reset()
	s := p.working

	s.SetFrom(msg.From())
	if r, ok := msg.ReplyTo(); ok {
		s.SetReplyTo(r)
	}
	for _, a := range msg.To() {
		s.AddTo(a)
	}
	for _, a := range msg.Cc() {
		s.AddCc(a)
	}
	for _, a := range msg.Bcc() {
		s.AddBcc(a)
	}
	for _, att := range msg.Attachments() {
		if att.IsInline() {
			s.AddInlineAttachment(att)
			continue
		}
		if err := s.AddFileAttachment(att); err != nil {
			return false, err
		}
	}
	s.SetSubject(msg.Subject())
	for k, v := range msg.Headers() {
		s.SetHeader(k, v)
	}
	if ct := msg.ContentType(); ct != "" {
		s.SetContentType(ct)
	}
	if s.IsHTML() {
		s.SetBody(msg.HTML())
	} else {
		s.SetBody(msg.Text())
	}

	slog.Debug("dispatching email",
		"provider", p.Name(),
		"mode", s.Mode(),
		"host", s.Host(),
		"port", s.Port(),
		"recipients", len(msg.Recipients()),
	)

	if err := s.send(ctx, p.transport); err != nil {
		return false, &email.TransportError{Info: s.ErrorInfo(), Err: err}
	}

	p.reset()
	return true, nil
}
