package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/mailkit/internal/email"
)

// Mailer binds a Message to one Provider. Callers compose through Message()
// and dispatch with Send; transport failures end up in the error list,
// tagged with the provider name.
type Mailer struct {
	provider Provider
	msg      *email.Message
}

// NewMailer returns a Mailer with an empty Message.
func NewMailer(p Provider) *Mailer {
	return &Mailer{provider: p, msg: email.NewMessage()}
}

// NewMailerWithMessage returns a Mailer that sends an existing Message.
func NewMailerWithMessage(p Provider, msg *email.Message) *Mailer {
	return &Mailer{provider: p, msg: msg}
}

// Message returns the Message being composed.
func (m *Mailer) Message() *email.Message {
	return m.msg
}

// Provider returns the adapter the Mailer dispatches through.
func (m *Mailer) Provider() Provider {
	return m.provider
}

// AddError appends msg to the error list, prefixed with the provider name.
func (m *Mailer) AddError(msg string) {
	m.msg.AddError(fmt.Sprintf("%s: %s", m.provider.Name(), msg))
}

// SetErrors appends every entry through AddError.
func (m *Mailer) SetErrors(errs []string) {
	for _, e := range errs {
		m.AddError(e)
	}
}

// Errors returns the Message's error list, including entries added by
// earlier failed sends.
func (m *Mailer) Errors() []string {
	return m.msg.Errors()
}

// Send hands the Message to the provider. It returns false with a nil error
// when the transport rejected the message; the transport's error info, if
// any, is appended to the error list. A non-nil error means the Message was
// rejected before dispatch.
func (m *Mailer) Send(ctx context.Context) (bool, error) {
	ok, err := m.provider.Send(ctx, m.msg)
	if err == nil {
		return ok, nil
	}

	var te *email.TransportError
	if !errors.As(err, &te) {
		return false, err
	}

	slog.Warn("email delivery failed",
		"provider", m.provider.Name(),
		"error", te,
	)
	if te.Info != "" {
		m.AddError(te.Info)
	}
	return false, nil
}
