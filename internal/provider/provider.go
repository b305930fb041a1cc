// Package provider defines the adapter contract for email delivery backends
// and the Mailer that composes a Message with one adapter.
package provider

import (
	"context"

	"github.com/shineum/mailkit/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider translates a Message onto its own transport (an SMTP
// library, an HTTP mail API, stdout, ...).
type Provider interface {
	// Send delivers msg and reports whether the transport accepted it.
	// A transport-level failure is returned as an *email.TransportError
	// together with false. Any other error means the Message was rejected
	// before dispatch.
	Send(ctx context.Context, msg *email.Message) (bool, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
