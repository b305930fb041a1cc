// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/shineum/mailkit/internal/email"
)

const separator = "========================================\n"

// Provider prints email messages to a writer in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the message. A failed write is reported as a transport failure.
func (p *Provider) Send(_ context.Context, msg *email.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", msg.From())
	if r, ok := msg.ReplyTo(); ok {
		fmt.Fprintf(&b, "Reply-To: %s\n", r)
	}
	fmt.Fprintf(&b, "To: %s\n", joinAddresses(msg.To()))
	if cc := msg.Cc(); len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(cc))
	}
	if bcc := msg.Bcc(); len(bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(bcc))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject())

	if headers, err := msg.HeadersJSON(); err == nil && headers != "{}" {
		fmt.Fprintf(&b, "Headers: %s\n", headers)
	}

	b.WriteString("Body:\n")
	b.WriteString(msg.Body() + "\n")

	if atts := msg.Attachments(); len(atts) > 0 {
		names := lo.Map(atts, func(att email.Attachment, _ int) string {
			return fmt.Sprintf("%s (%s)", att.Name, formatSize(attachmentSize(att)))
		})
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}

	b.WriteString(separator)

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return false, email.NewTransportError(err)
	}
	return true, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func joinAddresses(list []email.Address) string {
	return strings.Join(lo.Map(list, func(a email.Address, _ int) string { return a.String() }), ", ")
}

func attachmentSize(att email.Attachment) int {
	if att.IsInline() {
		return len(att.Data)
	}
	info, err := os.Stat(att.Path)
	if err != nil {
		return 0
	}
	return int(info.Size())
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
