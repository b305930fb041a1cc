// Package email defines the provider-agnostic message model: addresses,
// attachments and the Message builder that adapters read at send time.
package email

import (
	"maps"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Body content types. The one most recently set on a Message decides which
// body an adapter transmits.
const (
	ContentTypeText = "text/plain"
	ContentTypeHTML = "text/html"
)

// Message is the mutable builder state of a single email. It is owned by the
// caller until handed to an adapter, which only reads it during a send.
type Message struct {
	from        Address
	replyTo     *Address
	to          []Address
	cc          []Address
	bcc         []Address
	subject     string
	text        string
	html        string
	contentType string
	headers     map[string]string
	attachments []Attachment
	errors      []string
}

// NewMessage returns an empty Message.
func NewMessage() *Message {
	return &Message{headers: make(map[string]string)}
}

// AddTo appends a primary recipient. Duplicates are kept.
func (m *Message) AddTo(addr string, name ...string) error {
	a, err := NewAddress(addr, name...)
	if err != nil {
		return err
	}
	m.to = append(m.to, a)
	return nil
}

// AddCc appends a carbon-copy recipient.
func (m *Message) AddCc(addr string, name ...string) error {
	a, err := NewAddress(addr, name...)
	if err != nil {
		return err
	}
	m.cc = append(m.cc, a)
	return nil
}

// AddBcc appends a blind carbon-copy recipient.
func (m *Message) AddBcc(addr string, name ...string) error {
	a, err := NewAddress(addr, name...)
	if err != nil {
		return err
	}
	m.bcc = append(m.bcc, a)
	return nil
}

// RemoveTo drops every primary recipient with the given address. Survivors
// keep their relative order and are packed with no gaps.
func (m *Message) RemoveTo(addr string) *Message {
	m.to = removeAddress(m.to, addr)
	return m
}

// RemoveCc drops every Cc recipient with the given address.
func (m *Message) RemoveCc(addr string) *Message {
	m.cc = removeAddress(m.cc, addr)
	return m
}

// RemoveBcc drops every Bcc recipient with the given address.
func (m *Message) RemoveBcc(addr string) *Message {
	m.bcc = removeAddress(m.bcc, addr)
	return m
}

func removeAddress(list []Address, addr string) []Address {
	addr = strings.TrimSpace(addr)
	return lo.Reject(list, func(a Address, _ int) bool {
		return a.Email == addr
	})
}

// SetFrom sets the sender address and display name.
func (m *Message) SetFrom(addr string, name ...string) error {
	a, err := NewAddress(addr, name...)
	if err != nil {
		return err
	}
	m.from = a
	return nil
}

// SetFromName changes the sender display name and keeps the address.
func (m *Message) SetFromName(name string) *Message {
	m.from.Name = name
	return m
}

// SetReplyTo sets the Reply-To address.
func (m *Message) SetReplyTo(addr string, name ...string) error {
	a, err := NewAddress(addr, name...)
	if err != nil {
		return err
	}
	m.replyTo = &a
	return nil
}

// SetSubject replaces the subject line.
func (m *Message) SetSubject(subject string) *Message {
	m.subject = subject
	return m
}

// SetText sets the plain-text body and makes text the content type to send.
func (m *Message) SetText(text string) *Message {
	m.text = text
	m.contentType = ContentTypeText
	return m
}

// SetHTML sets the HTML body and makes HTML the content type to send.
func (m *Message) SetHTML(html string) *Message {
	m.html = html
	m.contentType = ContentTypeHTML
	return m
}

// AddAttachment resolves path to a regular file now and appends it. The name
// defaults to the file's base name and the MIME type is inferred when empty.
func (m *Message) AddAttachment(path string, name, mimeType string) error {
	att, err := newFileAttachment(path, name, mimeType)
	if err != nil {
		return err
	}
	m.attachments = append(m.attachments, att)
	return nil
}

// AddInlineAttachment appends an in-memory payload. Empty encoding,
// disposition and MIME type default to base64, attachment and a type sniffed
// from the data. The encoding must be a MIME transfer encoding; it is kept
// for serialization while the adapters always transmit base64.
func (m *Message) AddInlineAttachment(data []byte, name, encoding, mimeType, disposition string) error {
	if name == "" {
		return invalidArgument("inline attachment name must not be empty")
	}
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" {
		encoding = defaultEncoding
	}
	if !slices.Contains(transferEncodings, encoding) {
		return invalidArgument("unknown transfer encoding %q", encoding)
	}
	if disposition == "" {
		disposition = DispositionAttachment
	}
	if disposition != DispositionAttachment && disposition != DispositionInline {
		return invalidArgument("unknown disposition %q", disposition)
	}
	if mimeType == "" {
		mimeType = detectDataType(data, name)
	}
	m.attachments = append(m.attachments, Attachment{
		Name:        name,
		MimeType:    mimeType,
		Data:        slices.Clone(data),
		Encoding:    encoding,
		Disposition: disposition,
	})
	return nil
}

// AddHeader sets a custom header. A later call with the same key replaces
// the earlier value.
func (m *Message) AddHeader(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return invalidArgument("header name must not be empty")
	}
	if strings.ContainsAny(key, "\r\n: ") {
		return invalidArgument("header name %q contains illegal characters", key)
	}
	if strings.ContainsAny(value, "\r\n") {
		return invalidArgument("header %q value contains a line break", key)
	}
	if m.headers == nil {
		m.headers = make(map[string]string)
	}
	m.headers[key] = value
	return nil
}

// RemoveHeader drops a custom header. Unknown keys are ignored.
func (m *Message) RemoveHeader(key string) *Message {
	delete(m.headers, key)
	return m
}

// AddError appends one line to the error list as given.
func (m *Message) AddError(msg string) *Message {
	m.errors = append(m.errors, msg)
	return m
}

// From returns the sender. Its Email is empty until SetFrom succeeds.
func (m *Message) From() Address { return m.from }

// ReplyTo returns the Reply-To address and whether one was set.
func (m *Message) ReplyTo() (Address, bool) {
	if m.replyTo == nil {
		return Address{}, false
	}
	return *m.replyTo, true
}

// To, Cc and Bcc return copies of the recipient lists in insertion order.
func (m *Message) To() []Address  { return slices.Clone(m.to) }
func (m *Message) Cc() []Address  { return slices.Clone(m.cc) }
func (m *Message) Bcc() []Address { return slices.Clone(m.bcc) }

// Subject, Text and HTML return the raw values as last set.
func (m *Message) Subject() string { return m.subject }
func (m *Message) Text() string    { return m.text }
func (m *Message) HTML() string    { return m.html }

// ContentType returns ContentTypeHTML or ContentTypeText depending on which
// body was set last, or an empty string if neither was set.
func (m *Message) ContentType() string { return m.contentType }

// Body returns the body selected by the content type.
func (m *Message) Body() string {
	if m.contentType == ContentTypeHTML {
		return m.html
	}
	return m.text
}

// Headers returns a copy of the custom headers.
func (m *Message) Headers() map[string]string { return maps.Clone(m.headers) }

// Header returns one custom header value by its exact key.
func (m *Message) Header(key string) (string, bool) {
	v, ok := m.headers[key]
	return v, ok
}

// Attachments returns a copy of the attachments in the order they were added.
func (m *Message) Attachments() []Attachment { return slices.Clone(m.attachments) }

// Errors returns a copy of the accumulated error lines, oldest first.
func (m *Message) Errors() []string { return slices.Clone(m.errors) }

// Recipients returns every To, Cc and Bcc address in that order.
func (m *Message) Recipients() []Address {
	all := make([]Address, 0, len(m.to)+len(m.cc)+len(m.bcc))
	all = append(all, m.to...)
	all = append(all, m.cc...)
	return append(all, m.bcc...)
}

// Validate checks the state an adapter needs before dispatch: a sender, at
// least one recipient, and attachment files that still exist.
func (m *Message) Validate() error {
	if m.from.Email == "" {
		return invalidArgument("message has no sender")
	}
	if len(m.to)+len(m.cc)+len(m.bcc) == 0 {
		return invalidArgument("message has no recipients")
	}
	for _, att := range m.attachments {
		if err := att.CheckFile(); err != nil {
			return err
		}
	}
	return nil
}
