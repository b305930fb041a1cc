package smtp

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	gomail "gopkg.in/mail.v2"

	"github.com/shineum/mailkit/internal/email"
)

// Session is the working client of the adapter: the per-send state built
// from the template settings. It is discarded and rebuilt around every send,
// so nothing set during one send is visible to the next.
type Session struct {
	settings

	from        email.Address
	replyTo     *email.Address
	to          []email.Address
	cc          []email.Address
	bcc         []email.Address
	attachments []email.Attachment
	headers     map[string]string
	subject     string
	body        string
	contentType string
	errorInfo   string
}

func newSession(s settings) *Session {
	return &Session{
		settings:    s,
		headers:     make(map[string]string),
		contentType: s.ContentType,
	}
}

// Connection settings in effect for this session.
func (s *Session) Host() string     { return s.settings.Host }
func (s *Session) Port() int        { return s.settings.Port }
func (s *Session) Username() string { return s.settings.Username }
func (s *Session) Auth() bool       { return s.settings.Auth }
func (s *Session) Mode() Mode       { return s.mode }
func (s *Session) Secure() Secure   { return s.secure }

// Envelope and content copied from the Message being sent.
func (s *Session) From() email.Address    { return s.from }
func (s *Session) To() []email.Address    { return slices.Clone(s.to) }
func (s *Session) Cc() []email.Address    { return slices.Clone(s.cc) }
func (s *Session) Bcc() []email.Address   { return slices.Clone(s.bcc) }
func (s *Session) Subject() string        { return s.subject }
func (s *Session) Body() string           { return s.body }
func (s *Session) ContentType() string    { return s.contentType }
func (s *Session) Headers() map[string]string {
	return maps.Clone(s.headers)
}
func (s *Session) Attachments() []email.Attachment {
	return slices.Clone(s.attachments)
}

// ErrorInfo returns the transport error recorded by the last failed send.
func (s *Session) ErrorInfo() string { return s.errorInfo }

// IsHTML reports whether the session sends an HTML body.
func (s *Session) IsHTML() bool { return s.contentType == email.ContentTypeHTML }

// Setters used while copying a Message onto the session.
func (s *Session) SetFrom(a email.Address)    { s.from = a }
func (s *Session) SetReplyTo(a email.Address) { s.replyTo = &a }
func (s *Session) AddTo(a email.Address)      { s.to = append(s.to, a) }
func (s *Session) AddCc(a email.Address)      { s.cc = append(s.cc, a) }
func (s *Session) AddBcc(a email.Address)     { s.bcc = append(s.bcc, a) }
func (s *Session) SetSubject(subject string)  { s.subject = subject }
func (s *Session) SetBody(body string)        { s.body = body }
func (s *Session) SetHeader(key, value string) {
	s.headers[key] = value
}

// SetContentType switches between text and HTML bodies.
func (s *Session) SetContentType(ct string) {
	if ct == email.ContentTypeHTML {
		s.contentType = email.ContentTypeHTML
		return
	}
	s.contentType = email.ContentTypeText
}

// AddFileAttachment attaches a file by its absolute path.
func (s *Session) AddFileAttachment(a email.Attachment) error {
	abs, err := filepath.Abs(a.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", email.ErrFileNotFound, a.Path, err)
	}
	a.Path = abs
	s.attachments = append(s.attachments, a)
	return nil
}

// AddInlineAttachment attaches an in-memory payload with its metadata.
func (s *Session) AddInlineAttachment(a email.Attachment) {
	a.Path = ""
	s.attachments = append(s.attachments, a)
}

// compose renders the session into a gomail message.
func (s *Session) compose() *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))

	m.SetAddressHeader("From", s.from.Email, s.from.Name)
	if s.replyTo != nil {
		m.SetAddressHeader("Reply-To", s.replyTo.Email, s.replyTo.Name)
	}
	setAddressList(m, "To", s.to)
	setAddressList(m, "Cc", s.cc)
	setAddressList(m, "Bcc", s.bcc)
	m.SetHeader("Subject", s.subject)

	for _, k := range slices.Sorted(maps.Keys(s.headers)) {
		m.SetHeader(k, s.headers[k])
	}
	if !slices.ContainsFunc(slices.Collect(maps.Keys(s.headers)), isMessageID) {
		m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), s.Hostname))
	}

	m.SetBody(s.contentType, s.body)

	for _, a := range s.attachments {
		typeHeader := gomail.SetHeader(map[string][]string{"Content-Type": {a.MimeType}})
		if !a.IsInline() {
			m.Attach(a.Path, gomail.Rename(a.Name), typeHeader)
			continue
		}
		data := a.Data
		copyData := gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
		if a.Disposition == email.DispositionInline {
			m.Embed(a.Name, copyData, typeHeader)
		} else {
			m.Attach(a.Name, copyData, typeHeader)
		}
	}
	return m
}

func isMessageID(key string) bool { return strings.EqualFold(key, "Message-ID") }

func setAddressList(m *gomail.Message, field string, list []email.Address) {
	if len(list) == 0 {
		return
	}
	values := make([]string, 0, len(list))
	for _, a := range list {
		values = append(values, m.FormatAddress(a.Email, a.Name))
	}
	m.SetHeader(field, values...)
}

// send hands the composed message to the transport and records the error
// info on failure.
func (s *Session) send(ctx context.Context, t Transport) error {
	s.errorInfo = ""
	if err := t.Deliver(ctx, s, s.compose()); err != nil {
		s.errorInfo = err.Error()
		return err
	}
	return nil
}
