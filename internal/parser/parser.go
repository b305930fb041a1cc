// Package parser builds a Message from a raw RFC 5322 document with MIME
// multipart support.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/shineum/mailkit/internal/email"
)

// addressHeaders are mapped onto builder fields rather than custom headers.
var addressHeaders = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"Mime-Version":              true,
}

// parsedPart is one leaf collected from the MIME tree.
type parsedPart struct {
	filename    string
	mediaType   string
	disposition string
	content     []byte
}

type parsed struct {
	text        *string
	html        *string
	attachments []parsedPart
}

var wordDecoder = new(mime.WordDecoder)

// Parse parses a raw RFC 5322 email message and replays it onto a new
// Message through the builder operations. When both a text and an HTML
// body are present, HTML becomes the content type to send. Unrecognized
// MIME parts are logged as warnings.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	var p parsed
	if err := p.readBody(msg.Header, msg.Body); err != nil {
		return nil, err
	}

	out := email.NewMessage()
	if err := applyHeaders(out, msg.Header); err != nil {
		return nil, err
	}
	if p.text != nil {
		out.SetText(*p.text)
	}
	if p.html != nil {
		out.SetHTML(*p.html)
	}
	for _, att := range p.attachments {
		if err := out.AddInlineAttachment(att.content, att.filename, "base64", att.mediaType, att.disposition); err != nil {
			return nil, fmt.Errorf("failed to add attachment %q: %w", att.filename, err)
		}
	}
	return out, nil
}

func applyHeaders(out *email.Message, h mail.Header) error {
	if from := parseAddressList(h.Get("From")); len(from) > 0 {
		if err := out.SetFrom(from[0].Address, from[0].Name); err != nil {
			return err
		}
	}
	if reply := parseAddressList(h.Get("Reply-To")); len(reply) > 0 {
		if err := out.SetReplyTo(reply[0].Address, reply[0].Name); err != nil {
			return err
		}
	}

	lists := []struct {
		header string
		add    func(string, ...string) error
	}{
		{"To", out.AddTo},
		{"Cc", out.AddCc},
		{"Bcc", out.AddBcc},
	}
	for _, l := range lists {
		for _, a := range parseAddressList(h.Get(l.header)) {
			if err := l.add(a.Address, a.Name); err != nil {
				return err
			}
		}
	}

	out.SetSubject(decodeHeader(h.Get("Subject")))

	for key, values := range h {
		if addressHeaders[textproto.CanonicalMIMEHeaderKey(key)] || len(values) == 0 {
			continue
		}
		if err := out.AddHeader(key, decodeHeader(values[0])); err != nil {
			slog.Warn("skipping header", "header", key, "error", err)
		}
	}
	return nil
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// readBody dispatches on the top-level content type.
func (p *parsed) readBody(h mail.Header, body io.Reader) error {
	contentType := h.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// If content type is unparseable, treat as plain text
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		return p.readSingle("text/plain", h.Get("Content-Transfer-Encoding"), body)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart message missing boundary")
		}
		if err := p.parseMultipart(body, boundary); err != nil {
			return fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return nil
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		slog.Warn("unrecognized top-level content type",
			"content_type", mediaType,
		)
		mediaType = "text/plain"
	}
	return p.readSingle(mediaType, h.Get("Content-Transfer-Encoding"), body)
}

func (p *parsed) readSingle(mediaType, encoding string, body io.Reader) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	content, err := decodeContent(encoding, raw)
	if err != nil {
		return err
	}
	s := string(content)
	if mediaType == "text/html" {
		p.html = &s
	} else {
		p.text = &s
	}
	return nil
}

// parseMultipart processes a multipart MIME body, collecting text/plain and
// text/html bodies and attachments.
func (p *parsed) parseMultipart(body io.Reader, boundary string) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := p.parseMultipart(part, nestedBoundary); err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
			}
			continue
		}

		raw, err := io.ReadAll(part)
		if err != nil {
			slog.Warn("failed to read part content", "content_type", mediaType, "error", err)
			continue
		}
		content, err := decodeContent(part.Header.Get("Content-Transfer-Encoding"), raw)
		if err != nil {
			slog.Warn("failed to decode part content", "content_type", mediaType, "error", err)
			continue
		}

		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		filename := part.FileName()
		if filename == "" {
			filename = params["name"]
		}

		switch {
		case disposition == email.DispositionAttachment:
			p.addAttachment(part, params, mediaType, email.DispositionAttachment, content)
		case disposition == email.DispositionInline && filename != "":
			p.addAttachment(part, params, mediaType, email.DispositionInline, content)
		case mediaType == "text/plain" && p.text == nil:
			s := string(content)
			p.text = &s
		case mediaType == "text/html" && p.html == nil:
			s := string(content)
			p.html = &s
		case filename != "":
			p.addAttachment(part, params, mediaType, email.DispositionAttachment, content)
		default:
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
				"disposition", disposition,
			)
		}
	}

	return nil
}

func (p *parsed) addAttachment(part *multipart.Part, params map[string]string, mediaType, disposition string, content []byte) {
	p.attachments = append(p.attachments, parsedPart{
		filename:    extractFilename(part, params),
		mediaType:   mediaType,
		disposition: disposition,
		content:     content,
	})
}

// decodeContent undoes a base64 or quoted-printable Content-Transfer-Encoding.
// multipart.Reader already decodes quoted-printable parts itself.
func decodeContent(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode quoted-printable content: %w", err)
		}
		return decoded, nil
	default:
		return raw, nil
	}
	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		// Try with RawStdEncoding for unpadded base64
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

// extractFilename extracts the filename from a MIME part, checking both
// Content-Disposition and Content-Type parameters.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name, ok := params["name"]; ok && name != "" {
		return name
	}
	// Adapters require a name, so derive one from the media type.
	if mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type")); err == nil {
		parts := strings.SplitN(mediaType, "/", 2)
		if len(parts) == 2 {
			return "attachment." + parts[1]
		}
	}
	return "attachment"
}

// parseAddressList parses an address header. Unparseable lists fall back to
// a comma split with no display names.
func parseAddressList(raw string) []*mail.Address {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err == nil {
		return addresses
	}

	var result []*mail.Address
	for _, p := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		addr, err := mail.ParseAddress(trimmed)
		if err != nil {
			slog.Warn("skipping unparsable address", "address", trimmed, "error", err)
			continue
		}
		result = append(result, addr)
	}
	return result
}
