package email

import (
	"encoding/base64"
	"maps"
	"slices"
	"strings"
)

// Keys of the map form of a Message.
const (
	keyFrom        = "from"
	keyReplyTo     = "replyTo"
	keyTo          = "to"
	keyCc          = "cc"
	keyBcc         = "bcc"
	keySubject     = "subject"
	keyText        = "text"
	keyHTML        = "html"
	keyContentType = "contentType"
	keyHeaders     = "headers"
	keyAttachments = "attachments"

	keyEmail       = "email"
	keyName        = "name"
	keyFile        = "file"
	keyType        = "type"
	keyData        = "data"
	keyEncoding    = "encoding"
	keyDisposition = "disposition"
)

// ToMap renders every builder-settable field as plain nested maps and slices.
// The result decodes cleanly from JSON or YAML and feeds FromMap.
func (m *Message) ToMap() map[string]any {
	out := map[string]any{
		keySubject: m.subject,
		keyTo:      addressList(m.to),
		keyCc:      addressList(m.cc),
		keyBcc:     addressList(m.bcc),
	}
	if m.from.Email != "" || m.from.Name != "" {
		out[keyFrom] = addressMap(m.from)
	}
	if m.replyTo != nil {
		out[keyReplyTo] = addressMap(*m.replyTo)
	}
	if m.text != "" || m.contentType == ContentTypeText {
		out[keyText] = m.text
	}
	if m.html != "" || m.contentType == ContentTypeHTML {
		out[keyHTML] = m.html
	}
	switch m.contentType {
	case ContentTypeText:
		out[keyContentType] = keyText
	case ContentTypeHTML:
		out[keyContentType] = keyHTML
	}

	headers := make(map[string]any, len(m.headers))
	for k, v := range m.headers {
		headers[k] = v
	}
	out[keyHeaders] = headers

	atts := make([]any, 0, len(m.attachments))
	for _, a := range m.attachments {
		if a.IsInline() {
			atts = append(atts, map[string]any{
				keyData:        base64.StdEncoding.EncodeToString(a.Data),
				keyName:        a.Name,
				keyType:        a.MimeType,
				keyEncoding:    a.Encoding,
				keyDisposition: a.Disposition,
			})
			continue
		}
		atts = append(atts, map[string]any{
			keyFile: a.Path,
			keyName: a.Name,
			keyType: a.MimeType,
		})
	}
	out[keyAttachments] = atts

	return out
}

func addressMap(a Address) map[string]any {
	return map[string]any{keyEmail: a.Email, keyName: a.Name}
}

func addressList(list []Address) []any {
	out := make([]any, 0, len(list))
	for _, a := range list {
		out = append(out, addressMap(a))
	}
	return out
}

// FromMap replays the builder operations described by data onto m. Keys that
// are absent leave the matching field untouched. If any value is rejected,
// m is left exactly as it was.
func (m *Message) FromMap(data map[string]any) error {
	work := m.clone()
	if err := work.apply(data); err != nil {
		return err
	}
	*m = *work
	return nil
}

// MessageFromMap builds a new Message from its map form.
func MessageFromMap(data map[string]any) (*Message, error) {
	m := NewMessage()
	if err := m.FromMap(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) apply(data map[string]any) error {
	if v, ok := data[keyFrom]; ok {
		addr, name, err := addressFields(keyFrom, v)
		if err != nil {
			return err
		}
		// A display name set before any sender address has an empty email.
		if strings.TrimSpace(addr) == "" && name != "" {
			m.SetFromName(name)
		} else if err := m.SetFrom(addr, name); err != nil {
			return err
		}
	}
	if v, ok := data[keyReplyTo]; ok {
		addr, name, err := addressFields(keyReplyTo, v)
		if err != nil {
			return err
		}
		if err := m.SetReplyTo(addr, name); err != nil {
			return err
		}
	}

	lists := []struct {
		key string
		add func(string, ...string) error
	}{
		{keyTo, m.AddTo},
		{keyCc, m.AddCc},
		{keyBcc, m.AddBcc},
	}
	for _, l := range lists {
		v, ok := data[l.key]
		if !ok {
			continue
		}
		entries, err := asList(l.key, v)
		if err != nil {
			return err
		}
		for _, e := range entries {
			addr, name, err := addressFields(l.key, e)
			if err != nil {
				return err
			}
			if err := l.add(addr, name); err != nil {
				return err
			}
		}
	}

	if v, ok := data[keySubject]; ok {
		s, err := asString(keySubject, v)
		if err != nil {
			return err
		}
		m.SetSubject(s)
	}
	if err := m.applyBodies(data); err != nil {
		return err
	}

	if v, ok := data[keyHeaders]; ok {
		headers, err := asMap(keyHeaders, v)
		if err != nil {
			return err
		}
		keys := slices.Sorted(maps.Keys(headers))
		for _, k := range keys {
			s, err := asString(keyHeaders+"."+k, headers[k])
			if err != nil {
				return err
			}
			if err := m.AddHeader(k, s); err != nil {
				return err
			}
		}
	}

	if v, ok := data[keyAttachments]; ok {
		entries, err := asList(keyAttachments, v)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := m.applyAttachment(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyBodies sets text and html so that the one named by contentType, or
// html when it is absent, is set last.
func (m *Message) applyBodies(data map[string]any) error {
	order := []string{keyText, keyHTML}
	if v, ok := data[keyContentType]; ok {
		ct, err := asString(keyContentType, v)
		if err != nil {
			return err
		}
		switch ct {
		case keyText, ContentTypeText:
			order = []string{keyHTML, keyText}
		case keyHTML, ContentTypeHTML:
		default:
			return invalidArgument("%s: unknown content type %q", keyContentType, ct)
		}
	}
	for _, key := range order {
		v, ok := data[key]
		if !ok {
			continue
		}
		s, err := asString(key, v)
		if err != nil {
			return err
		}
		if key == keyText {
			m.SetText(s)
		} else {
			m.SetHTML(s)
		}
	}
	return nil
}

func (m *Message) applyAttachment(v any) error {
	fields, err := asMap(keyAttachments, v)
	if err != nil {
		return err
	}
	str := func(key string) (string, error) {
		raw, ok := fields[key]
		if !ok || raw == nil {
			return "", nil
		}
		return asString(keyAttachments+"."+key, raw)
	}

	name, err := str(keyName)
	if err != nil {
		return err
	}
	mimeType, err := str(keyType)
	if err != nil {
		return err
	}

	if raw, ok := fields[keyData]; ok {
		var payload []byte
		switch d := raw.(type) {
		case []byte:
			payload = d
		case string:
			payload, err = base64.StdEncoding.DecodeString(d)
			if err != nil {
				return invalidArgument("%s.%s: %v", keyAttachments, keyData, err)
			}
		default:
			return invalidArgument("%s.%s: expected bytes or base64 string, got %T", keyAttachments, keyData, raw)
		}
		encoding, err := str(keyEncoding)
		if err != nil {
			return err
		}
		disposition, err := str(keyDisposition)
		if err != nil {
			return err
		}
		return m.AddInlineAttachment(payload, name, encoding, mimeType, disposition)
	}

	path, err := str(keyFile)
	if err != nil {
		return err
	}
	return m.AddAttachment(path, name, mimeType)
}

func (m *Message) clone() *Message {
	c := *m
	if m.replyTo != nil {
		r := *m.replyTo
		c.replyTo = &r
	}
	c.to = slices.Clone(m.to)
	c.cc = slices.Clone(m.cc)
	c.bcc = slices.Clone(m.bcc)
	c.headers = maps.Clone(m.headers)
	if c.headers == nil {
		c.headers = make(map[string]string)
	}
	c.attachments = slices.Clone(m.attachments)
	c.errors = slices.Clone(m.errors)
	return &c
}

func addressFields(key string, v any) (string, string, error) {
	fields, err := asMap(key, v)
	if err != nil {
		return "", "", err
	}
	addr, err := asString(key+"."+keyEmail, fields[keyEmail])
	if err != nil {
		return "", "", err
	}
	var name string
	if raw, ok := fields[keyName]; ok && raw != nil {
		if name, err = asString(key+"."+keyName, raw); err != nil {
			return "", "", err
		}
	}
	return addr, name, nil
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", invalidArgument("%s: expected string, got %T", key, v)
	}
	return s, nil
}

func asMap(key string, v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, nil
	default:
		return nil, invalidArgument("%s: expected object, got %T", key, v)
	}
}

func asList(key string, v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, nil
	default:
		return nil, invalidArgument("%s: expected list, got %T", key, v)
	}
}
