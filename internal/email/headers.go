package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// HeadersJSON renders the custom headers as a JSON object with keys in
// sorted order. The characters <, >, &, ' and " inside keys and values are
// written as \u escapes so the result is safe to embed in HTML or a quoted
// attribute. An empty header set renders as {}.
func (m *Message) HeadersJSON() (string, error) {
	if len(m.headers) == 0 {
		return "{}", nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range slices.Sorted(maps.Keys(m.headers)) {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeHexString(&buf, k); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		if err := writeHexString(&buf, m.headers[k]); err != nil {
			return "", err
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// writeHexString writes s as a JSON string. encoding/json already escapes
// <, > and &; quotes and apostrophes are rewritten here.
func writeHexString(buf *bytes.Buffer, s string) error {
	enc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}

	inner := enc[1 : len(enc)-1]
	buf.WriteByte('"')
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case c == '\\' && i+1 < len(inner):
			if inner[i+1] == '"' {
				buf.WriteString(`\u0022`)
			} else {
				buf.WriteByte(c)
				buf.WriteByte(inner[i+1])
			}
			i++
		case c == '\'':
			buf.WriteString(`\u0027`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
	return nil
}
