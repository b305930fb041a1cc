package email

import (
	"fmt"
	"mime"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Address is a single mailbox: an email address and an optional display name.
type Address struct {
	Email string
	Name  string
}

// NewAddress validates and builds an Address. The name defaults to empty.
// addr must be a bare RFC 5322 address such as "jane@example.com".
func NewAddress(addr string, name ...string) (Address, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Address{}, invalidArgument("email address must not be empty")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return Address{}, invalidArgument("invalid email address %q: %v", addr, err)
	}
	if parsed.Name != "" || strings.ContainsAny(addr, "<>") {
		return Address{}, invalidArgument("email address %q must not carry a display name", addr)
	}
	a := Address{Email: addr}
	if len(name) > 0 {
		a.Name = name[0]
	}
	return a, nil
}

// String formats the address for a header, quoting the name when needed.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// Attachment kinds.
const (
	AttachmentFile   = "file"
	AttachmentInline = "inline"
)

// Content dispositions understood by the adapters.
const (
	DispositionAttachment = "attachment"
	DispositionInline     = "inline"
)

const defaultEncoding = "base64"

// transferEncodings are the Content-Transfer-Encoding values an inline
// attachment may declare.
var transferEncodings = []string{"base64", "quoted-printable", "7bit", "8bit", "binary"}

// Attachment is either a file on disk, resolved to an absolute path when it
// was added, or an in-memory payload.
type Attachment struct {
	Path        string
	Name        string
	MimeType    string
	Data        []byte
	Encoding    string
	Disposition string
}

// IsInline reports whether the attachment carries its payload in memory.
func (a Attachment) IsInline() bool {
	return a.Path == ""
}

// newFileAttachment resolves path to an absolute regular file and fills in
// the name and MIME type when they are omitted.
func newFileAttachment(path, name, mimeType string) (Attachment, error) {
	if strings.TrimSpace(path) == "" {
		return Attachment{}, invalidArgument("attachment path must not be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: %s: %v", ErrFileNotFound, path, err)
	}
	if err := checkRegularFile(abs); err != nil {
		return Attachment{}, err
	}

	if name == "" {
		name = filepath.Base(abs)
	}
	if mimeType == "" {
		mimeType = detectFileType(abs, name)
	}

	return Attachment{
		Path:        abs,
		Name:        name,
		MimeType:    mimeType,
		Disposition: DispositionAttachment,
	}, nil
}

// CheckFile reports ErrFileNotFound if the attachment's file is no longer a
// regular file. Inline attachments always pass.
func (a Attachment) CheckFile() error {
	if a.IsInline() {
		return nil
	}
	return checkRegularFile(a.Path)
}

func checkRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrFileNotFound, path)
	}
	return nil
}

// detectFileType prefers the extension of the attachment name and falls back
// to sniffing the file content.
func detectFileType(path, name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func detectDataType(data []byte, name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return mimetype.Detect(data).String()
}
