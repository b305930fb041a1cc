package smtp

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/shineum/mailkit/internal/email"
)

// Mode is the delivery mechanism used by a session.
type Mode string

const (
	ModeSMTP     Mode = "smtp"
	ModeMail     Mode = "mail"
	ModeSendmail Mode = "sendmail"
	ModeQmail    Mode = "qmail"
)

// Secure is the secure-channel flag of an SMTP session.
type Secure string

const (
	SecureNone Secure = ""
	SecureSSL  Secure = "ssl"
	SecureTLS  Secure = "tls"
)

// submissionPort always implies STARTTLS.
const submissionPort = 587

const (
	defaultHost         = "localhost"
	defaultPort         = 25
	defaultSendmailPath = "/usr/sbin/sendmail"
	defaultQmailPath    = "/var/qmail/bin/qmail-inject"
)

// Config is the template configuration of the adapter. Every working
// session starts from a copy of it.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Auth enables SMTP AUTH with Username and Password.
	Auth bool
	// Protocol is one of smtp, mail, sendmail, qmail, ssl or tls. Empty means smtp.
	Protocol string
	// ContentType is used when the Message never had a body set.
	ContentType string
	// SendmailPath overrides the binary used by the mail, sendmail and qmail modes.
	SendmailPath string
	// Hostname is announced in HELO and used for generated Message-IDs.
	Hostname  string
	TLSConfig *tls.Config
}

// protocol describes what one protocol name does to a session.
type protocol struct {
	mode      Mode
	secure    Secure
	setSecure bool
}

// protocolNames lists the recognized protocols in the order they are reported.
var protocolNames = []string{"smtp", "mail", "sendmail", "qmail", "ssl", "tls"}

var protocols = map[string]protocol{
	"smtp":     {mode: ModeSMTP},
	"mail":     {mode: ModeMail},
	"sendmail": {mode: ModeSendmail},
	"qmail":    {mode: ModeQmail},
	"ssl":      {mode: ModeSMTP, secure: SecureSSL, setSecure: true},
	"tls":      {mode: ModeSMTP, secure: SecureTLS, setSecure: true},
}

// Protocols returns the recognized protocol names.
func Protocols() []string {
	return append([]string(nil), protocolNames...)
}

func lookupProtocol(name string) (protocol, error) {
	p, ok := protocols[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return protocol{}, fmt.Errorf("%w %q: expected one of %s",
			email.ErrUnsupportedProtocol, name, strings.Join(protocolNames, ", "))
	}
	return p, nil
}

// settings is a Config resolved into a delivery mode and secure flag.
type settings struct {
	Config
	mode   Mode
	secure Secure
}

func defaultSettings() settings {
	return settings{
		Config: Config{
			Host:        defaultHost,
			Port:        defaultPort,
			ContentType: email.ContentTypeText,
			Hostname:    defaultHost,
		},
		mode: ModeSMTP,
	}
}

func (s *settings) applyProtocol(p protocol) {
	s.mode = p.mode
	if p.setSecure {
		s.secure = p.secure
	}
}

func (s *settings) applyPort(port int) {
	s.Port = port
	if port == submissionPort {
		s.secure = SecureTLS
	}
}

// resolve fills defaults and applies the protocol first and then the port,
// so a 587 port wins over an ssl protocol given in the same Config.
func resolve(cfg Config) (settings, error) {
	s := defaultSettings()
	if cfg.Host != "" {
		s.Host = cfg.Host
	}
	if cfg.ContentType != "" {
		s.ContentType = cfg.ContentType
	}
	if cfg.Hostname != "" {
		s.Hostname = cfg.Hostname
	}
	s.Username = cfg.Username
	s.Password = cfg.Password
	s.Auth = cfg.Auth
	s.SendmailPath = cfg.SendmailPath
	s.TLSConfig = cfg.TLSConfig

	if cfg.Protocol != "" {
		p, err := lookupProtocol(cfg.Protocol)
		if err != nil {
			return settings{}, err
		}
		s.applyProtocol(p)
		s.Protocol = cfg.Protocol
	}
	if cfg.Port != 0 {
		s.applyPort(cfg.Port)
	}
	return s, nil
}
