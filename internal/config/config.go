// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for mailsend.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultSMTPHost    = "localhost"
	defaultSMTPPort    = 25
	defaultContentType = "text/plain"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider" validate:"omitempty,oneof=smtp ses graph stdout"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds the template settings of the SMTP adapter.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port" validate:"min=1,max=65535"`
	Protocol           string `yaml:"protocol" validate:"omitempty,oneof=smtp mail sendmail qmail ssl tls"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password" validate:"required_with=Username"`
	Auth               bool   `yaml:"auth"`
	SendmailPath       string `yaml:"sendmail_path"`
	Hostname           string `yaml:"hostname" validate:"omitempty,hostname_rfc1123"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile            string `yaml:"key_file" validate:"required_with=CertFile"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ContentType        string `yaml:"content_type" validate:"oneof=text/plain text/html"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" validate:"required_with=AccessKeyID"`
	Sender          string `yaml:"sender" validate:"omitempty,email"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender" validate:"omitempty,email"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	cfg.normalize()

	return cfg, nil
}

// Validate checks field ranges and enumerations. The returned error lists
// every failing field.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set. Access
// keys are optional; the default AWS credential chain is used without them.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// SMTPConfigured returns true if an SMTP host other than the default was
// given, or a local pipe protocol was selected.
func (c *Config) SMTPConfigured() bool {
	switch c.SMTP.Protocol {
	case "mail", "sendmail", "qmail":
		return true
	}
	return c.SMTP.Host != "" && c.SMTP.Host != defaultSMTPHost
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Host = defaultSMTPHost
	c.SMTP.Port = defaultSMTPPort
	c.SMTP.ContentType = defaultContentType
	c.Logging.Level = "info"
}

// normalize lowercases the enumerated fields so Validate and the CLI compare
// them case-insensitively.
func (c *Config) normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.SMTP.Protocol = strings.ToLower(strings.TrimSpace(c.SMTP.Protocol))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setBool := func(env string, dst *bool) error {
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		*dst = b
		return nil
	}

	setString("PROVIDER", &c.Provider)

	setString("SMTP_HOST", &c.SMTP.Host)
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
		}
		c.SMTP.Port = port
	}
	setString("SMTP_PROTOCOL", &c.SMTP.Protocol)
	setString("SMTP_USERNAME", &c.SMTP.Username)
	setString("SMTP_PASSWORD", &c.SMTP.Password)
	if err := setBool("SMTP_AUTH", &c.SMTP.Auth); err != nil {
		return err
	}
	setString("SMTP_SENDMAIL_PATH", &c.SMTP.SendmailPath)
	setString("SMTP_HOSTNAME", &c.SMTP.Hostname)
	setString("SMTP_CA_FILE", &c.SMTP.CAFile)
	setString("SMTP_CERT_FILE", &c.SMTP.CertFile)
	setString("SMTP_KEY_FILE", &c.SMTP.KeyFile)
	if err := setBool("SMTP_INSECURE_SKIP_VERIFY", &c.SMTP.InsecureSkipVerify); err != nil {
		return err
	}
	setString("SMTP_CONTENT_TYPE", &c.SMTP.ContentType)

	setString("SES_REGION", &c.SES.Region)
	setString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	setString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	setString("SES_SENDER", &c.SES.Sender)

	setString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	setString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	setString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	setString("GRAPH_SENDER", &c.Graph.Sender)

	setString("LOG_LEVEL", &c.Logging.Level)
	return nil
}
