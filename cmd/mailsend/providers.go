package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mailkit/internal/config"
	"github.com/shineum/mailkit/internal/provider"
	"github.com/shineum/mailkit/internal/provider/graph"
	"github.com/shineum/mailkit/internal/provider/ses"
	"github.com/shineum/mailkit/internal/provider/smtp"
	"github.com/shineum/mailkit/internal/provider/stdout"
	mailtls "github.com/shineum/mailkit/internal/tls"
)

// selectProvider chooses the email delivery backend based on configuration.
// An explicit provider name takes precedence. Otherwise the first configured
// of Graph, SES and SMTP is used, falling back to stdout.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "smtp":
		return newSMTP(cfg)

	case "ses":
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("ses provider selected but SES_REGION and SES_SENDER are required")
		}
		return newSES(ctx, cfg)

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		return newGraph(cfg), nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case "":
		switch {
		case cfg.GraphConfigured():
			return newGraph(cfg), nil
		case cfg.SESConfigured():
			return newSES(ctx, cfg)
		case cfg.SMTPConfigured():
			return newSMTP(cfg)
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newSMTP(cfg *config.Config) (provider.Provider, error) {
	c := smtp.Config{
		Host:         cfg.SMTP.Host,
		Port:         cfg.SMTP.Port,
		Username:     cfg.SMTP.Username,
		Password:     cfg.SMTP.Password,
		Auth:         cfg.SMTP.Auth || cfg.AuthEnabled(),
		Protocol:     cfg.SMTP.Protocol,
		ContentType:  cfg.SMTP.ContentType,
		SendmailPath: cfg.SMTP.SendmailPath,
		Hostname:     cfg.SMTP.Hostname,
	}

	opts := mailtls.ClientOptions{
		ServerName:         cfg.SMTP.Host,
		CAFile:             cfg.SMTP.CAFile,
		CertFile:           cfg.SMTP.CertFile,
		KeyFile:            cfg.SMTP.KeyFile,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	}
	if opts.Enabled() {
		tlsConfig, err := mailtls.ClientConfig(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to setup TLS: %w", err)
		}
		c.TLSConfig = tlsConfig
	}

	p, err := smtp.New(c)
	if err != nil {
		return nil, err
	}
	slog.Info("using smtp provider",
		"host", cfg.SMTP.Host,
		"port", cfg.SMTP.Port,
		"protocol", cfg.SMTP.Protocol,
		"auth_enabled", c.Auth,
	)
	return p, nil
}

func newSES(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newGraph(cfg *config.Config) provider.Provider {
	slog.Info("using Microsoft Graph provider",
		"sender", cfg.Graph.Sender,
	)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	})
}
