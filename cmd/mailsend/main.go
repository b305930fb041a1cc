// Package main is the entry point for the mailsend command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/shineum/mailkit/internal/config"
	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/parser"
	"github.com/shineum/mailkit/internal/provider"
	"github.com/shineum/mailkit/internal/provider/smtp"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML configuration file (optional, environment variables always win)",
	}
	providerFlag = &cli.StringFlag{
		Name:  "provider",
		Usage: "delivery provider: smtp, ses, graph or stdout (overrides configuration)",
	}
	messageFlag = &cli.StringFlag{
		Name:  "message",
		Usage: "YAML or JSON file holding the serialized message map",
	}
	emlFlag = &cli.StringFlag{
		Name:  "eml",
		Usage: "raw RFC 5322 message file",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "mailsend"
	app.Usage = "compose an email and dispatch it through a configured provider"
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{configFileFlag}
	app.Commands = []*cli.Command{
		{
			Name:   "send",
			Usage:  "send a message read from --message or --eml",
			Flags:  []cli.Flag{providerFlag, messageFlag, emlFlag},
			Action: runSend,
		},
		{
			Name:  "protocols",
			Usage: "list the protocols accepted by the smtp provider",
			Action: func(c *cli.Context) error {
				fmt.Fprintln(c.App.Writer, strings.Join(smtp.Protocols(), "\n"))
				return nil
			},
		},
	}
	return app
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("mailsend failed", "error", err)
		os.Exit(1)
	}
}

func runSend(c *cli.Context) error {
	cfg, err := loadConfig(c.String(configFileFlag.Name))
	if err != nil {
		return err
	}
	if p := c.String(providerFlag.Name); p != "" {
		cfg.Provider = strings.ToLower(p)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	setupLogger(cfg.Logging.Level)

	msg, err := loadMessage(c.String(messageFlag.Name), c.String(emlFlag.Name))
	if err != nil {
		return err
	}

	prov, err := selectProvider(c.Context, cfg)
	if err != nil {
		return err
	}

	return send(c.Context, provider.NewMailerWithMessage(prov, msg), c.App.ErrWriter)
}

// send dispatches the mailer's message and prints its error list when the
// provider reports a failure.
func send(ctx context.Context, m *provider.Mailer, errOut io.Writer) error {
	ok, err := m.Send(ctx)
	if err != nil {
		return err
	}
	if !ok {
		for _, e := range m.Errors() {
			fmt.Fprintln(errOut, e)
		}
		return cli.Exit(fmt.Sprintf("delivery via %s failed", m.Provider().Name()), 1)
	}

	slog.Info("email sent",
		"provider", m.Provider().Name(),
		"recipients", len(m.Message().Recipients()),
	)
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// loadMessage builds the message from exactly one of a serialized map file
// or a raw .eml file.
func loadMessage(mapPath, emlPath string) (*email.Message, error) {
	switch {
	case mapPath != "" && emlPath != "":
		return nil, errors.New("--message and --eml are mutually exclusive")
	case emlPath != "":
		raw, err := os.ReadFile(emlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read eml file: %w", err)
		}
		return parser.Parse(raw)
	case mapPath != "":
		return loadMessageMap(mapPath)
	default:
		return nil, errors.New("one of --message or --eml is required")
	}
}

// loadMessageMap decodes a YAML or JSON document into the map form.
// Relative attachment paths are resolved against the file's directory.
func loadMessageMap(path string) (*email.Message, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message file: %w", err)
	}

	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse message file: %w", err)
	}

	if list, ok := data["attachments"].([]any); ok {
		base := filepath.Dir(path)
		for _, item := range list {
			att, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if file, ok := att["file"].(string); ok && file != "" && !filepath.IsAbs(file) {
				att["file"] = filepath.Join(base, file)
			}
		}
	}

	return email.MessageFromMap(data)
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
