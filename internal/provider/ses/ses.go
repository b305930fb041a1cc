// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/samber/lo"
	gomail "gopkg.in/mail.v2"

	"github.com/shineum/mailkit/internal/email"
)

const charset = "UTF-8"

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender, when set, replaces the address of every message's From. It
	// must be an identity verified in SES.
	Sender string
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	sender string
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender: sender,
		client: client,
	}
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// Send delivers a message via AWS SES v2. Messages with attachments or
// custom headers go out as raw MIME; everything else uses simple content.
func (s *SESProvider) Send(ctx context.Context, msg *email.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}

	from := msg.From()
	if s.sender != "" {
		from.Email = s.sender
	}

	var input *sesv2.SendEmailInput
	if len(msg.Attachments()) > 0 || len(msg.Headers()) > 0 {
		raw, err := buildRawMessage(from, msg)
		if err != nil {
			return false, fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(from.String()),
			Destination:      destination(msg),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(from, msg)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return false, email.NewTransportError(err)
	}

	slog.Debug("email accepted by SES",
		"message_id", aws.ToString(out.MessageId),
		"recipients", len(msg.Recipients()),
	)
	return true, nil
}

func addresses(list []email.Address) []string {
	return lo.Map(list, func(a email.Address, _ int) string { return a.String() })
}

func destination(msg *email.Message) *types.Destination {
	return &types.Destination{
		ToAddresses:  addresses(msg.To()),
		CcAddresses:  addresses(msg.Cc()),
		BccAddresses: addresses(msg.Bcc()),
	}
}

// buildSimpleInput creates a SES SendEmailInput for emails without
// attachments. Only the body selected by the message content type is sent.
func buildSimpleInput(from email.Address, msg *email.Message) *sesv2.SendEmailInput {
	content := &types.Content{
		Data:    aws.String(msg.Body()),
		Charset: aws.String(charset),
	}
	body := &types.Body{}
	if msg.ContentType() == email.ContentTypeHTML {
		body.Html = content
	} else {
		body.Text = content
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from.String()),
		Destination:      destination(msg),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject()),
					Charset: aws.String(charset),
				},
				Body: body,
			},
		},
	}
	if r, ok := msg.ReplyTo(); ok {
		input.ReplyToAddresses = []string{r.String()}
	}
	return input
}

// buildRawMessage renders the message as MIME with gomail.
func buildRawMessage(from email.Address, msg *email.Message) ([]byte, error) {
	m := gomail.NewMessage(gomail.SetCharset(charset))
	m.SetAddressHeader("From", from.Email, from.Name)
	if r, ok := msg.ReplyTo(); ok {
		m.SetAddressHeader("Reply-To", r.Email, r.Name)
	}
	if to := addresses(msg.To()); len(to) > 0 {
		m.SetHeader("To", to...)
	}
	if cc := addresses(msg.Cc()); len(cc) > 0 {
		m.SetHeader("Cc", cc...)
	}
	m.SetHeader("Subject", msg.Subject())
	for k, v := range msg.Headers() {
		m.SetHeader(k, v)
	}

	ct := msg.ContentType()
	if ct == "" {
		ct = email.ContentTypeText
	}
	m.SetBody(ct, msg.Body())

	for _, att := range msg.Attachments() {
		typeHeader := gomail.SetHeader(map[string][]string{"Content-Type": {att.MimeType}})
		if !att.IsInline() {
			m.Attach(att.Path, gomail.Rename(att.Name), typeHeader)
			continue
		}
		data := att.Data
		copyData := gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
		if att.Disposition == email.DispositionInline {
			m.Embed(att.Name, typeHeader, copyData)
		} else {
			m.Attach(att.Name, typeHeader, copyData)
		}
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
