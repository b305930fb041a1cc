// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/shineum/mailkit/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message sendMailMessage `json:"message"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
	IsInline     bool   `json:"isInline,omitempty"`
	ContentID    string `json:"contentId,omitempty"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func recipients(list []email.Address) []recipient {
	return lo.Map(list, func(a email.Address, _ int) recipient {
		return recipient{EmailAddress: emailAddress{Address: a.Email, Name: a.Name}}
	})
}

// buildSendMailRequest converts a Message into a Graph API sendMail request
// body. File attachments are read here.
func buildSendMailRequest(msg *email.Message) (*sendMailRequest, error) {
	body := messageBody{ContentType: "text", Content: msg.Body()}
	if msg.ContentType() == email.ContentTypeHTML {
		body.ContentType = "html"
	}

	out := sendMailMessage{
		Subject:       msg.Subject(),
		Body:          body,
		ToRecipients:  recipients(msg.To()),
		CcRecipients:  recipients(msg.Cc()),
		BccRecipients: recipients(msg.Bcc()),
	}
	if r, ok := msg.ReplyTo(); ok {
		out.ReplyTo = recipients([]email.Address{r})
	}
	for _, k := range slices.Sorted(maps.Keys(msg.Headers())) {
		// Graph only accepts custom X- headers.
		if !strings.HasPrefix(strings.ToLower(k), "x-") {
			slog.Warn("dropping header not accepted by Graph", "header", k)
			continue
		}
		v, _ := msg.Header(k)
		out.InternetMessageHeaders = append(out.InternetMessageHeaders, messageHeader{Name: k, Value: v})
	}

	for _, att := range msg.Attachments() {
		content := att.Data
		if !att.IsInline() {
			data, err := os.ReadFile(att.Path)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", email.ErrFileNotFound, att.Path, err)
			}
			content = data
		}
		ga := graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Name,
			ContentType:  att.MimeType,
			ContentBytes: base64.StdEncoding.EncodeToString(content),
		}
		if att.Disposition == email.DispositionInline {
			ga.IsInline = true
			ga.ContentID = att.Name
		}
		out.Attachments = append(out.Attachments, ga)
	}

	return &sendMailRequest{Message: out}, nil
}
