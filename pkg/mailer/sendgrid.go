package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendEndpoint = "/v3/mail/send"

// SendGrid sends messages through the SendGrid v3 mail API.
type SendGrid struct {
	apiKey string
	host   string
}

// NewSendGrid returns a SendGrid transport. An empty host uses the public
// API.
func NewSendGrid(apiKey, host string) *SendGrid {
	return &SendGrid{apiKey: apiKey, host: host}
}

// Send implements Transport.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if s.apiKey == "" {
		return fmt.Errorf("missing sendgrid api key")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	m, err := buildMail(msg)
	if err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.apiKey, sendEndpoint, s.host)
	req.Method = "POST"
	client := &sendgrid.Client{Request: req}
	resp, err := client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to send mail: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func buildMail(msg Message) (*mail.SGMailV3, error) {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(msg.FromName, msg.FromEmail))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(emails(msg.To)...)
	if cc := emails(msg.CC); len(cc) > 0 {
		p.AddCCs(cc...)
	}
	if bcc := emails(msg.BCC); len(bcc) > 0 {
		p.AddBCCs(bcc...)
	}
	m.AddPersonalizations(p)

	if msg.Text != "" {
		m.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}

	for _, a := range msg.Attachments {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		name := a.Name
		if name == "" {
			name = filepath.Base(a.Path)
		}
		contentType := mime.TypeByExtension(filepath.Ext(name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(data))
		att.SetType(contentType)
		att.SetFilename(name)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	return m, nil
}

func emails(addrs []string) []*mail.Email {
	var out []*mail.Email
	for _, a := range nonEmpty(addrs) {
		out = append(out, mail.NewEmail("", a))
	}
	return out
}
