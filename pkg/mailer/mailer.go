// Package mailer delivers generated reports by e-mail.
package mailer

import (
	"context"
	"errors"
	"strings"
)

// Attachment is a file on disk sent along with a message.
type Attachment struct {
	Path string
	// Name is the file name shown to the recipient, defaults to the base name
	// of Path.
	Name string
}

// Message is a single outbound e-mail.
type Message struct {
	FromEmail   string
	FromName    string
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Validate checks that the message can be sent.
func (m Message) Validate() error {
	var errs []error
	if strings.TrimSpace(m.FromEmail) == "" {
		errs = append(errs, errors.New("missing sender address"))
	}
	if len(nonEmpty(m.To)) == 0 {
		errs = append(errs, errors.New("missing recipients"))
	}
	if m.Text == "" && m.HTML == "" {
		errs = append(errs, errors.New("missing body"))
	}
	return errors.Join(errs...)
}

// Recipients returns every address the message goes to.
func (m Message) Recipients() []string {
	var all []string
	all = append(all, nonEmpty(m.To)...)
	all = append(all, nonEmpty(m.CC)...)
	all = append(all, nonEmpty(m.BCC)...)
	return all
}

// Transport sends messages.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

func nonEmpty(addrs []string) []string {
	var out []string
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
