package mailer

import (
	"context"
	"time"

	mg "github.com/mailgun/mailgun-go/v4"
)

// Sender delivers one rendered email.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type Mailgun struct {
	client *mg.MailgunImpl
	From   string
}

// NewMailgun builds a sender for domain. An empty apiBase uses the US
// region; EU accounts pass mg.APIBaseEU.
func NewMailgun(domain, apiKey, from, apiBase string) *Mailgun {
	c := mg.NewMailgun(domain, apiKey)
	if apiBase != "" {
		c.SetAPIBase(apiBase)
	}
	return &Mailgun{client: c, From: from}
}

func (m *Mailgun) Send(ctx context.Context, msg Message) error {
	out := m.client.NewMessage(m.From, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		out.SetHtml(msg.HTML)
	}
	if msg.Tag != "" {
		_ = out.AddTag(msg.Tag)
	}
	c, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, _, err := m.client.Send(c, out)
	return err
}
