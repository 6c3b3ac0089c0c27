package mailer

import (
	"fmt"
	"log"
	"time"

	"github.com/resend/resend-go/v3"

	"github.com/janiskrasemann/frbcat/internal/renderer"
)

// sender is the part of the resend client the mailer uses.
type sender interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type Mailer struct {
	from   string
	to     string
	emails sender
	now    func() time.Time
}

func New(from, to, apiKey string) *Mailer {
	return &Mailer{
		from:   from,
		to:     to,
		emails: resend.NewClient(apiKey).Emails,
		now:    time.Now,
	}
}

// Subject is the subject line of the digest sent at t.
func Subject(t time.Time) string {
	return fmt.Sprintf("FRB digest for %s", t.Format("Jan 2, 2006"))
}

func (m *Mailer) Send(email *renderer.RenderedEmail) error {
	params := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{m.to},
		Subject: Subject(m.now()),
		Html:    email.HTML,
		Text:    email.Text,
	}

	sent, err := m.emails.Send(params)
	if err != nil {
		return fmt.Errorf("sending email via resend: %w", err)
	}

	log.Printf("Email sent: %s", sent.Id)
	return nil
}
