package mailer

import (
	"errors"
	"testing"
	"time"

	"github.com/resend/resend-go/v3"

	"github.com/janiskrasemann/frbcat/internal/renderer"
)

type fakeSender struct {
	got *resend.SendEmailRequest
	err error
}

func (f *fakeSender) Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	return &resend.SendEmailResponse{Id: "email-1"}, nil
}

func TestSend(t *testing.T) {
	fake := &fakeSender{}
	m := New("frbcat@localhost", "you@localhost", "re_test")
	m.emails = fake
	m.now = func() time.Time { return time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC) }

	err := m.Send(&renderer.RenderedEmail{HTML: "<p>hi</p>", Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fake.got == nil {
		t.Fatal("expected an email to be sent")
	}
	if fake.got.Subject != "FRB digest for Mar 1, 2024" {
		t.Errorf("unexpected subject %q", fake.got.Subject)
	}
	if fake.got.From != "frbcat@localhost" || len(fake.got.To) != 1 || fake.got.To[0] != "you@localhost" {
		t.Errorf("unexpected addresses %q -> %v", fake.got.From, fake.got.To)
	}
	if fake.got.Html != "<p>hi</p>" || fake.got.Text != "hi" {
		t.Errorf("unexpected bodies %q / %q", fake.got.Html, fake.got.Text)
	}
}

func TestSendError(t *testing.T) {
	m := New("frbcat@localhost", "you@localhost", "re_test")
	m.emails = &fakeSender{err: errors.New("rate limited")}

	err := m.Send(&renderer.RenderedEmail{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, m.emails.(*fakeSender).err) {
		t.Errorf("expected the resend error to be wrapped, got %v", err)
	}
}
