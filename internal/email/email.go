package email

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs emails instead of sending them. Used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "alert email (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends emails via the Resend API in staging and production.
type ResendSender struct {
	client *resend.Client
	from   string
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger.With("component", "email")}
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Alerter mails operators when a schedule ran out of attempts without a
// fully successful sync.
type Alerter struct {
	sender Sender
	to     string
}

func NewAlerter(sender Sender, to string) *Alerter {
	return &Alerter{sender: sender, to: to}
}

func (a *Alerter) ScheduleExhausted(ctx context.Context, s *domain.Schedule) error {
	subject := fmt.Sprintf("Post-race sync exhausted for %s (%s)", s.EventName, s.Key)
	if err := a.sender.Send(ctx, a.to, subject, exhaustedBody(s)); err != nil {
		return fmt.Errorf("alert %s: %w", s.Key, err)
	}
	return nil
}

func exhaustedBody(s *domain.Schedule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>All %d sync attempts for <b>%s</b> (%s) finished without a full sync. Success rate %.0f%%.</p>",
		len(s.Attempts), html.EscapeString(s.EventName), s.Key, s.SuccessRate()*100)
	b.WriteString("<table><tr><th>#</th><th>Scheduled</th><th>Status</th><th>Failed categories</th><th>Error</th></tr>")
	for _, a := range s.Attempts {
		var failed []string
		if a.Results != nil {
			for _, c := range domain.Categories() {
				if !a.Results.Get(c) {
					failed = append(failed, c.String())
				}
			}
		}
		errText := ""
		if a.Error != nil {
			errText = *a.Error
		}
		fmt.Fprintf(&b, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			a.Ordinal,
			a.ScheduledTime.UTC().Format(time.RFC3339),
			a.Status,
			html.EscapeString(strings.Join(failed, ", ")),
			html.EscapeString(errText),
		)
	}
	b.WriteString("</table>")
	return b.String()
}
