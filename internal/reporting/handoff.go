package reporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// Handoff describes a thread closed for a recruiter call.
type Handoff struct {
	Phone        string
	City         string
	Specialty    string
	Years        *int
	Availability string
	ThreadID     int64
	Transcript   []models.Message
}

// mailFunc delivers one message and returns the provider status code and body.
type mailFunc func(ctx context.Context, m *mail.SGMailV3) (int, string, error)

// HandoffNotifier emails hand-offs to the recruiting inbox through SendGrid.
type HandoffNotifier struct {
	from, to *mail.Email
	send     mailFunc
	tail     int
}

// NewHandoffNotifier creates a notifier. It returns nil when any setting is missing,
// and a nil notifier ignores hand-offs.
func NewHandoffNotifier(apiKey, from, to string) *HandoffNotifier {
	if apiKey == "" || from == "" || to == "" {
		return nil
	}
	client := sendgrid.NewSendClient(apiKey)
	return &HandoffNotifier{
		from: mail.NewEmail("RecruitPipe", from),
		to:   mail.NewEmail("Recruiting", to),
		send: func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
			resp, err := client.SendWithContext(ctx, m)
			if err != nil {
				return 0, "", err
			}
			return resp.StatusCode, resp.Body, nil
		},
		tail: 8,
	}
}

// Notify sends the hand-off email.
func (n *HandoffNotifier) Notify(ctx context.Context, h Handoff) error {
	if n == nil {
		return nil
	}
	subject := fmt.Sprintf("Call candidate %s (%s, %s)", h.Phone, orDash(h.Specialty), orDash(h.City))
	body := handoffBody(h, n.tail)
	msg := mail.NewV3MailInit(n.from, subject, n.to, mail.NewContent("text/plain", body))
	status, respBody, err := n.send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send handoff email: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", status, respBody)
	}
	return nil
}

func handoffBody(h Handoff, tail int) string {
	var b strings.Builder
	years := "-"
	if h.Years != nil {
		years = fmt.Sprint(*h.Years)
	}
	fmt.Fprintf(&b, "Phone: %s\nCity: %s\nSpecialty: %s\nYears: %s\nAvailability: %s\nThread: %d\n\nTranscript:\n",
		h.Phone, orDash(h.City), orDash(h.Specialty), years, orDash(h.Availability), h.ThreadID)
	msgs := h.Transcript
	if tail > 0 && len(msgs) > tail {
		msgs = msgs[len(msgs)-tail:]
	}
	for _, m := range msgs {
		who := "candidate"
		if m.Direction == models.DirectionOut {
			who = "us"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.UTC().Format(time.RFC3339), who, m.Body)
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
