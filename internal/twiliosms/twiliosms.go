// Package twiliosms wraps the Twilio REST API for plain SMS.
package twiliosms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// Sender sends SMS and lists received ones.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
	ListInbound(ctx context.Context, since time.Time) ([]models.Inbound, error)
}

// Opts holds configuration options for the Twilio SMS client.
type Opts struct {
	AccountSID     string
	AuthToken      string
	From           string
	StatusCallback string
	PageSize       int
}

// Option defines a configuration option for the Twilio SMS client.
type Option func(*Opts)

// WithAccountSID sets the account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending number in E.164 form.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithStatusCallback sets the URL Twilio posts delivery updates to.
func WithStatusCallback(url string) Option {
	return func(o *Opts) { o.StatusCallback = url }
}

// messagesAPI is the part of the Twilio v2010 API the client uses.
type messagesAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	ListMessage(params *twilioApi.ListMessageParams) ([]twilioApi.ApiV2010Message, error)
}

// Client sends SMS through Twilio.
type Client struct {
	api            messagesAPI
	from           string
	statusCallback string
	pageSize       int
}

// NewClient creates a Twilio SMS client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("twiliosms.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		api:            rest.Api,
		from:           cfg.From,
		statusCallback: cfg.StatusCallback,
		pageSize:       cfg.PageSize,
	}, nil
}

// Send sends body to the E.164 number to and returns the Twilio message SID.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)
	if c.statusCallback != "" {
		params.SetStatusCallback(c.statusCallback)
	}

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.Send: twilio create message failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Client.Send: message sent", "to", to, "sid", sid)
	return sid, nil
}

// ListInbound returns messages received on the sending number after since, oldest first.
func (c *Client) ListInbound(ctx context.Context, since time.Time) ([]models.Inbound, error) {
	params := &twilioApi.ListMessageParams{}
	params.SetTo(c.from)
	params.SetDateSentAfter(since.UTC())
	params.SetPageSize(c.pageSize)
	params.SetLimit(c.pageSize)

	msgs, err := c.api.ListMessage(params)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]models.Inbound, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if deref(m.Direction) != "inbound" {
			continue
		}
		in := models.Inbound{From: deref(m.From), Text: deref(m.Body), ProviderID: deref(m.Sid)}
		if ts, err := time.Parse(time.RFC1123Z, deref(m.DateCreated)); err == nil {
			in.Time = ts
		}
		if in.From == "" || in.ProviderID == "" {
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// MockClient records sends in memory. It is safe for concurrent use.
type MockClient struct {
	mu      sync.Mutex
	Sent    []SentMessage
	Inbound []models.Inbound
	Err     error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
	SID  string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Send implements Sender.
func (m *MockClient) Send(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	sid := fmt.Sprintf("SMmock%04d", len(m.Sent)+1)
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body, SID: sid})
	return sid, nil
}

// ListInbound implements Sender. Returned messages are removed from the mock.
func (m *MockClient) ListInbound(_ context.Context, since time.Time) ([]models.Inbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out, keep []models.Inbound
	for _, in := range m.Inbound {
		if in.Time.After(since) {
			out = append(out, in)
		} else {
			keep = append(keep, in)
		}
	}
	m.Inbound = keep
	return out, nil
}

// Messages returns a copy of the recorded sends.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

var (
	_ Sender = (*Client)(nil)
	_ Sender = (*MockClient)(nil)
)
