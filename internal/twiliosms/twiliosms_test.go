package twiliosms

import (
	"context"
	"errors"
	"testing"
	"time"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

type fakeAPI struct {
	created *twilioApi.CreateMessageParams
	listed  *twilioApi.ListMessageParams
	list    []twilioApi.ApiV2010Message
	err     error
}

func (f *fakeAPI) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.created = p
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func (f *fakeAPI) ListMessage(p *twilioApi.ListMessageParams) ([]twilioApi.ApiV2010Message, error) {
	f.listed = p
	return f.list, f.err
}

func str(s string) *string { return &s }

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(WithAccountSID("AC1")); err == nil {
		t.Fatal("expected error without auth token")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Fatal("expected error without from number")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+37060000000"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.pageSize != 50 {
		t.Errorf("pageSize = %d, want 50", c.pageSize)
	}
}

func TestClientSend(t *testing.T) {
	api := &fakeAPI{}
	c := &Client{api: api, from: "+37060000000", statusCallback: "https://example.com/webhooks/sms/status"}

	sid, err := c.Send(context.Background(), "+37061111111", "Sveiki!")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sid != "SM123" {
		t.Errorf("sid = %q", sid)
	}
	if *api.created.To != "+37061111111" || *api.created.From != "+37060000000" || *api.created.Body != "Sveiki!" {
		t.Errorf("unexpected params: to=%s from=%s body=%s", *api.created.To, *api.created.From, *api.created.Body)
	}
	if api.created.StatusCallback == nil || *api.created.StatusCallback != "https://example.com/webhooks/sms/status" {
		t.Errorf("status callback not set")
	}

	api.err = errors.New("twilio down")
	if _, err := c.Send(context.Background(), "+37061111111", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientListInbound(t *testing.T) {
	api := &fakeAPI{list: []twilioApi.ApiV2010Message{
		{Sid: str("SM3"), From: str("+37061111111"), Body: str("5 metai"), Direction: str("inbound"), DateCreated: str("Mon, 02 Mar 2026 10:02:00 +0000")},
		{Sid: str("SM2"), From: str("+37060000000"), Body: str("Kiek metų?"), Direction: str("outbound-api")},
		{Sid: str("SM1"), From: str("+37061111111"), Body: str("taip"), Direction: str("inbound"), DateCreated: str("Mon, 02 Mar 2026 10:00:00 +0000")},
	}}
	c := &Client{api: api, from: "+37060000000", pageSize: 20}

	since := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	got, err := c.ListInbound(context.Background(), since)
	if err != nil {
		t.Fatalf("ListInbound: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].ProviderID != "SM1" || got[1].ProviderID != "SM3" {
		t.Errorf("messages not oldest first: %s, %s", got[0].ProviderID, got[1].ProviderID)
	}
	if want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC); !got[0].Time.Equal(want) {
		t.Errorf("time = %v, want %v", got[0].Time, want)
	}
	if *api.listed.To != "+37060000000" {
		t.Errorf("list filtered on %s", *api.listed.To)
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	sid, err := m.Send(context.Background(), "+37061111111", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "SMmock0001" {
		t.Errorf("sid = %q", sid)
	}
	if msgs := m.Messages(); len(msgs) != 1 || msgs[0].Body != "Hello Test" {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	now := time.Now()
	m.Inbound = []models.Inbound{
		{From: "+37061111111", Text: "old", ProviderID: "SM1", Time: now.Add(-time.Hour)},
		{From: "+37061111111", Text: "new", ProviderID: "SM2", Time: now},
	}
	got, _ := m.ListInbound(context.Background(), now.Add(-time.Minute))
	if len(got) != 1 || got[0].Text != "new" {
		t.Fatalf("ListInbound = %+v", got)
	}
	if len(m.Inbound) != 1 {
		t.Errorf("returned messages should be removed, %d left", len(m.Inbound))
	}
}
