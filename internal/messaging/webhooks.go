package messaging

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// emptyTwiML acknowledges a webhook without sending a reply through Twilio.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Webhook paths served by SMSService.
const (
	InboundWebhookPath = "/webhooks/sms"
	StatusWebhookPath  = "/webhooks/sms/status"
)

// verify checks the Twilio request signature when validation is configured.
func (s *SMSService) verify(r *http.Request, path string) bool {
	if s.opts.AuthToken == "" || s.opts.WebhookBase == "" {
		return true
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	url := strings.TrimRight(s.opts.WebhookBase, "/") + path
	v := twilioclient.NewRequestValidator(s.opts.AuthToken)
	return v.Validate(url, params, r.Header.Get("X-Twilio-Signature"))
}

// InboundWebhookHandler accepts Twilio's inbound SMS form (From, Body, MessageSid) and
// queues the message. Replies go out asynchronously, so the response is empty TwiML.
func (s *SMSService) InboundWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("SMSService.InboundWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !s.verify(r, InboundWebhookPath) {
		slog.Warn("SMSService.InboundWebhookHandler: invalid signature")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	sid := r.PostFormValue("MessageSid")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("SMSService.InboundWebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	slog.Debug("SMSService.InboundWebhookHandler: inbound SMS", "from", from, "sid", sid)

	s.EmitInbound(models.Inbound{From: from, Text: body, ProviderID: sid, Time: time.Now()})
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// StatusWebhookHandler accepts Twilio status callbacks (MessageSid, MessageStatus).
func (s *SMSService) StatusWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !s.verify(r, StatusWebhookPath) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	sid := r.PostFormValue("MessageSid")
	status, ok := deliveryStatus(r.PostFormValue("MessageStatus"))
	if sid == "" {
		http.Error(w, "Missing MessageSid", http.StatusBadRequest)
		return
	}
	if ok {
		s.EmitReceipt(models.Receipt{ProviderID: sid, Status: status, Time: time.Now().Unix()})
	}
	w.WriteHeader(http.StatusNoContent)
}

// deliveryStatus maps a Twilio message status to a MessageStatus. Intermediate states
// such as "accepted" and "sending" are ignored.
func deliveryStatus(twilioStatus string) (models.MessageStatus, bool) {
	switch strings.ToLower(twilioStatus) {
	case "queued":
		return models.MessageStatusQueued, true
	case "sent":
		return models.MessageStatusSent, true
	case "delivered", "read":
		return models.MessageStatusDelivered, true
	case "failed", "undelivered", "canceled":
		return models.MessageStatusFailed, true
	}
	return "", false
}
