// Package messaging moves SMS between contacts and the conversation engine: outbound
// sends, inbound webhooks and polling, delivery receipts and the worker pool that feeds
// inbound messages to the turn handler.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

const (
	// DefaultChannelBufferSize defines the buffer size of the inbound and receipt channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emitter waits on a full channel.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service is a pluggable SMS transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the E.164 form of a phone number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendSMS sends body to to and returns the provider message id. reference is an
	// opaque caller id recorded with the send.
	SendSMS(ctx context.Context, to, body, reference string) (string, error)

	// Start begins background processing such as inbound polling.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Inbound returns the channel of received messages.
	Inbound() <-chan models.Inbound

	// Receipts returns the channel of delivery status updates.
	Receipts() <-chan models.Receipt
}

var nonDigits = regexp.MustCompile(`\D`)

// CanonicalPhone normalizes a phone number to "+" followed by digits. International
// "00" prefixes are dropped and Lithuanian national mobile numbers (86xxxxxxx) gain the
// 370 country code.
func CanonicalPhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", raw)
	}
	digits = strings.TrimPrefix(digits, "00")
	if len(digits) == 9 && strings.HasPrefix(digits, "86") {
		digits = "370" + digits[1:]
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", digits)
	}
	if len(digits) > 15 {
		return "", fmt.Errorf("invalid phone number: %q is too long", digits)
	}
	return "+" + digits, nil
}
