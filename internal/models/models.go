// Package models defines the core data structures for RecruitPipe.
//
// It includes contacts, threads, messages and the typed plan/outcome values that the
// conversation engine, store, transport and API share.
package models

import (
	"strings"
	"time"
)

// Direction tells whether a message was received from or sent to the contact.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ThreadStatus is the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadOpen   ThreadStatus = "open"
	ThreadClosed ThreadStatus = "closed"
)

// MessageStatus tracks provider delivery for a message.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusReceived  MessageStatus = "received"
)

// CloseType records why a thread was closed. The empty value means not closed.
type CloseType string

const (
	CloseNone   CloseType = ""
	CloseHuman  CloseType = "human"
	CloseFuture CloseType = "future"
	CloseDNC    CloseType = "dnc"
	CloseTroll  CloseType = "troll"
)

// Interest is a tri-state answer plus "not yet known".
type Interest string

const (
	InterestYes     Interest = "yes"
	InterestNo      Interest = "no"
	InterestUnsure  Interest = "unsure"
	InterestUnknown Interest = "unknown"
)

// ParseInterest maps free text to an Interest, defaulting to unknown.
func ParseInterest(s string) Interest {
	switch Interest(strings.ToLower(strings.TrimSpace(s))) {
	case InterestYes:
		return InterestYes
	case InterestNo:
		return InterestNo
	case InterestUnsure:
		return InterestUnsure
	}
	return InterestUnknown
}

// Intent is the semantic category of the latest inbound message.
type Intent string

const (
	IntentIdentityQuestion    Intent = "identity_question"
	IntentProjectQuestion     Intent = "project_question"
	IntentSalaryQuestion      Intent = "salary_question"
	IntentScheduleQuestion    Intent = "schedule_question"
	IntentLocationQuestion    Intent = "location_question"
	IntentDirectQuestion      Intent = "direct_question"
	IntentCallRequest         Intent = "call_request"
	IntentAccept              Intent = "accept"
	IntentDecline             Intent = "decline"
	IntentHesitant            Intent = "hesitant"
	IntentFutureProbeResponse Intent = "future_probe_response"
	IntentUnrelated           Intent = "unrelated"
	IntentOther               Intent = "other"
)

// AllIntents lists every intent the classifier may return.
var AllIntents = []Intent{
	IntentIdentityQuestion, IntentProjectQuestion, IntentSalaryQuestion, IntentScheduleQuestion,
	IntentLocationQuestion, IntentDirectQuestion, IntentCallRequest, IntentAccept, IntentDecline,
	IntentHesitant, IntentFutureProbeResponse, IntentUnrelated, IntentOther,
}

// ParseIntent maps a raw label to an Intent. Unknown labels become IntentOther.
func ParseIntent(s string) Intent {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, in := range AllIntents {
		if string(in) == s {
			return in
		}
	}
	return IntentOther
}

// IsQuestion reports whether the intent is a question about the job itself.
func (i Intent) IsQuestion() bool {
	switch i {
	case IntentProjectQuestion, IntentSalaryQuestion, IntentScheduleQuestion,
		IntentLocationQuestion, IntentDirectQuestion:
		return true
	}
	return false
}

// Slot names a piece of qualifying information.
type Slot string

const (
	SlotCity         Slot = "city"
	SlotSpecialty    Slot = "specialty"
	SlotYears        Slot = "years"
	SlotAvailability Slot = "availability"
)

// SlotOrder is the fixed order in which missing slots are asked.
var SlotOrder = []Slot{SlotCity, SlotSpecialty, SlotYears, SlotAvailability}

// Slots holds the qualification data known for a thread.
type Slots struct {
	City         string `json:"city,omitempty"`
	Specialty    string `json:"specialty,omitempty"`
	Years        *int   `json:"years,omitempty"`
	Availability string `json:"availability,omitempty"`
}

// Known reports whether a slot has a value.
func (s Slots) Known(slot Slot) bool {
	switch slot {
	case SlotCity:
		return s.City != ""
	case SlotSpecialty:
		return s.Specialty != ""
	case SlotYears:
		return s.Years != nil
	case SlotAvailability:
		return s.Availability != ""
	}
	return false
}

// Next returns the first missing slot in SlotOrder.
func (s Slots) Next() (Slot, bool) {
	for _, slot := range SlotOrder {
		if !s.Known(slot) {
			return slot, true
		}
	}
	return "", false
}

// Complete reports whether every slot is known.
func (s Slots) Complete() bool {
	_, missing := s.Next()
	return !missing
}

// Merge fills empty fields of s from o.
func (s Slots) Merge(o Slots) Slots {
	if s.City == "" {
		s.City = o.City
	}
	if s.Specialty == "" {
		s.Specialty = o.Specialty
	}
	if s.Years == nil && o.Years != nil {
		y := *o.Years
		s.Years = &y
	}
	if s.Availability == "" {
		s.Availability = o.Availability
	}
	return s
}

// Contact is a phone number the system talks to.
type Contact struct {
	Phone     string    `db:"phone" json:"phone"`
	DNC       bool      `db:"dnc" json:"dnc"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Thread is one conversation with a contact, bounded by open and closed.
type Thread struct {
	ID            int64        `db:"id" json:"id"`
	Phone         string       `db:"phone" json:"phone"`
	Status        ThreadStatus `db:"status" json:"status"`
	LastCloseType CloseType    `db:"last_close_type" json:"last_close_type,omitempty"`
	City          string       `db:"city" json:"city,omitempty"`
	Specialty     string       `db:"specialty" json:"specialty,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	ClosedAt      *time.Time   `db:"closed_at" json:"closed_at,omitempty"`
	LastUserAt    *time.Time   `db:"last_user_at" json:"last_user_at,omitempty"`
}

// Closed reports whether the thread reached its terminal state.
func (t Thread) Closed() bool {
	return t.Status == ThreadClosed
}

// Message is an immutable record in a thread.
type Message struct {
	ID         int64         `db:"id" json:"id"`
	ThreadID   int64         `db:"thread_id" json:"thread_id"`
	Direction  Direction     `db:"direction" json:"direction"`
	Body       string        `db:"body" json:"body"`
	Timestamp  time.Time     `db:"ts" json:"ts"`
	Status     MessageStatus `db:"status" json:"status,omitempty"`
	ProviderID string        `db:"provider_id" json:"provider_id,omitempty"`
	Reference  string        `db:"reference" json:"reference,omitempty"`
}

// Plan is the per-turn analysis of the latest inbound message. It is never stored.
type Plan struct {
	JobInterest       Interest `json:"job_interest"`
	FutureInterest    Interest `json:"future_interest"`
	Intent            Intent   `json:"intent"`
	Slots             Slots    `json:"slots"`
	AskedSalary       bool     `json:"asked_salary"`
	PhoneOnlyTopics   []string `json:"phone_only_topics,omitempty"`
	BusyUntil         string   `json:"busy_until,omitempty"`
	Hesitant          bool     `json:"hesitant"`
	AgeQuestion       bool     `json:"age_question"`
	AgeValue          *int     `json:"age_value,omitempty"`
	Trolling          bool     `json:"trolling"`
	HardStop          bool     `json:"hard_stop"`
	SpecialtyMismatch bool     `json:"specialty_mismatch,omitempty"`
}

// Outcome is the KPI summary of a thread.
type Outcome struct {
	ThreadID       int64     `db:"thread_id" json:"thread_id"`
	Interested     Interest  `db:"interested" json:"interested"`
	FutureInterest Interest  `db:"future_interest" json:"future_interest"`
	Years          *int      `db:"years" json:"years"`
	Availability   string    `db:"availability" json:"availability,omitempty"`
	CloseType      CloseType `db:"close_type" json:"close_type,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Inbound is a message received from a contact through any transport.
type Inbound struct {
	From       string    `json:"from"`
	Text       string    `json:"text"`
	ProviderID string    `json:"provider_id,omitempty"`
	Time       time.Time `json:"time"`
}

// Receipt is a delivery status update for an outbound message.
type Receipt struct {
	ProviderID string        `json:"provider_id"`
	Status     MessageStatus `json:"status"`
	Time       int64         `json:"time"`
}
