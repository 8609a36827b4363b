package domain

import "time"

// EventKind classifies a parsed inbound platform event.
type EventKind string

const (
	EventText    EventKind = "text"
	EventNonText EventKind = "non_text"
	EventStatus  EventKind = "status" // delivery/read receipts, no message
)

// InboundEvent is the validated, typed form of a platform webhook payload.
type InboundEvent struct {
	Kind      EventKind
	Channel   string
	SenderID  string
	MessageID string
	Text      string
	Timestamp time.Time
}

// AnswerStatus is the outcome reported back to the webhook glue.
type AnswerStatus string

const (
	AnswerOK      AnswerStatus = "ok"
	AnswerIgnored AnswerStatus = "ignored"
	AnswerError   AnswerStatus = "error"
)

// AnswerResult is returned by the inbound handler for every event.
// Detail is a short machine-readable string.
type AnswerResult struct {
	Status AnswerStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}
