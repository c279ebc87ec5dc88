// Package mail defines the Kafka outbox events used to hand outgoing email to the relay worker.
package mail

import (
	"time"
)

// EventTypeMailRequested marks a request to deliver one email
const EventTypeMailRequested = "mail.requested"

// SchemaVersion is the current event contract version
const SchemaVersion = "v1"

// RequestedEvent asks the relay to deliver one email.
type RequestedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Mail Envelope `json:"mail"`
}

// Envelope is the message to deliver
type Envelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	// HTML body
	Body string `json:"body"`
}
