// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the outcome of a send attempt.
type EventType string

const (
	EventMailSent   EventType = "mail.sent"
	EventMailFailed EventType = "mail.failed"
)

// Event describes one send attempt. Recipient addresses are not recorded,
// only counts.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Transport   string    `json:"transport"`
	MessageID   string    `json:"messageId,omitempty"`
	From        string    `json:"from"`
	Subject     string    `json:"subject"`
	Recipients  int       `json:"recipients"`
	Delivered   int       `json:"delivered"`
	Attachments int       `json:"attachments,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// NewEvent stamps a new event with an ID and the current time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
