// Package events provides the typed event envelope and the fan-out
// broadcaster that pushes state deltas to connected observers: new activity,
// stats snapshots, payment transactions and security alerts.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/parkwatch/parkwatch-go/internal/reconcile"
)

// EventType identifies the payload carried by an Event.
type EventType string

const (
	EventActivity      EventType = "activity"
	EventStats         EventType = "stats"
	EventTransaction   EventType = "transaction"
	EventSecurityAlert EventType = "security_alert"
)

// ActivityType categorizes an activity entry.
type ActivityType string

const (
	ActivityEntry         ActivityType = "entry"
	ActivityPayment       ActivityType = "payment"
	ActivityExit          ActivityType = "exit"
	ActivitySecurityAlert ActivityType = "security_alert"
)

// ActivityStatus is the display severity of an activity entry.
type ActivityStatus string

const (
	StatusSuccess ActivityStatus = "success"
	StatusWarning ActivityStatus = "warning"
	StatusError   ActivityStatus = "error"
	StatusInfo    ActivityStatus = "info"
)

// Activity is one ephemeral feed entry. Activities live only in the bounded
// in-memory ring and are rebuilt from zero on restart.
type Activity struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      ActivityType   `json:"type"`
	Plate     string         `json:"plate"`
	Details   string         `json:"details"`
	Status    ActivityStatus `json:"status"`
}

// NewActivity creates an activity entry with a unique ID and timestamp.
func NewActivity(activityType ActivityType, plate, details string, status ActivityStatus) *Activity {
	return &Activity{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Type:      activityType,
		Plate:     plate,
		Details:   details,
		Status:    status,
	}
}

// Transaction is the payload broadcast when the payment transaction log grows.
type Transaction struct {
	LogLine string                 `json:"log_line"`
	Type    string                 `json:"type"`
	Stats   *reconcile.SystemStats `json:"stats,omitempty"`
}

// SecurityAlertEvent is the payload broadcast for a security alert.
type SecurityAlertEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Plate     string    `json:"plate"`
	Details   string    `json:"details"`
	Status    string    `json:"status"`
	AlertType string    `json:"alert_type"`
}

// Event is the envelope delivered to observers. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type        EventType              `json:"type"`
	Activity    *Activity              `json:"activity,omitempty"`
	Stats       *reconcile.SystemStats `json:"stats,omitempty"`
	Transaction *Transaction           `json:"transaction,omitempty"`
	Alert       *SecurityAlertEvent    `json:"alert,omitempty"`
}

// Payload returns the payload value for serialization, whatever the type.
func (e *Event) Payload() any {
	switch e.Type {
	case EventActivity:
		return e.Activity
	case EventStats:
		return e.Stats
	case EventTransaction:
		return e.Transaction
	case EventSecurityAlert:
		return e.Alert
	}
	return nil
}
