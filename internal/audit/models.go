package audit

import "time"

// Event is an immutable, append-only audit log record of the confirmation pipeline.
//
// Invariants:
//   - Events are never updated or deleted.
//   - request_id is required except for unknown_call, which carries call_id instead.
//   - actor and ip capture are best-effort; do not block call flows on audit failures.
//
// Storage (Postgres, see GormRepo):
//   - Table audit_events, INSERT-only.
//   - Indexed by request_id for per-request trails.
type Event struct {
	ID string `json:"id" gorm:"primaryKey;type:text"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" gorm:"type:text;not null;index"`

	RequestID string `json:"request_id,omitempty" gorm:"type:text;index"`
	CallID    string `json:"call_id,omitempty" gorm:"type:text"`

	Outcome    string `json:"outcome,omitempty" gorm:"type:text"`
	Status     string `json:"status,omitempty" gorm:"type:text"`
	RetryCount int    `json:"retry_count" gorm:"not null;default:0"`

	// ActorUserID is the operator causing the event (manual triggers, API ingestion).
	ActorUserID string `json:"actor_user_id,omitempty" gorm:"type:text"`
	ActorRole   string `json:"actor_role,omitempty" gorm:"type:text"`
	IPAddress   string `json:"ip_address,omitempty" gorm:"type:text"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
}

func (Event) TableName() string { return "audit_events" }

type EventType string

const (
	EventTypeCallPlaced        EventType = "call_placed"
	EventTypePlacementFailed   EventType = "placement_failed"
	EventTypeCallResolved      EventType = "call_resolved"
	EventTypeCallExpired       EventType = "call_expired"
	EventTypeUnknownCall       EventType = "unknown_call"
	EventTypeAttemptsExhausted EventType = "attempts_exhausted"
	EventTypeManualRun         EventType = "manual_run"
	EventTypeRequestCreated    EventType = "request_created"
)
