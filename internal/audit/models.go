package audit

import (
	"time"

	id "proofgate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance,
	// such as a user becoming eligible for a credential.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring,
	// such as callback signature failures and replay conflicts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lifecycle events useful for
	// debugging and operational visibility.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	SessionID id.SessionID
	Channel   string
	Action    string
	Reason    string
	RequestID string
	// Score fields are only set for callback and threshold events.
	RawScore  int
	Composite int
}

type AuditEvent string

const (
	// Session lifecycle
	EventSessionStarted    AuditEvent = "session_started"
	EventSessionInProgress AuditEvent = "session_in_progress"
	EventSessionCompleted  AuditEvent = "session_completed"
	EventSessionFailed     AuditEvent = "session_failed"
	EventSessionExpired    AuditEvent = "session_expired"
	EventSessionRetried    AuditEvent = "session_retried"

	// Callback handling
	EventCallbackRejected AuditEvent = "callback_rejected"
	EventCallbackReplayed AuditEvent = "callback_replayed"
	EventReplayConflict   AuditEvent = "replay_conflict"

	// Scoring
	EventThresholdCrossed      AuditEvent = "threshold_crossed"
	EventEligibilityNotified   AuditEvent = "eligibility_notified"
	EventEligibilityNotifyFail AuditEvent = "eligibility_notify_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventSessionStarted:    CategoryOperations,
	EventSessionInProgress: CategoryOperations,
	EventSessionCompleted:  CategoryOperations,
	EventSessionFailed:     CategoryOperations,
	EventSessionExpired:    CategoryOperations,
	EventSessionRetried:    CategoryOperations,

	EventCallbackRejected: CategorySecurity,
	EventCallbackReplayed: CategorySecurity,
	EventReplayConflict:   CategorySecurity,

	EventThresholdCrossed:      CategoryCompliance,
	EventEligibilityNotified:   CategoryCompliance,
	EventEligibilityNotifyFail: CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
