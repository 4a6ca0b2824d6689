// Package domain holds the typed identifiers shared across the verification
// core. IDs are distinct UUID types so the compiler rejects cross-entity
// mixups (passing a SessionID where a UserID is expected).
package domain

import (
	"github.com/google/uuid"

	dErrors "proofgate/pkg/domain-errors"
)

// UserID identifies the owner of verification sessions and composite scores.
type UserID uuid.UUID

// SessionID identifies one verification attempt. It is internal only and is
// never exposed to the external verifier; the verifier sees the session's
// external token instead.
type SessionID uuid.UUID

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewSessionID mints a fresh session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// ParseUserID validates and converts an external string into a UserID.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseUserID(raw string) (UserID, error) {
	parsed, err := parseUUID(raw, "user id")
	if err != nil {
		return UserID{}, err
	}
	return UserID(parsed), nil
}

// ParseSessionID validates and converts an external string into a SessionID.
func ParseSessionID(raw string) (SessionID, error) {
	parsed, err := parseUUID(raw, "session id")
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(parsed), nil
}

func parseUUID(raw, what string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be the nil UUID")
	}
	return parsed, nil
}
