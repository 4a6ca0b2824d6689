package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors without the
// storage layer knowing about error codes or HTTP.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: a conditional write lost (active session already present,
//     duplicate external token, threshold already marked crossed)
//   - ErrExpired: session deadline has passed
//   - ErrInvalidState: session is terminal and cannot transition
//   - ErrUnavailable: backing store temporarily unreachable; safe to retry
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
