package models

import (
	"time"

	id "proofgate/pkg/domain"
)

// MaxCompositeScore bounds the aggregate across all channels. Raw channel
// scores and the composite both live in [0, 255].
const MaxCompositeScore = 255

// CompositeScoreRecord is the derived per-user aggregate. It is recomputed
// from Completed sessions and never independently mutated.
//
// ThresholdCrossedAt is set exactly once, the first time the composite meets
// the mint threshold, and never cleared afterwards. The field doubles as the
// idempotency guard for the downstream eligibility notification: whichever
// caller wins the set-if-null race performs the notification.
type CompositeScoreRecord struct {
	UserID               id.UserID
	Composite            int
	Passed               bool
	ContributingSessions []id.SessionID
	ThresholdCrossedAt   *time.Time
	UpdatedAt            time.Time
}

// Crossed reports whether the threshold-crossing event already fired.
func (r *CompositeScoreRecord) Crossed() bool {
	return r.ThresholdCrossedAt != nil
}

// ClampComposite bounds a summed score into [0, MaxCompositeScore].
func ClampComposite(sum int) int {
	if sum < 0 {
		return 0
	}
	if sum > MaxCompositeScore {
		return MaxCompositeScore
	}
	return sum
}

// ClampRaw bounds a verifier-reported raw score into a channel's declared
// range before it contributes to aggregation.
func ClampRaw(raw, min, max int) int {
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}
