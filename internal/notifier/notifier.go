// Package notifier delivers one-time eligibility notifications to the
// ledger service when a user's composite score first crosses the mint
// threshold. Delivery failures never roll back the session transition that
// triggered them; the async worker retries instead.
package notifier

import (
	"context"
	"time"

	id "proofgate/pkg/domain"
)

// Snapshot is the composite state captured at the moment of crossing.
type Snapshot struct {
	Composite int       `json:"composite"`
	Passed    bool      `json:"passed"`
	CrossedAt time.Time `json:"crossed_at"`
}

// Notifier announces that a user became eligible for credential minting.
type Notifier interface {
	Notify(ctx context.Context, userID id.UserID, snapshot Snapshot) error
}
