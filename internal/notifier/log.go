package notifier

import (
	"context"
	"log/slog"

	id "proofgate/pkg/domain"
)

// LogNotifier records eligibility events in the log only. Used when no
// ledger endpoint is configured (development and tests).
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, userID id.UserID, snapshot Snapshot) error {
	n.logger.Info("user crossed mint threshold",
		"user_id", userID,
		"composite", snapshot.Composite,
		"crossed_at", snapshot.CrossedAt,
	)
	return nil
}
