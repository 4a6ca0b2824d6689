package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	id "proofgate/pkg/domain"
	"proofgate/pkg/platform/circuit"
)

// AsyncNotifier decouples callback processing from ledger delivery. Notify
// enqueues and returns immediately; the worker delivers with exponential
// backoff. A full queue drops the notification and reports it through the
// returned error of Notify, so the caller can audit the loss; the session
// transition has already committed by then and is never rolled back.
type AsyncNotifier struct {
	delegate Notifier
	breaker  *circuit.Breaker
	queue    chan pending
	logger   *slog.Logger
}

type pending struct {
	userID   id.UserID
	snapshot Snapshot
}

// ErrQueueFull is returned when a notification cannot be enqueued.
type queueFullError struct{}

func (queueFullError) Error() string { return "notification queue full" }

var ErrQueueFull error = queueFullError{}

func NewAsyncNotifier(delegate Notifier, queueSize int, logger *slog.Logger) *AsyncNotifier {
	return &AsyncNotifier{
		delegate: delegate,
		breaker:  circuit.New("ledger"),
		queue:    make(chan pending, queueSize),
		logger:   logger,
	}
}

// Notify enqueues without blocking the caller.
func (n *AsyncNotifier) Notify(_ context.Context, userID id.UserID, snapshot Snapshot) error {
	select {
	case n.queue <- pending{userID: userID, snapshot: snapshot}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued notifications until the context is cancelled.
func (n *AsyncNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-n.queue:
			n.deliver(ctx, item)
		}
	}
}

func (n *AsyncNotifier) deliver(ctx context.Context, item pending) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 5 * time.Minute

	operation := func() error {
		if n.breaker.IsOpen() {
			// Probe the primary path anyway; successes are what close it.
			n.logger.Debug("ledger circuit open, probing", "user_id", item.userID)
		}
		err := n.delegate.Notify(ctx, item.userID, item.snapshot)
		if err != nil {
			if _, change := n.breaker.RecordFailure(); change.Opened {
				n.logger.Warn("ledger circuit opened", "user_id", item.userID)
			}
			return err
		}
		if _, change := n.breaker.RecordSuccess(); change.Closed {
			n.logger.Info("ledger circuit closed")
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		n.logger.Error("eligibility notification failed after retries",
			"user_id", item.userID,
			"composite", item.snapshot.Composite,
			"error", err,
		)
		return
	}
	n.logger.Info("eligibility notification delivered",
		"user_id", item.userID,
		"composite", item.snapshot.Composite,
	)
}
