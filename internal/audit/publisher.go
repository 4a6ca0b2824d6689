package audit

import (
	"context"
	"time"
)

// Publisher is an Appender that stamps events before forwarding them to the
// underlying sink. Events carrying an explicit timestamp keep it; everything
// enqueued without one is stamped at publish time.
type Publisher struct {
	sink Appender
}

func NewPublisher(sink Appender) *Publisher {
	return &Publisher{sink: sink}
}

func (p *Publisher) Append(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.sink.Append(ctx, event)
}
