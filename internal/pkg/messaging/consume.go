package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one delivery. With auto ack a nil return acknowledges
// the message; an error leaves it for redelivery after its ack deadline.
type Handler func(ctx context.Context, msg ReceivedMessage) error

// Consume pulls from subscriptionID and dispatches to handler until ctx is
// done. It returns nil on cancellation and an error only when the
// subscription is gone or the broker is closed.
func Consume(ctx context.Context, p Puller, subscriptionID string, handler Handler, opts ...ConsumeOption) error {
	co := newConsumeOptions(opts...)
	sem := make(chan struct{}, co.concurrency)

	var wg sync.WaitGroup
	defer wg.Wait()

	for ctx.Err() == nil {
		msgs, err := p.Pull(ctx, subscriptionID, co.maxInFlight, false)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrClosed) {
				return err
			}

			slog.WarnContext(ctx, "consume pull failed", "subscription", subscriptionID, "error", err)
			sleep(ctx, co.errorBackoff)
			continue
		}

		for _, m := range msgs {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				dispatch(ctx, p, subscriptionID, handler, co, m)
			}()
		}
	}

	return nil
}

func dispatch(ctx context.Context, p Puller, subscriptionID string, handler Handler, co consumeOptions, m ReceivedMessage) {
	co.stats.Received.Inc()

	err := callHandlerWithRecover(ctx, subscriptionID, func() error { return handler(ctx, m) })
	if err != nil {
		co.stats.Failed.Inc()
		slog.WarnContext(ctx, "message handler failed", "subscription", subscriptionID,
			"message_id", m.MessageID, "attempt", m.DeliveryAttempt, "error", err)
		return
	}
	if !co.autoAck {
		return
	}

	if err := p.Acknowledge(context.WithoutCancel(ctx), subscriptionID, []string{m.AckID}); err != nil {
		slog.WarnContext(ctx, "message ack failed", "subscription", subscriptionID, "message_id", m.MessageID, "error", err)
		return
	}
	co.stats.Acked.Inc()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
