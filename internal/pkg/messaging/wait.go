package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

var errNoMessages = errors.New("messaging: no messages available")

const (
	pollBase = 5 * time.Millisecond
	pollCap  = 250 * time.Millisecond
)

// pollPull calls pull until it returns messages, wait elapses or ctx is
// done. Running out of time or being cancelled yields no messages and no
// error.
func pollPull(ctx context.Context, wait time.Duration, pull func(ctx context.Context) ([]ReceivedMessage, error)) ([]ReceivedMessage, error) {
	b := retry.NewExponential(pollBase)
	b = retry.WithCappedDuration(pollCap, b)
	b = retry.WithMaxDuration(max(wait, 0), b)

	var out []ReceivedMessage
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		msgs, err := pull(ctx)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return retry.RetryableError(errNoMessages)
		}
		out = msgs
		return nil
	})

	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, errNoMessages), ctx.Err() != nil:
		return nil, nil
	default:
		return nil, err
	}
}
