package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Backoff configures ConnectWithBackoff. Delays grow by Multiplier from
// Initial and never exceed Max.
type Backoff struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns five attempts starting at 500ms, capped at 10s.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts:   5,
		Initial:    500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before retry number i (0 is the first retry).
func (b Backoff) Delay(i int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial)
	for ; i > 0; i-- {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// ChannelFactory creates the fresh Channel used for one connect attempt.
type ChannelFactory func() (*Channel, error)

// ConnectWithBackoff dials host:port with a new key pair per attempt. See
// Backoff.Connect.
func ConnectWithBackoff(ctx context.Context, cfg Config, host string, port int, b Backoff) (*Channel, error) {
	return b.Connect(ctx, func() (*Channel, error) { return NewChannel(cfg) }, host, port)
}

// Connect dials host:port until a handshake succeeds, ctx ends, or the
// attempts run out. Each attempt uses a Channel from newChannel since Closed
// is terminal. An authentication failure is not retried.
func (b Backoff) Connect(ctx context.Context, newChannel ChannelFactory, host string, port int) (*Channel, error) {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := b.Delay(i - 1)
			logrus.WithFields(logrus.Fields{
				"function": "Backoff.Connect",
				"attempt":  i + 1,
				"delay":    delay.String(),
				"error":    lastErr.Error(),
			}).Info("Retrying connect")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		ch, err := newChannel()
		if err != nil {
			return nil, err
		}
		if err = ch.Connect(ctx, host, port); err == nil {
			return ch, nil
		}
		lastErr = err
		if errors.Is(err, ErrAuthentication) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
