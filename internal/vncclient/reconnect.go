package vncclient

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/breeze-rmm/rfbkit/internal/transport"
)

// ReconnectConfig controls the backoff schedule ConnectWithReconnect uses
// between failed dial/handshake attempts.
type ReconnectConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64

	// MaxAttempts caps the number of dial attempts. Zero means retry until
	// ctx is done.
	MaxAttempts int
}

// DefaultReconnectConfig returns the backoff schedule used when a caller
// doesn't need to tune it: 1s initial delay, doubling up to a 60s cap, with
// up to 30% jitter applied in either direction.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:  1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// DialFunc opens a fresh transport to the target endpoint. Implementations
// typically close over a host:port or URL and call transport.DialTCP or
// transport.DialWebSocket.
type DialFunc func(ctx context.Context) (transport.Transport, error)

// ConnectWithReconnect dials and performs the RFB handshake, retrying with
// exponential backoff and jitter when either step fails. This is the path a
// long-lived client uses when the proxy endpoint it talks to may move or
// restart out from under it; a one-shot caller that wants to fail fast
// should use Connect directly instead.
func ConnectWithReconnect(ctx context.Context, dial DialFunc, cfg ReconnectConfig) (*Client, error) {
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = DefaultReconnectConfig().InitialDelay
	}

	var lastErr error
	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t, err := dial(ctx)
		if err == nil {
			c, err := Connect(t)
			if err == nil {
				return c, nil
			}
			lastErr = err
		} else {
			lastErr = err
		}

		log.Warn("reconnect attempt failed", "attempt", attempt, "error", lastErr)

		wait := applyJitter(delay, cfg.JitterFrac)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("vncclient: reconnect: giving up after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// applyJitter scales d by a random factor in [1-frac, 1+frac], never
// returning a negative duration.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	out := float64(d) + jitter
	if out < 0 {
		return 0
	}
	return time.Duration(out)
}
