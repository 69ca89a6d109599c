package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrBusy reports that another holder owns the key.
	ErrBusy = errors.New("source is locked by another ingestion")
	// ErrLeaseLost reports that a lease expired or was taken over before it
	// could be extended.
	ErrLeaseLost = errors.New("lock lease lost")
)

// Lease is an exclusive, expiring hold on one key.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker grants leases. ok is false when the key is already held.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

func VideoKey(videoID string) string { return "video:" + videoID }

func ChannelKey(channelID string) string { return "channel:" + channelID }

// Hold runs fn while extending lease back to ttl every ttl/3, then releases
// it. onRenew, when set, runs after each successful extension. Losing the
// lease cancels the context passed to fn.
func Hold(ctx context.Context, lease Lease, ttl time.Duration, onRenew func(), fn func(context.Context) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go renew(ctx, cancel, lease, ttl, onRenew, done, stopped)

	err := fn(ctx)
	close(done)
	<-stopped

	if relErr := lease.Release(context.Background()); relErr != nil {
		slog.WarnContext(ctx, "failed to release lock", "error", relErr)
	}
	if err != nil && errors.Is(context.Cause(ctx), ErrLeaseLost) {
		return fmt.Errorf("%w: %v", ErrLeaseLost, err)
	}
	return err
}

func renew(ctx context.Context, cancel context.CancelCauseFunc, lease Lease, ttl time.Duration, onRenew func(), done, stopped chan struct{}) {
	defer close(stopped)

	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lease.Extend(ctx, ttl)
			if errors.Is(err, ErrLeaseLost) {
				slog.WarnContext(ctx, "lock lease lost, stopping work")
				cancel(ErrLeaseLost)
				return
			}
			if err != nil {
				slog.WarnContext(ctx, "failed to extend lock lease", "error", err)
				continue
			}
			if onRenew != nil {
				onRenew()
			}
		}
	}
}
