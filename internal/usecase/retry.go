package usecase

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/image-check/internal/logging"
)

// Operation names reported in errors about the session state store.
const (
	opSessionLoad = "session.load"
	opSessionSave = "session.save"
)

// storeRetry bounds how often a session state read or write is repeated
// after the store reported a connection-level failure.
type storeRetry struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func defaultStoreRetry() storeRetry {
	return storeRetry{attempts: 3, initialBackoff: 50 * time.Millisecond, maxBackoff: time.Second}
}

// do runs fn until it succeeds, fails with an error the store will not
// recover from, or the attempts run out. Failures come back as an
// *logging.OperationError naming op and the session.
func (r storeRetry) do(ctx context.Context, logger *zap.Logger, op, sessionID string, fn func() error) error {
	wait := r.initialBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("session state reachable again", zap.String("store_op", op), zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt >= r.attempts || !retryableStoreError(err) {
			break
		}

		logger.Warn("session state unavailable, retrying",
			zap.String("store_op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return logging.NewOperationError(op, sessionID, ctx.Err())
		case <-timer.C:
		}
		wait = min(wait*2, r.maxBackoff)
	}
	return logging.NewOperationError(op, sessionID, err)
}

// retryableStoreError reports whether err looks like a dropped or slow
// connection to the session store rather than a rejected request.
func retryableStoreError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
