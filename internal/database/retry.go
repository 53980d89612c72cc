package database

import (
	"context"
	"errors"
	"time"

	"reward-ledger-go/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const readRetries = 3

// isTransient reports whether err is SQLite lock contention that a retry can clear
func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func newReadBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(b, readRetries), ctx)
}

// withReadRetry runs a read-only query, retrying lock contention a bounded number of
// times. Domain errors pass through untouched; storage errors come back as ErrUnavailable.
func withReadRetry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var result T
	attempt := func() error {
		var err error
		result, err = fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		zap.L().Debug("Retrying read after lock contention",
			zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(attempt, newReadBackoff(ctx), notify); err != nil {
		var zero T
		if store.IsRejection(err) || errors.Is(err, store.ErrUnavailable) {
			return zero, err
		}
		return zero, unavailable(op, err)
	}
	return result, nil
}
