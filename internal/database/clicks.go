package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"go.uber.org/zap"
)

// RecordClick stores a freshly issued ad-watch token. Records are never deleted.
func (s *Service) RecordClick(ctx context.Context, userId, token string, issuedAt time.Time) (*models.ClickRecord, error) {
	click := &models.ClickRecord{
		UserId:   userId,
		Token:    token,
		IssuedAt: issuedAt.UTC(),
		State:    models.TokenIssued,
	}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		exists, err := accountExists(ctx, tx, userId)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", store.ErrUnknownUser, userId)
		}

		if err := tx.QueryRowContext(ctx, queryInsertClick, userId, token, toUnix(issuedAt)).Scan(&click.Id); err != nil {
			return unavailable("insert click", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("Click recorded", zap.String("user_id", userId), zap.String("token", token))
	return click, nil
}

// LookupClick returns the most recent record for (userId, token), or nil when none exists
func (s *Service) LookupClick(ctx context.Context, userId, token string) (*models.ClickRecord, error) {
	return withReadRetry(ctx, "lookup click", func() (*models.ClickRecord, error) {
		return lookupClick(ctx, s.db, userId, token)
	})
}

func lookupClick(ctx context.Context, q rowQueryer, userId, token string) (*models.ClickRecord, error) {
	var click models.ClickRecord
	var state string
	var issuedAt int64
	var consumedAt sql.NullInt64

	err := q.QueryRowContext(ctx, queryLookupClick, userId, token).
		Scan(&click.Id, &click.UserId, &click.Token, &issuedAt, &state, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("lookup click", err)
	}

	click.State = models.TokenState(state)
	click.IssuedAt = fromUnix(issuedAt)
	click.ConsumedAt = fromNullUnix(consumedAt)
	return &click, nil
}
