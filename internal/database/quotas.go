package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"
)

// canWatchMore applies the lazy daily reset: a stale reset date means nothing was watched today
func canWatchMore(account *models.Account, today string, limit int) bool {
	if account.LastQuotaResetDate != today {
		return limit > 0
	}
	return account.AdsToday < limit
}

func (s *Service) CanWatchMore(ctx context.Context, userId, today string, limit int) (bool, error) {
	account, err := s.GetAccount(ctx, userId)
	if err != nil {
		return false, err
	}
	return canWatchMore(account, today, limit), nil
}

// RecordAdWatched bumps today's counter, resetting it first when the stored date is stale.
func (s *Service) RecordAdWatched(ctx context.Context, userId, today string) (int, error) {
	var adsToday int
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		adsToday, err = recordAdWatched(ctx, tx, userId, today, time.Now())
		return err
	})
	return adsToday, err
}

func recordAdWatched(ctx context.Context, tx *sql.Tx, userId, today string, now time.Time) (int, error) {
	var adsToday int
	err := tx.QueryRowContext(ctx, queryRecordAdWatched, today, today, toUnix(now), userId).Scan(&adsToday)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", store.ErrUnknownUser, userId)
	}
	if err != nil {
		return 0, unavailable("record ad watched", err)
	}
	return adsToday, nil
}

func (s *Service) HasClaimedDailyBonus(ctx context.Context, userId, today string) (bool, error) {
	account, err := s.GetAccount(ctx, userId)
	if err != nil {
		return false, err
	}
	return account.LastDailyBonusDate == today, nil
}

func (s *Service) MarkDailyBonusClaimed(ctx context.Context, userId, today string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return markDailyBonus(ctx, tx, userId, today, time.Now())
	})
}

func markDailyBonus(ctx context.Context, tx *sql.Tx, userId, today string, now time.Time) error {
	result, err := tx.ExecContext(ctx, queryMarkDailyBonus, today, toUnix(now), userId)
	if err != nil {
		return unavailable("mark daily bonus", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable("check rows affected", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrUnknownUser, userId)
	}
	return nil
}
