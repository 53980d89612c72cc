/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

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

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	var referredBy, lastBonus, lastReset sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&account.UserId, &account.Username, &account.Total,
		&account.Ads, &account.Offers, &account.Referrals, &account.Bonus,
		&account.TotalEarned, &referredBy, &account.ReferralsCount, &lastBonus, &lastReset,
		&account.AdsToday, &account.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	account.ReferredBy = referredBy.String
	account.LastDailyBonusDate = lastBonus.String
	account.LastQuotaResetDate = lastReset.String
	account.CreatedAt = fromUnix(createdAt)
	account.UpdatedAt = fromUnix(updatedAt)
	return &account, nil
}

// getAccount loads one account, mapping a missing row to ErrUnknownUser
func getAccount(ctx context.Context, q rowQueryer, userId string) (*models.Account, error) {
	account, err := scanAccount(q.QueryRowContext(ctx, queryGetAccount, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownUser, userId)
	}
	if err != nil {
		return nil, unavailable("get account", err)
	}
	return account, nil
}

func accountExists(ctx context.Context, q rowQueryer, userId string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, queryAccountExists, userId).Scan(&exists); err != nil {
		return false, unavailable("check account", err)
	}
	return exists, nil
}

// CreateAccount inserts the account on first contact. When the account is new and a
// referrer is supplied, the referral is applied in the same transaction.
func (s *Service) CreateAccount(ctx context.Context, params store.CreateAccountParams) (*store.Registration, error) {
	if params.UserId == "" {
		return nil, fmt.Errorf("%w: empty user id", store.ErrUnknownUser)
	}

	reg := &store.Registration{State: models.AccountExisting}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		now := toUnix(params.Now)
		result, err := tx.ExecContext(ctx, queryInsertAccount, params.UserId, params.Username, now, now)
		if err != nil {
			return unavailable("insert account", err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return unavailable("check rows affected", err)
		}

		if inserted == 1 {
			reg.State = models.AccountNew
			if params.ReferrerId != "" {
				reg.Referral, err = s.applyReferral(ctx, tx, params.UserId, params.ReferrerId, params.ReferralBonus, params.Now)
				if err != nil {
					return err
				}
			}
		}

		reg.Account, err = getAccount(ctx, tx, params.UserId)
		return err
	})
	if err != nil {
		return nil, err
	}

	if reg.State == models.AccountNew {
		zap.L().Info("Account created",
			zap.String("user_id", reg.Account.UserId),
			zap.String("referred_by", reg.Account.ReferredBy))
	}
	return reg, nil
}

func (s *Service) GetAccount(ctx context.Context, userId string) (*models.Account, error) {
	return withReadRetry(ctx, "get account", func() (*models.Account, error) {
		return getAccount(ctx, s.db, userId)
	})
}

// applyReferral links newUserId to referrerId and pays the referrer's bonus. It returns a
// nil transaction when the link is not allowed: self-referral, unknown referrer, or a
// user who is already referred.
func (s *Service) applyReferral(ctx context.Context, tx *sql.Tx, newUserId, referrerId string, bonus int64, now time.Time) (*models.Transaction, error) {
	if referrerId == "" || referrerId == newUserId {
		zap.L().Debug("Referral ignored", zap.String("user_id", newUserId), zap.String("referrer_id", referrerId))
		return nil, nil
	}

	exists, err := accountExists(ctx, tx, newUserId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownUser, newUserId)
	}

	exists, err = accountExists(ctx, tx, referrerId)
	if err != nil {
		return nil, err
	}
	if !exists {
		zap.L().Debug("Referral ignored, unknown referrer", zap.String("user_id", newUserId), zap.String("referrer_id", referrerId))
		return nil, nil
	}

	result, err := tx.ExecContext(ctx, querySetReferredBy, referrerId, toUnix(now), newUserId)
	if err != nil {
		return nil, unavailable("set referred_by", err)
	}
	linked, err := result.RowsAffected()
	if err != nil {
		return nil, unavailable("check rows affected", err)
	}
	if linked == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, queryIncrementReferrals, toUnix(now), referrerId); err != nil {
		return nil, unavailable("increment referrals", err)
	}

	transaction, err := s.subledger.applyCredit(ctx, tx, store.CreditParams{
		UserId:    referrerId,
		Category:  models.CategoryReferrals,
		Amount:    bonus,
		Reference: "referral:" + newUserId,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Referral applied",
		zap.String("user_id", newUserId),
		zap.String("referrer_id", referrerId),
		zap.Int64("bonus_micro", bonus))
	return transaction, nil
}

// TopAccounts returns the highest balances, ranked from 1
func (s *Service) TopAccounts(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	return withReadRetry(ctx, "top accounts", func() ([]models.LeaderboardEntry, error) {
		rows, err := s.db.QueryContext(ctx, queryTopAccounts, limit)
		if err != nil {
			return nil, err
		}
		defer func(rows *sql.Rows) {
			if err := rows.Close(); err != nil {
				zap.L().Warn("Failed to close rows", zap.Error(err))
			}
		}(rows)

		var entries []models.LeaderboardEntry
		for rows.Next() {
			entry := models.LeaderboardEntry{Rank: len(entries) + 1}
			if err := rows.Scan(&entry.UserId, &entry.Username, &entry.Total); err != nil {
				return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
			}
			entries = append(entries, entry)
		}
		return entries, rows.Err()
	})
}

func (s *Service) Stats(ctx context.Context) (*models.LedgerStats, error) {
	return withReadRetry(ctx, "stats", func() (*models.LedgerStats, error) {
		var stats models.LedgerStats
		if err := s.db.QueryRowContext(ctx, queryCountAccounts).Scan(&stats.TotalUsers); err != nil {
			return nil, err
		}
		if err := s.db.QueryRowContext(ctx, queryCountPendingWithdrawals).Scan(&stats.PendingWithdrawals); err != nil {
			return nil, err
		}
		return &stats, nil
	})
}
