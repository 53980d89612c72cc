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
	"fmt"

	"reward-ledger-go/internal/models"

	"go.uber.org/zap"
)

// ReconcileBalance verifies an account three ways: the buckets add up to the total,
// the transaction history sums to the total, and the journal reproduces every bucket.
func (s *SubledgerService) ReconcileBalance(ctx context.Context, userId string) error {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId))

	account, err := withReadRetry(ctx, "get account", func() (*models.Account, error) {
		return getAccount(ctx, s.db, userId)
	})
	if err != nil {
		return err
	}

	if account.BucketSum() != account.Total {
		zap.L().Error("Bucket reconciliation failed",
			zap.String("user_id", userId),
			zap.Int64("total_micro", account.Total),
			zap.Int64("bucket_sum_micro", account.BucketSum()))
		return fmt.Errorf("bucket mismatch: total=%d, buckets=%d", account.Total, account.BucketSum())
	}

	calculated, err := withReadRetry(ctx, "sum transactions", func() (int64, error) {
		var sum int64
		err := s.db.QueryRowContext(ctx, queryReconcileTotal, userId).Scan(&sum)
		return sum, err
	})
	if err != nil {
		return fmt.Errorf("failed to calculate balance from transactions: %w", err)
	}

	if calculated != account.Total {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.Int64("current_balance", account.Total),
			zap.Int64("calculated_balance", calculated),
			zap.Int64("difference", account.Total-calculated))
		return fmt.Errorf("balance mismatch: current=%d, calculated=%d", account.Total, calculated)
	}

	journal, err := s.journalBuckets(ctx, userId)
	if err != nil {
		return fmt.Errorf("failed to sum journal entries: %w", err)
	}
	for _, c := range models.CreditCategories {
		if got := journal[bucketAccountId(userId, c)]; got != account.Bucket(c) {
			zap.L().Error("Journal reconciliation failed",
				zap.String("user_id", userId),
				zap.String("category", string(c)),
				zap.Int64("bucket_micro", account.Bucket(c)),
				zap.Int64("journal_micro", got))
			return fmt.Errorf("journal mismatch for %s: bucket=%d, journal=%d", c, account.Bucket(c), got)
		}
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.Int64("balance", account.Total))
	return nil
}

func (s *SubledgerService) journalBuckets(ctx context.Context, userId string) (map[string]int64, error) {
	return withReadRetry(ctx, "journal buckets", func() (map[string]int64, error) {
		args := make([]any, 0, len(models.CreditCategories))
		for _, c := range models.CreditCategories {
			args = append(args, bucketAccountId(userId, c))
		}

		rows, err := s.db.QueryContext(ctx, queryReconcileBuckets, args...)
		if err != nil {
			return nil, err
		}
		defer func(rows *sql.Rows) {
			if err := rows.Close(); err != nil {
				zap.L().Warn("Failed to close rows", zap.Error(err))
			}
		}(rows)

		balances := make(map[string]int64)
		for rows.Next() {
			var accountId string
			var net int64
			if err := rows.Scan(&accountId, &net); err != nil {
				return nil, err
			}
			balances[accountId] = net
		}
		return balances, rows.Err()
	})
}
