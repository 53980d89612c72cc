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
	"time"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Credit adds a non-negative amount to one bucket of an existing account
func (s *Service) Credit(ctx context.Context, params store.CreditParams) (*models.Transaction, error) {
	var transaction *models.Transaction
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		transaction, err = s.subledger.applyCredit(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Credit processed successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", params.UserId),
		zap.String("category", string(params.Category)),
		zap.Int64("amount_micro", params.Amount),
		zap.Int64("old_total_micro", transaction.BalanceBefore),
		zap.Int64("new_total_micro", transaction.BalanceAfter))
	return transaction, nil
}

// Debit removes amount from the account total. It never lets the balance go negative.
func (s *Service) Debit(ctx context.Context, userId string, amount int64, reference string, now time.Time) (*models.Transaction, error) {
	var transaction *models.Transaction
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		transaction, err = s.subledger.applyDebit(ctx, tx, userId, amount, "", reference, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Debit processed successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", userId),
		zap.Int64("amount_micro", amount),
		zap.Int64("new_total_micro", transaction.BalanceAfter))
	return transaction, nil
}

// SettleAdClaim checks and pays an ad-watch claim in one transaction. Checks run in a
// fixed order: the token must exist, be unsettled, have waited long enough, and the
// user must have quota left. Any failure leaves the token, quota and balance untouched.
func (s *Service) SettleAdClaim(ctx context.Context, params store.SettleAdClaimParams) (*store.AdSettlement, error) {
	settlement := &store.AdSettlement{}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		click, err := lookupClick(ctx, tx, params.UserId, params.Token)
		if err != nil {
			return err
		}
		if click == nil {
			return fmt.Errorf("%w: user %s token %s", store.ErrClaimNotFound, params.UserId, params.Token)
		}
		if click.State == models.TokenConsumed {
			return fmt.Errorf("%w: token %s", store.ErrClaimAlreadySettled, params.Token)
		}

		if elapsed := params.Now.Sub(click.IssuedAt); elapsed < params.Wait {
			return fmt.Errorf("%w: %s of %s", store.ErrWaitNotElapsed, elapsed.Truncate(time.Second), params.Wait)
		}

		account, err := getAccount(ctx, tx, params.UserId)
		if err != nil {
			return err
		}
		if !canWatchMore(account, params.Today, params.MaxAds) {
			return fmt.Errorf("%w: %d of %d today", store.ErrDailyLimitReached, account.AdsToday, params.MaxAds)
		}

		settlement.Transaction, err = s.subledger.applyCredit(ctx, tx, store.CreditParams{
			UserId:    params.UserId,
			Category:  models.CategoryAds,
			Amount:    params.Reward,
			Reference: "ad:" + params.Token,
			Now:       params.Now,
		})
		if err != nil {
			return err
		}

		settlement.AdsToday, err = recordAdWatched(ctx, tx, params.UserId, params.Today, params.Now)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, queryConsumeClick, toUnix(params.Now), click.Id)
		if err != nil {
			return unavailable("consume click", err)
		}
		consumed, err := result.RowsAffected()
		if err != nil {
			return unavailable("check rows affected", err)
		}
		if consumed == 0 {
			return fmt.Errorf("%w: token %s", store.ErrClaimAlreadySettled, params.Token)
		}

		consumedAt := params.Now.UTC()
		click.State = models.TokenConsumed
		click.ConsumedAt = &consumedAt
		settlement.Click = click
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Ad claim settled",
		zap.String("user_id", params.UserId),
		zap.String("token", params.Token),
		zap.Int64("reward_micro", params.Reward),
		zap.Int("ads_today", settlement.AdsToday),
		zap.Int64("new_total_micro", settlement.Transaction.BalanceAfter))
	return settlement, nil
}

// ClaimDailyBonus credits the bonus and marks today as claimed in one transaction
func (s *Service) ClaimDailyBonus(ctx context.Context, params store.DailyBonusParams) (*models.Transaction, error) {
	var transaction *models.Transaction

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		account, err := getAccount(ctx, tx, params.UserId)
		if err != nil {
			return err
		}
		if account.LastDailyBonusDate == params.Today {
			return fmt.Errorf("%w: %s", store.ErrAlreadyClaimedToday, params.Today)
		}

		transaction, err = s.subledger.applyCredit(ctx, tx, store.CreditParams{
			UserId:    params.UserId,
			Category:  models.CategoryBonus,
			Amount:    params.Amount,
			Reference: "daily:" + params.Today,
			Now:       params.Now,
		})
		if err != nil {
			return err
		}
		return markDailyBonus(ctx, tx, params.UserId, params.Today, params.Now)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Daily bonus claimed",
		zap.String("user_id", params.UserId),
		zap.String("date", params.Today),
		zap.Int64("amount_micro", params.Amount))
	return transaction, nil
}
