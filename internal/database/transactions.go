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
	"math"
	"time"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	journalUserBalance = "user_balance"
	journalRewards     = "system_expense"
	journalPayable     = "system_liability"
)

// journalLeg is one side of a double-entry record
type journalLeg struct {
	accountType string
	accountId   string
	debit       int64
	credit      int64
}

func bucketAccountId(userId string, c models.Category) string {
	return fmt.Sprintf("%s:%s", userId, c)
}

// applyCredit adds amount to one bucket of the account inside tx and writes the
// matching transaction and journal entries.
func (s *SubledgerService) applyCredit(ctx context.Context, tx *sql.Tx, params store.CreditParams) (*models.Transaction, error) {
	if !params.Category.IsCredit() {
		return nil, fmt.Errorf("%w: %q is not a credit category", store.ErrInvalidAmount, params.Category)
	}
	if params.Amount < 0 {
		return nil, fmt.Errorf("%w: credit of %d", store.ErrInvalidAmount, params.Amount)
	}

	if err := checkDuplicate(ctx, tx, params.ExternalTxId); err != nil {
		return nil, err
	}

	account, err := getAccount(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}
	// total_earned bounds every bucket and the balance
	if params.Amount > math.MaxInt64-account.TotalEarned {
		return nil, fmt.Errorf("%w: credit of %d overflows account %s", store.ErrInvalidAmount, params.Amount, params.UserId)
	}

	result, err := tx.ExecContext(ctx, creditQueries[params.Category],
		params.Amount, params.Amount, params.Amount, toUnix(params.Now), params.UserId, account.Version)
	if err != nil {
		return nil, unavailable("credit account", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, err
	}

	transaction := &models.Transaction{
		Id:                    uuid.New().String(),
		UserId:                params.UserId,
		Category:              params.Category,
		Amount:                params.Amount,
		BalanceBefore:         account.Total,
		BalanceAfter:          account.Total + params.Amount,
		ExternalTransactionId: params.ExternalTxId,
		Reference:             params.Reference,
		CreatedAt:             params.Now.UTC(),
	}

	legs := []journalLeg{
		{journalRewards, fmt.Sprintf("rewards_%s", params.Category), params.Amount, 0},
		{journalUserBalance, bucketAccountId(params.UserId, params.Category), 0, params.Amount},
	}
	if err := s.record(ctx, tx, transaction, legs); err != nil {
		return nil, err
	}

	zap.L().Debug("Credit applied",
		zap.String("user_id", params.UserId),
		zap.String("category", string(params.Category)),
		zap.Int64("amount_micro", params.Amount),
		zap.Int64("new_total_micro", transaction.BalanceAfter))
	return transaction, nil
}

// applyDebit removes amount from the account, draining buckets in CreditCategories order.
func (s *SubledgerService) applyDebit(ctx context.Context, tx *sql.Tx, userId string, amount int64, externalTxId, reference string, now time.Time) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: debit of %d", store.ErrInvalidAmount, amount)
	}

	if err := checkDuplicate(ctx, tx, externalTxId); err != nil {
		return nil, err
	}

	account, err := getAccount(ctx, tx, userId)
	if err != nil {
		return nil, err
	}
	if account.Total < amount {
		return nil, fmt.Errorf("%w: balance %d, requested %d", store.ErrInsufficientBalance, account.Total, amount)
	}

	drain := make(map[models.Category]int64, len(models.CreditCategories))
	remaining := amount
	for _, c := range models.CreditCategories {
		take := min(account.Bucket(c), remaining)
		drain[c] = take
		remaining -= take
	}
	if remaining != 0 {
		// total_micro is constrained to the bucket sum, so this means a corrupted row
		return nil, fmt.Errorf("account %s buckets do not cover total: short by %d", userId, remaining)
	}

	result, err := tx.ExecContext(ctx, queryDebitAccount,
		amount,
		drain[models.CategoryBonus],
		drain[models.CategoryReferrals],
		drain[models.CategoryOffers],
		drain[models.CategoryAds],
		toUnix(now), userId, account.Version)
	if err != nil {
		return nil, unavailable("debit account", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, err
	}

	transaction := &models.Transaction{
		Id:                    uuid.New().String(),
		UserId:                userId,
		Category:              models.CategoryWithdrawal,
		Amount:                -amount,
		BalanceBefore:         account.Total,
		BalanceAfter:          account.Total - amount,
		ExternalTransactionId: externalTxId,
		Reference:             reference,
		CreatedAt:             now.UTC(),
	}

	var legs []journalLeg
	for _, c := range models.CreditCategories {
		if drain[c] > 0 {
			legs = append(legs, journalLeg{journalUserBalance, bucketAccountId(userId, c), drain[c], 0})
		}
	}
	legs = append(legs, journalLeg{journalPayable, "withdrawals_payable", 0, amount})

	if err := s.record(ctx, tx, transaction, legs); err != nil {
		return nil, err
	}

	zap.L().Debug("Debit applied",
		zap.String("user_id", userId),
		zap.Int64("amount_micro", amount),
		zap.Int64("new_total_micro", transaction.BalanceAfter))
	return transaction, nil
}

// record inserts the transaction row and its journal legs
func (s *SubledgerService) record(ctx context.Context, tx *sql.Tx, transaction *models.Transaction, legs []journalLeg) error {
	_, err := tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, transaction.UserId, string(transaction.Category), transaction.Amount,
		transaction.BalanceBefore, transaction.BalanceAfter,
		nullString(transaction.ExternalTransactionId), transaction.Reference, toUnix(transaction.CreatedAt))
	if err != nil {
		return unavailable("insert transaction", err)
	}

	if err := s.addJournalEntries(ctx, tx, transaction.Id, legs); err != nil {
		return unavailable("add journal entries", err)
	}
	return nil
}

// addJournalEntries creates double-entry bookkeeping entries
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, transactionId string, legs []journalLeg) error {
	var debits, credits int64
	for _, leg := range legs {
		debits += leg.debit
		credits += leg.credit
	}
	if debits != credits {
		return fmt.Errorf("unbalanced journal for %s: debits=%d credits=%d", transactionId, debits, credits)
	}

	for _, leg := range legs {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), transactionId, leg.accountType, leg.accountId, leg.debit, leg.credit)
		if err != nil {
			return err
		}
	}
	return nil
}

func checkDuplicate(ctx context.Context, tx *sql.Tx, externalTxId string) error {
	if externalTxId == "" {
		return nil
	}

	var existingTxId string
	err := tx.QueryRowContext(ctx, queryCheckDuplicateTransaction, externalTxId).Scan(&existingTxId)
	if err == nil {
		zap.L().Warn("Duplicate external transaction Id detected, skipping",
			zap.String("external_tx_id", externalTxId),
			zap.String("existing_internal_tx_id", existingTxId))
		return fmt.Errorf("%w: external_transaction_id %s already exists", store.ErrDuplicateTransaction, externalTxId)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return unavailable("check for duplicate transaction", err)
	}
	return nil
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable("check rows affected", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}
	return nil
}

// GetTransactionHistory returns paginated transaction history for a user, newest first
func (s *SubledgerService) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("user_id", userId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	return withReadRetry(ctx, "transaction history", func() ([]models.Transaction, error) {
		rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, userId, limit, offset)
		if err != nil {
			return nil, err
		}
		defer func(rows *sql.Rows) {
			if err := rows.Close(); err != nil {
				zap.L().Warn("Failed to close rows", zap.Error(err))
			}
		}(rows)

		var transactions []models.Transaction
		for rows.Next() {
			var tx models.Transaction
			var category string
			var externalId sql.NullString
			var createdAt int64
			err := rows.Scan(&tx.Id, &tx.UserId, &category, &tx.Amount, &tx.BalanceBefore, &tx.BalanceAfter,
				&externalId, &tx.Reference, &createdAt)
			if err != nil {
				return nil, fmt.Errorf("failed to scan transaction: %w", err)
			}
			tx.Category = models.Category(category)
			tx.ExternalTransactionId = externalId.String
			tx.CreatedAt = fromUnix(createdAt)
			transactions = append(transactions, tx)
		}

		if err := rows.Err(); err != nil {
			zap.L().Error("Error during transaction row iteration", zap.Error(err))
			return nil, err
		}
		return transactions, nil
	})
}
