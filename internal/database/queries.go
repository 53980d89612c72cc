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
	"fmt"

	"reward-ledger-go/internal/models"
)

const accountColumns = `user_id, username, total_micro, ads_micro, offers_micro, referrals_micro, bonus_micro,
		total_earned_micro, referred_by, referrals_count, last_daily_bonus_date, last_quota_reset_date,
		ads_today, version, created_at, updated_at`

const (
	// Account queries
	queryInsertAccount = `
		INSERT INTO accounts (user_id, username, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`

	queryGetAccount = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE user_id = ?`

	queryAccountExists = `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = ?)`

	querySetReferredBy = `
		UPDATE accounts
		SET referred_by = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND referred_by IS NULL`

	queryIncrementReferrals = `
		UPDATE accounts
		SET referrals_count = referrals_count + 1, version = version + 1, updated_at = ?
		WHERE user_id = ?`

	queryTopAccounts = `
		SELECT user_id, username, total_micro
		FROM accounts
		ORDER BY total_micro DESC, user_id
		LIMIT ?`

	queryCountAccounts = `
		SELECT COUNT(*) FROM accounts`

	// Quota queries
	queryRecordAdWatched = `
		UPDATE accounts
		SET ads_today = CASE WHEN last_quota_reset_date IS ? THEN ads_today + 1 ELSE 1 END,
		    last_quota_reset_date = ?, version = version + 1, updated_at = ?
		WHERE user_id = ?
		RETURNING ads_today`

	queryMarkDailyBonus = `
		UPDATE accounts
		SET last_daily_bonus_date = ?, version = version + 1, updated_at = ?
		WHERE user_id = ?`

	// Click queries
	queryInsertClick = `
		INSERT INTO click_records (user_id, token, issued_at, state)
		VALUES (?, ?, ?, 'issued')
		RETURNING id`

	queryLookupClick = `
		SELECT id, user_id, token, issued_at, state, consumed_at
		FROM click_records
		WHERE user_id = ? AND token = ?
		ORDER BY issued_at DESC, id DESC
		LIMIT 1`

	queryConsumeClick = `
		UPDATE click_records
		SET state = 'consumed', consumed_at = ?
		WHERE id = ? AND state = 'issued'`

	// Balance queries
	queryDebitAccount = `
		UPDATE accounts
		SET total_micro = total_micro - ?,
		    bonus_micro = bonus_micro - ?,
		    referrals_micro = referrals_micro - ?,
		    offers_micro = offers_micro - ?,
		    ads_micro = ads_micro - ?,
		    version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`

	queryReconcileTotal = `
		SELECT COALESCE(SUM(amount_micro), 0)
		FROM transactions
		WHERE user_id = ?`

	queryReconcileBuckets = `
		SELECT account_id, COALESCE(SUM(credit_micro), 0) - COALESCE(SUM(debit_micro), 0)
		FROM journal_entries
		WHERE account_type = 'user_balance' AND account_id IN (?, ?, ?, ?)
		GROUP BY account_id`

	// Transaction queries
	queryCheckDuplicateTransaction = `
		SELECT id FROM transactions WHERE external_transaction_id = ? LIMIT 1`

	queryInsertTransaction = `
		INSERT INTO transactions (
			id, user_id, category, amount_micro, balance_before, balance_after,
			external_transaction_id, reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_micro, credit_micro)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetTransactionHistory = `
		SELECT id, user_id, category, amount_micro, balance_before, balance_after,
		       external_transaction_id, reference, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	// Withdrawal queries
	queryInsertWithdrawal = `
		INSERT INTO withdrawal_requests (id, user_id, amount_micro, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)`

	queryGetWithdrawal = `
		SELECT id, user_id, amount_micro, status, created_at, processed_at
		FROM withdrawal_requests
		WHERE id = ?`

	queryTransitionWithdrawal = `
		UPDATE withdrawal_requests
		SET status = ?, processed_at = ?
		WHERE id = ? AND status = 'pending'`

	queryListPendingWithdrawals = `
		SELECT id, user_id, amount_micro, status, created_at, processed_at
		FROM withdrawal_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC`

	queryCountPendingWithdrawals = `
		SELECT COUNT(*) FROM withdrawal_requests WHERE status = 'pending'`
)

// creditQueries holds one bucket update per credit category so no column name is ever
// spliced into SQL from caller input.
var creditQueries = func() map[models.Category]string {
	queries := make(map[models.Category]string, len(models.CreditCategories))
	for _, c := range models.CreditCategories {
		queries[c] = fmt.Sprintf(`
		UPDATE accounts
		SET %[1]s = %[1]s + ?, total_micro = total_micro + ?, total_earned_micro = total_earned_micro + ?,
		    version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`, c.Column())
	}
	return queries
}()
