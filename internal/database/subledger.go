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

	"reward-ledger-go/internal/store"
)

// SubledgerService owns the balance side of the ledger: account buckets, the
// transaction audit trail and the double-entry journal behind it.
type SubledgerService struct {
	db *sql.DB
}

func NewSubledgerService(db *sql.DB) *SubledgerService {
	return &SubledgerService{
		db: db,
	}
}

func (s *SubledgerService) InitSchema() error {
	schema := `
	-- Accounts Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		total_micro INTEGER NOT NULL DEFAULT 0 CHECK (total_micro >= 0),
		ads_micro INTEGER NOT NULL DEFAULT 0 CHECK (ads_micro >= 0),
		offers_micro INTEGER NOT NULL DEFAULT 0 CHECK (offers_micro >= 0),
		referrals_micro INTEGER NOT NULL DEFAULT 0 CHECK (referrals_micro >= 0),
		bonus_micro INTEGER NOT NULL DEFAULT 0 CHECK (bonus_micro >= 0),
		total_earned_micro INTEGER NOT NULL DEFAULT 0,
		referred_by TEXT,
		referrals_count INTEGER NOT NULL DEFAULT 0,
		last_daily_bonus_date TEXT,
		last_quota_reset_date TEXT,
		ads_today INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		CHECK (total_micro = ads_micro + offers_micro + referrals_micro + bonus_micro)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_total ON accounts(total_micro DESC);

	-- Transactions Table (Audit Trail - Cold Data)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		amount_micro INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		external_transaction_id TEXT,
		reference TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_external_id
		ON transactions(external_transaction_id) WHERE external_transaction_id IS NOT NULL;

	-- Journal Entries for Double-Entry Bookkeeping
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_micro INTEGER NOT NULL DEFAULT 0,
		credit_micro INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_journal_transaction_id ON journal_entries(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn inside one write transaction. The DSN opens every transaction with
// BEGIN IMMEDIATE, so writers are serialized and the reads inside fn see the state
// they are about to change.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

// unavailable marks a storage failure so callers can tell it apart from a rejection.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, op, err)
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
