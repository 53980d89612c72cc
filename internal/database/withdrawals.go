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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanWithdrawal(scan func(dest ...any) error) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	var status string
	var createdAt int64
	var processedAt sql.NullInt64

	if err := scan(&w.Id, &w.UserId, &w.Amount, &status, &createdAt, &processedAt); err != nil {
		return nil, err
	}
	w.Status = models.WithdrawalStatus(status)
	w.CreatedAt = fromUnix(createdAt)
	w.ProcessedAt = fromNullUnix(processedAt)
	return &w, nil
}

func getWithdrawal(ctx context.Context, q rowQueryer, id string) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(q.QueryRowContext(ctx, queryGetWithdrawal, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrWithdrawalNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get withdrawal", err)
	}
	return w, nil
}

// CreateWithdrawal opens a pending request for the full balance at request time.
// The balance is not touched until an administrator approves.
func (s *Service) CreateWithdrawal(ctx context.Context, params store.WithdrawalParams) (*models.WithdrawalRequest, error) {
	var withdrawal *models.WithdrawalRequest

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		account, err := getAccount(ctx, tx, params.UserId)
		if err != nil {
			return err
		}
		if account.Total <= 0 || account.Total < params.Minimum {
			return fmt.Errorf("%w: balance %d, minimum %d", store.ErrBelowMinimumWithdrawal, account.Total, params.Minimum)
		}

		withdrawal = &models.WithdrawalRequest{
			Id:        uuid.New().String(),
			UserId:    params.UserId,
			Amount:    account.Total,
			Status:    models.WithdrawalPending,
			CreatedAt: params.Now.UTC(),
		}
		_, err = tx.ExecContext(ctx, queryInsertWithdrawal, withdrawal.Id, withdrawal.UserId, withdrawal.Amount, toUnix(params.Now))
		if err != nil {
			return unavailable("insert withdrawal", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal requested",
		zap.String("withdrawal_id", withdrawal.Id),
		zap.String("user_id", withdrawal.UserId),
		zap.Int64("amount_micro", withdrawal.Amount))
	return withdrawal, nil
}

func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	return withReadRetry(ctx, "get withdrawal", func() (*models.WithdrawalRequest, error) {
		return getWithdrawal(ctx, s.db, id)
	})
}

// ApproveWithdrawal debits the requested amount and closes the request. If the balance
// no longer covers the amount the request stays pending and ErrInsufficientBalance is returned.
func (s *Service) ApproveWithdrawal(ctx context.Context, id string, now time.Time) (*models.WithdrawalRequest, *models.Transaction, error) {
	var withdrawal *models.WithdrawalRequest
	var transaction *models.Transaction

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		withdrawal, err = getWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if withdrawal.Status != models.WithdrawalPending {
			return fmt.Errorf("%w: %s is %s", store.ErrAlreadyProcessed, id, withdrawal.Status)
		}

		transaction, err = s.subledger.applyDebit(ctx, tx, withdrawal.UserId, withdrawal.Amount,
			"withdrawal:"+withdrawal.Id, "withdrawal:"+withdrawal.Id, now)
		if err != nil {
			return err
		}

		return transitionWithdrawal(ctx, tx, withdrawal, models.WithdrawalApproved, now)
	})
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("Withdrawal approved",
		zap.String("withdrawal_id", withdrawal.Id),
		zap.String("user_id", withdrawal.UserId),
		zap.Int64("amount_micro", withdrawal.Amount),
		zap.Int64("new_total_micro", transaction.BalanceAfter))
	return withdrawal, transaction, nil
}

// RejectWithdrawal closes the request without touching the balance
func (s *Service) RejectWithdrawal(ctx context.Context, id string, now time.Time) (*models.WithdrawalRequest, error) {
	var withdrawal *models.WithdrawalRequest

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		withdrawal, err = getWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if withdrawal.Status != models.WithdrawalPending {
			return fmt.Errorf("%w: %s is %s", store.ErrAlreadyProcessed, id, withdrawal.Status)
		}
		return transitionWithdrawal(ctx, tx, withdrawal, models.WithdrawalRejected, now)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal rejected",
		zap.String("withdrawal_id", withdrawal.Id),
		zap.String("user_id", withdrawal.UserId))
	return withdrawal, nil
}

func transitionWithdrawal(ctx context.Context, tx *sql.Tx, withdrawal *models.WithdrawalRequest, status models.WithdrawalStatus, now time.Time) error {
	result, err := tx.ExecContext(ctx, queryTransitionWithdrawal, string(status), toUnix(now), withdrawal.Id)
	if err != nil {
		return unavailable("update withdrawal", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable("check rows affected", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrAlreadyProcessed, withdrawal.Id)
	}

	processedAt := now.UTC()
	withdrawal.Status = status
	withdrawal.ProcessedAt = &processedAt
	return nil
}

// ListPendingWithdrawals returns open requests, oldest first
func (s *Service) ListPendingWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error) {
	return withReadRetry(ctx, "list pending withdrawals", func() ([]models.WithdrawalRequest, error) {
		rows, err := s.db.QueryContext(ctx, queryListPendingWithdrawals)
		if err != nil {
			return nil, err
		}
		defer func(rows *sql.Rows) {
			if err := rows.Close(); err != nil {
				zap.L().Warn("Failed to close rows", zap.Error(err))
			}
		}(rows)

		var withdrawals []models.WithdrawalRequest
		for rows.Next() {
			w, err := scanWithdrawal(rows.Scan)
			if err != nil {
				return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
			}
			withdrawals = append(withdrawals, *w)
		}
		return withdrawals, rows.Err()
	})
}
