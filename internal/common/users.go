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

package common

import (
	"context"
	"fmt"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"go.uber.org/zap"
)

// InitializeAccounts retrieves accounts for command-line utilities.
// If userFilter is provided, returns that single account.
// If userFilter is empty, returns the top accounts by balance.
func InitializeAccounts(ctx context.Context, ledger store.LedgerStore, userFilter string, limit int) ([]models.Account, error) {
	var accounts []models.Account

	if userFilter != "" {
		zap.L().Info("Looking up account", zap.String("user_id", userFilter))
		account, err := ledger.GetAccount(ctx, userFilter)
		if err != nil {
			return nil, fmt.Errorf("account not found: %w", err)
		}
		accounts = append(accounts, *account)
	} else {
		top, err := ledger.TopAccounts(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to get accounts: %w", err)
		}
		for _, entry := range top {
			account, err := ledger.GetAccount(ctx, entry.UserId)
			if err != nil {
				return nil, fmt.Errorf("failed to get account %s: %w", entry.UserId, err)
			}
			accounts = append(accounts, *account)
		}
	}

	zap.L().Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}
