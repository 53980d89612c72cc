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

package main

import (
	"context"
	"flag"
	"fmt"

	"reward-ledger-go/internal/common"
	"reward-ledger-go/internal/config"
	"reward-ledger-go/internal/database"
	"reward-ledger-go/internal/formance"
	"reward-ledger-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	usersWithBalances int
	totalMicro        int64
	reconcileFailures int
}

func formatTransactionId(txId string) string {
	if txId == "" {
		return "none"
	}
	if len(txId) > 8 {
		return txId[:8] + "..."
	}
	return txId
}

func printAccountHeader(account models.Account) {
	name := account.Username
	if name == "" {
		name = "-"
	}
	fmt.Printf("\n┌─ User: %s (%s)\n", account.UserId, name)
	fmt.Printf("│  Total: %s (earned %s, v%d, updated: %s)\n",
		common.FormatMicro(account.Total),
		common.FormatMicro(account.TotalEarned),
		account.Version,
		account.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("│  Ads today: %d, referrals: %d\n", account.AdsToday, account.ReferralsCount)
	common.PrintBoxSeparator(78)
}

func printBuckets(account models.Account) {
	for i, category := range models.CreditCategories {
		isLast := i == len(models.CreditCategories)-1
		fmt.Printf("%s %-15s: %20s\n", common.BoxPrefix(isLast), category, common.FormatMicro(account.Bucket(category)))
	}
}

func printHistory(transactions []models.Transaction) {
	if len(transactions) == 0 {
		return
	}
	fmt.Println("│  Recent transactions:")
	for i, tx := range transactions {
		isLast := i == len(transactions)-1
		fmt.Printf("%s %s %-10s %12s (tx: %s)\n",
			common.BoxDetailPrefix(isLast),
			tx.CreatedAt.Format("2006-01-02 15:04:05"),
			tx.Category,
			common.FormatMicro(tx.Amount),
			formatTransactionId(tx.Id))
	}
}

type reportOptions struct {
	reconcile bool
	history   int
	mirror    *formance.Service
}

func processAccount(ctx context.Context, account models.Account, dbService *database.Service, opts reportOptions) error {
	printAccountHeader(account)
	printBuckets(account)

	if opts.history > 0 {
		transactions, err := dbService.GetTransactionHistory(ctx, account.UserId, opts.history, 0)
		if err != nil {
			return fmt.Errorf("failed to get history: %w", err)
		}
		printHistory(transactions)
	}

	if opts.reconcile {
		if err := dbService.ReconcileAccount(ctx, account.UserId); err != nil {
			fmt.Printf("   ✗ reconciliation failed: %v\n", err)
			return fmt.Errorf("reconciliation failed: %w", err)
		}
		fmt.Println("   ✓ reconciled")
	}

	if opts.mirror != nil {
		if err := opts.mirror.CompareAccount(ctx, &account); err != nil {
			fmt.Printf("   ✗ formance mismatch: %v\n", err)
			return fmt.Errorf("formance comparison failed: %w", err)
		}
		fmt.Println("   ✓ matches formance")
	}

	return nil
}

func processAccountsAndGenerateReport(ctx context.Context, accounts []models.Account, dbService *database.Service, opts reportOptions) balanceStats {
	stats := balanceStats{}

	for _, account := range accounts {
		stats.totalUsers++
		if account.Total > 0 {
			stats.usersWithBalances++
		}
		stats.totalMicro += account.Total

		if err := processAccount(ctx, account, dbService, opts); err != nil {
			zap.L().Error("Failed to process account",
				zap.String("user_id", account.UserId),
				zap.Error(err))
			stats.reconcileFailures++
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Filter by specific user id (optional)")
	limitFlag := flag.Int("limit", 20, "Number of top accounts to report when no user is given")
	historyFlag := flag.Int("history", 0, "Number of recent transactions to print per account")
	reconcileFlag := flag.Bool("reconcile", false, "Check each account's buckets against its journal")
	formanceFlag := flag.Bool("formance", false, "Compare each account against the Formance mirror")
	flag.Parse()

	zap.L().Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	opts := reportOptions{reconcile: *reconcileFlag, history: *historyFlag}
	if *formanceFlag {
		mirror, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			zap.L().Fatal("Failed to connect to Formance", zap.Error(err))
		}
		opts.mirror = mirror
	}

	accounts, err := common.InitializeAccounts(ctx, dbService, *userFlag, *limitFlag)
	if err != nil {
		zap.L().Fatal("Failed to load accounts", zap.Error(err))
	}

	common.PrintHeader("REWARD BALANCE REPORT", common.DefaultWidth)

	stats := processAccountsAndGenerateReport(ctx, accounts, dbService, opts)

	summary := fmt.Sprintf("SUMMARY: %d users with balances, %s outstanding across %d users queried",
		stats.usersWithBalances, common.FormatMicro(stats.totalMicro), stats.totalUsers)
	if opts.reconcile || opts.mirror != nil {
		summary += fmt.Sprintf(" (%d failed checks)", stats.reconcileFailures)
	}
	common.PrintFooter(summary, common.DefaultWidth)

	zap.L().Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_balances", stats.usersWithBalances),
		zap.Int64("outstanding_micro", stats.totalMicro),
		zap.Int("failed_checks", stats.reconcileFailures))
}
