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
	"reward-ledger-go/internal/models"

	"go.uber.org/zap"
)

type withdrawalCommand struct {
	list    bool
	request string
	approve string
	reject  string
}

func parseAndValidateFlags() (*withdrawalCommand, error) {
	listFlag := flag.Bool("list", false, "List pending withdrawal requests")
	requestFlag := flag.String("request", "", "Open a withdrawal request for the given user id")
	approveFlag := flag.String("approve", "", "Approve the withdrawal request with the given id")
	rejectFlag := flag.String("reject", "", "Reject the withdrawal request with the given id")
	flag.Parse()

	cmd := &withdrawalCommand{
		list:    *listFlag,
		request: *requestFlag,
		approve: *approveFlag,
		reject:  *rejectFlag,
	}

	selected := 0
	for _, set := range []bool{cmd.list, cmd.request != "", cmd.approve != "", cmd.reject != ""} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		return nil, fmt.Errorf("exactly one of --list, --request, --approve, --reject is required")
	}
	return cmd, nil
}

func printWithdrawal(w *models.WithdrawalRequest, isLast bool) {
	processed := "-"
	if w.ProcessedAt != nil {
		processed = w.ProcessedAt.Format("2006-01-02 15:04:05")
	}
	fmt.Printf("%s %s  user=%-12s %12s  %-8s created=%s processed=%s\n",
		common.BoxPrefix(isLast),
		w.Id,
		w.UserId,
		common.FormatMicro(w.Amount),
		w.Status,
		w.CreatedAt.Format("2006-01-02 15:04:05"),
		processed)
}

func printResult(action string, result *models.WithdrawalResult) {
	if !result.Success {
		fmt.Printf("\n✗ %s rejected: %s (balance %s)\n\n", action, result.Reason, common.FormatMicro(result.NewTotal))
		return
	}
	fmt.Printf("\n✓ %s succeeded\n", action)
	printWithdrawal(result.Withdrawal, true)
	fmt.Printf("   New balance: %s\n\n", common.FormatMicro(result.NewTotal))
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cmd, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid arguments", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	ledger := services.Ledger

	switch {
	case cmd.list:
		pending, err := ledger.ListPendingWithdrawals(ctx)
		if err != nil {
			zap.L().Fatal("Failed to list withdrawals", zap.Error(err))
		}
		common.PrintHeader(fmt.Sprintf("PENDING WITHDRAWALS (%d)", len(pending)), common.WideWidth)
		for i := range pending {
			printWithdrawal(&pending[i], i == len(pending)-1)
		}
		common.PrintFooter("Approve with --approve <id>, reject with --reject <id>", common.WideWidth)

	case cmd.request != "":
		result, err := ledger.RequestWithdrawal(ctx, cmd.request)
		if err != nil {
			zap.L().Fatal("Failed to request withdrawal", zap.Error(err))
		}
		printResult("Withdrawal request", result)

	case cmd.approve != "":
		zap.L().Info("Approving withdrawal", zap.String("withdrawal_id", cmd.approve))
		result, err := ledger.ApproveWithdrawal(ctx, cmd.approve)
		if err != nil {
			zap.L().Fatal("Failed to approve withdrawal", zap.Error(err))
		}
		printResult("Approval", result)

	case cmd.reject != "":
		zap.L().Info("Rejecting withdrawal", zap.String("withdrawal_id", cmd.reject))
		result, err := ledger.RejectWithdrawal(ctx, cmd.reject)
		if err != nil {
			zap.L().Fatal("Failed to reject withdrawal", zap.Error(err))
		}
		printResult("Rejection", result)
	}
}
