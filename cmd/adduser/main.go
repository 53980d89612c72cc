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
	"strings"

	"reward-ledger-go/internal/common"
	"reward-ledger-go/internal/config"
	"reward-ledger-go/internal/models"

	"go.uber.org/zap"
)

func validateId(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if strings.ContainsAny(id, " \t\n") {
		return fmt.Errorf("user id must not contain whitespace: %q", id)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	idFlag := flag.String("id", "", "User id (required)")
	nameFlag := flag.String("name", "", "Display name (optional)")
	referrerFlag := flag.String("referrer", "", "Referrer user id (optional, applied only to new accounts)")
	flag.Parse()

	if err := validateId(*idFlag); err != nil {
		zap.L().Fatal("Invalid user id", zap.Error(err))
	}
	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
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

	account, state, err := services.Ledger.RegisterUser(ctx, *idFlag, *nameFlag, *referrerFlag)
	if err != nil {
		zap.L().Fatal("Failed to register user", zap.Error(err))
	}

	if state == models.AccountExisting {
		fmt.Printf("\n✓ User %s already exists (balance %s)\n\n", account.UserId, common.FormatMicro(account.Total))
		return
	}

	fmt.Printf("\n✓ Created user %s\n", account.UserId)
	if account.ReferredBy != "" {
		fmt.Printf("   Referred by: %s\n", account.ReferredBy)
	}
	fmt.Println()
}
