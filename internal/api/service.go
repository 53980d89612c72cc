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

package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// tokenBytes yields a 16-character hex token
const tokenBytes = 8

// Mirror receives every committed transaction for replication to an external ledger.
type Mirror interface {
	Record(ctx context.Context, transaction *models.Transaction) error
}

// Notifier tells humans about withdrawal activity. Delivery is best effort.
type Notifier interface {
	WithdrawalRequested(ctx context.Context, withdrawal *models.WithdrawalRequest) error
	WithdrawalProcessed(ctx context.Context, withdrawal *models.WithdrawalRequest) error
}

// LedgerService applies the reward rules on top of a LedgerStore
type LedgerService struct {
	store    store.LedgerStore
	rewards  models.RewardsConfig
	now      func() time.Time
	newToken func() (string, error)
	mirror   Mirror
	notifier Notifier
}

type Option func(*LedgerService)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTokenSource(newToken func() (string, error)) Option {
	return func(s *LedgerService) {
		if newToken != nil {
			s.newToken = newToken
		}
	}
}

func WithMirror(mirror Mirror) Option {
	return func(s *LedgerService) {
		s.mirror = mirror
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(s *LedgerService) {
		s.notifier = notifier
	}
}

func NewLedgerService(ledger store.LedgerStore, rewards models.RewardsConfig, opts ...Option) *LedgerService {
	if rewards.Location == nil {
		rewards.Location = time.UTC
	}
	s := &LedgerService{
		store:    ledger,
		rewards:  rewards,
		now:      time.Now,
		newToken: randomToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if _, err := s.store.Stats(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Rewards exposes the active reward configuration
func (s *LedgerService) Rewards() models.RewardsConfig {
	return s.rewards
}

// today is the calendar date in the ledger time zone
func (s *LedgerService) today() string {
	return s.now().In(s.rewards.Location).Format("2006-01-02")
}

// shareOf applies the payout share with banker's rounding
func (s *LedgerService) shareOf(micro decimal.Decimal) decimal.Decimal {
	return micro.Mul(decimal.NewFromInt(s.rewards.PayoutSharePercent)).
		Div(decimal.NewFromInt(100)).
		RoundBank(0)
}

func (s *LedgerService) userShare(micro decimal.Decimal) int64 {
	return s.shareOf(micro).IntPart()
}

// AdReward is the amount credited for one settled ad watch
func (s *LedgerService) AdReward() int64 {
	return s.userShare(decimal.NewFromInt(s.rewards.AdRewardMicro))
}

// mirrorTransaction forwards a committed transaction. Failures are logged; the local
// ledger stays authoritative.
func (s *LedgerService) mirrorTransaction(ctx context.Context, transaction *models.Transaction) {
	if s.mirror == nil || transaction == nil {
		return
	}
	if err := s.mirror.Record(ctx, transaction); err != nil {
		zap.L().Warn("Failed to mirror transaction",
			zap.String("transaction_id", transaction.Id),
			zap.String("user_id", transaction.UserId),
			zap.Error(err))
	}
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
