package api

import (
	"context"
	"fmt"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"go.uber.org/zap"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
	maxHistoryPage         = 500
)

// RegisterUser creates the account on first contact. A referrer only counts when the
// account is new; repeat registrations return the existing account unchanged.
func (s *LedgerService) RegisterUser(ctx context.Context, userId, username, referrerId string) (*models.Account, models.AccountState, error) {
	reg, err := s.register(ctx, userId, username, referrerId)
	if err != nil {
		return nil, "", err
	}
	return reg.Account, reg.State, nil
}

// ApplyReferral is first contact with a referrer named. The referrer is credited only when
// this call creates newUserId's account; an account that already exists is never linked.
func (s *LedgerService) ApplyReferral(ctx context.Context, newUserId, referrerId string) (bool, error) {
	reg, err := s.register(ctx, newUserId, "", referrerId)
	if err != nil {
		return false, err
	}
	return reg.Referral != nil, nil
}

func (s *LedgerService) register(ctx context.Context, userId, username, referrerId string) (*store.Registration, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user_id is required", store.ErrUnknownUser)
	}

	reg, err := s.store.CreateAccount(ctx, store.CreateAccountParams{
		UserId:        userId,
		Username:      username,
		ReferrerId:    referrerId,
		ReferralBonus: s.rewards.ReferralBonusMicro,
		Now:           s.now(),
	})
	if err != nil {
		zap.L().Error("Failed to register user", zap.String("user_id", userId), zap.Error(err))
		return nil, err
	}

	if reg.Referral != nil {
		observeSettlement(kindReferral, "")
		creditedMicroTotal.WithLabelValues(string(models.CategoryReferrals)).Add(float64(reg.Referral.Amount))
		s.mirrorTransaction(ctx, reg.Referral)
	}
	return reg, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, userId string) (*models.Account, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user_id is required", store.ErrUnknownUser)
	}
	return s.store.GetAccount(ctx, userId)
}

// Leaderboard returns the top n balances. Non-positive n falls back to the default size.
func (s *LedgerService) Leaderboard(ctx context.Context, n int) ([]models.LeaderboardEntry, error) {
	if n <= 0 {
		n = defaultLeaderboardSize
	}
	n = min(n, maxLeaderboardSize)
	return s.store.TopAccounts(ctx, n)
}

func (s *LedgerService) AdminStats(ctx context.Context) (*models.LedgerStats, error) {
	return s.store.Stats(ctx)
}

func (s *LedgerService) TransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > maxHistoryPage {
		limit = maxHistoryPage
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.GetTransactionHistory(ctx, userId, limit, offset)
}

func (s *LedgerService) ReconcileAccount(ctx context.Context, userId string) error {
	return s.store.ReconcileAccount(ctx, userId)
}
