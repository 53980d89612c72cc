package api

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// microPerUSD converts a postback USD amount to micro-units
var microPerUSD = decimal.NewFromInt(1000)

// postbackUserId bounds the subid an offer provider can name
var postbackUserId = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

const (
	maxExternalIdLen = 128
	maxAmountLen     = 40
	maxAmountExp     = 18
)

// settled turns a store outcome into a RewardResult. Rejections come back as an
// unsuccessful result with a reason code; storage failures come back as errors.
func settled(kind string, result *models.RewardResult, err error) (*models.RewardResult, error) {
	reason := store.Reason(err)
	observeSettlement(kind, reason)

	if err == nil {
		result.Success = true
		creditedMicroTotal.WithLabelValues(string(result.Category)).Add(float64(result.Amount))
		return result, nil
	}

	if !store.IsRejection(err) {
		zap.L().Error("Settlement failed",
			zap.String("kind", kind),
			zap.String("user_id", result.UserId),
			zap.Error(err))
		return nil, err
	}

	zap.L().Warn("Settlement rejected",
		zap.String("kind", kind),
		zap.String("user_id", result.UserId),
		zap.String("reason", reason),
		zap.Error(err))
	result.Success = false
	result.Reason = reason
	return result, nil
}

// IssueToken mints a single-use token for an ad-watch attempt. No eligibility is checked here.
func (s *LedgerService) IssueToken(ctx context.Context, userId string) (string, error) {
	if userId == "" {
		return "", fmt.Errorf("%w: user_id is required", store.ErrUnknownUser)
	}

	token, err := s.newToken()
	if err != nil {
		return "", err
	}

	if _, err := s.store.RecordClick(ctx, userId, token, s.now()); err != nil {
		return "", fmt.Errorf("failed to record click: %w", err)
	}

	zap.L().Info("Ad token issued", zap.String("user_id", userId), zap.String("token", token))
	return token, nil
}

// LookupToken returns the most recent click for the pair or ErrClaimNotFound
func (s *LedgerService) LookupToken(ctx context.Context, userId, token string) (*models.ClickRecord, error) {
	click, err := s.store.LookupClick(ctx, userId, token)
	if err != nil {
		return nil, err
	}
	if click == nil {
		return nil, fmt.Errorf("%w: user %s token %s", store.ErrClaimNotFound, userId, token)
	}
	return click, nil
}

// SettleAdClaim verifies an ad-watch claim and pays the user's share of the ad reward
func (s *LedgerService) SettleAdClaim(ctx context.Context, userId, token string) (*models.RewardResult, error) {
	result := &models.RewardResult{UserId: userId, Category: models.CategoryAds}

	settlement, err := s.store.SettleAdClaim(ctx, store.SettleAdClaimParams{
		UserId: userId,
		Token:  token,
		Now:    s.now(),
		Today:  s.today(),
		Wait:   s.rewards.Wait(),
		MaxAds: s.rewards.MaxAdsPerDay,
		Reward: s.AdReward(),
	})
	if err == nil {
		result.Amount = settlement.Transaction.Amount
		result.NewTotal = settlement.Transaction.BalanceAfter
		result.AdsToday = settlement.AdsToday
		result.TransactionId = settlement.Transaction.Id
		s.mirrorTransaction(ctx, settlement.Transaction)
	}
	return settled(kindAd, result, err)
}

// SettleOfferPostback credits the user's share of an offerwall payout. The external
// transaction id is the idempotency key; a replay is rejected as a duplicate.
func (s *LedgerService) SettleOfferPostback(ctx context.Context, userId, usdAmount, externalTxId string) (*models.RewardResult, error) {
	result := &models.RewardResult{UserId: userId, Category: models.CategoryOffers}

	micro, err := s.offerMicro(usdAmount, externalTxId)
	if err != nil {
		return settled(kindOffer, result, err)
	}

	transaction, err := s.store.Credit(ctx, store.CreditParams{
		UserId:       userId,
		Category:     models.CategoryOffers,
		Amount:       micro,
		ExternalTxId: externalTxId,
		Reference:    "postback:" + usdAmount,
		Now:          s.now(),
	})
	if err == nil {
		result.Amount = transaction.Amount
		result.NewTotal = transaction.BalanceAfter
		result.TransactionId = transaction.Id
		s.mirrorTransaction(ctx, transaction)
	}
	return settled(kindOffer, result, err)
}

// ValidatePostback checks an offer postback without touching the ledger, so a malformed
// request can be turned away before the account is created.
func (s *LedgerService) ValidatePostback(userId, usdAmount, externalTxId string) error {
	if !postbackUserId.MatchString(userId) {
		return fmt.Errorf("%w: malformed subid %q", store.ErrInvalidPostback, userId)
	}
	_, err := s.offerMicro(usdAmount, externalTxId)
	return err
}

// offerMicro validates a postback and returns the user's share in micro-units
func (s *LedgerService) offerMicro(usdAmount, externalTxId string) (int64, error) {
	externalTxId = strings.TrimSpace(externalTxId)
	if externalTxId == "" {
		return 0, fmt.Errorf("%w: missing transaction id", store.ErrInvalidPostback)
	}
	if len(externalTxId) > maxExternalIdLen {
		return 0, fmt.Errorf("%w: transaction id longer than %d", store.ErrInvalidPostback, maxExternalIdLen)
	}

	usdAmount = strings.TrimSpace(usdAmount)
	if len(usdAmount) > maxAmountLen {
		return 0, fmt.Errorf("%w: amount longer than %d", store.ErrInvalidAmount, maxAmountLen)
	}
	usd, err := decimal.NewFromString(usdAmount)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", store.ErrInvalidAmount, usdAmount, err)
	}
	// rounding rescales by 10^|exponent|
	if exp := usd.Exponent(); exp < -maxAmountExp || exp > maxAmountExp {
		return 0, fmt.Errorf("%w: amount %s out of range", store.ErrInvalidAmount, usdAmount)
	}
	if usd.IsNegative() {
		return 0, fmt.Errorf("%w: amount %s is negative", store.ErrInvalidAmount, usd)
	}

	share := s.shareOf(usd.Mul(microPerUSD).RoundBank(0))
	if !share.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount %s out of range", store.ErrInvalidAmount, usd)
	}
	return share.IntPart(), nil
}

// Credit adds amount to one bucket directly. Used by operator tooling and the bot layer.
func (s *LedgerService) Credit(ctx context.Context, userId string, category models.Category, amount int64, reference string) (*models.RewardResult, error) {
	result := &models.RewardResult{UserId: userId, Category: category}

	transaction, err := s.store.Credit(ctx, store.CreditParams{
		UserId:    userId,
		Category:  category,
		Amount:    amount,
		Reference: reference,
		Now:       s.now(),
	})
	if err == nil {
		result.Amount = transaction.Amount
		result.NewTotal = transaction.BalanceAfter
		result.TransactionId = transaction.Id
		s.mirrorTransaction(ctx, transaction)
	}
	return settled(kindCredit, result, err)
}

// ClaimDailyBonus pays the daily bonus once per ledger day
func (s *LedgerService) ClaimDailyBonus(ctx context.Context, userId string) (*models.RewardResult, error) {
	result := &models.RewardResult{UserId: userId, Category: models.CategoryBonus}

	transaction, err := s.store.ClaimDailyBonus(ctx, store.DailyBonusParams{
		UserId: userId,
		Today:  s.today(),
		Amount: s.rewards.DailyBonusMicro,
		Now:    s.now(),
	})
	if err == nil {
		result.Amount = transaction.Amount
		result.NewTotal = transaction.BalanceAfter
		result.TransactionId = transaction.Id
		s.mirrorTransaction(ctx, transaction)
	}
	return settled(kindBonus, result, err)
}

func (s *LedgerService) HasClaimedDailyBonus(ctx context.Context, userId string) (bool, error) {
	return s.store.HasClaimedDailyBonus(ctx, userId, s.today())
}

func (s *LedgerService) MarkDailyBonusClaimed(ctx context.Context, userId string) error {
	return s.store.MarkDailyBonusClaimed(ctx, userId, s.today())
}

func (s *LedgerService) CanWatchMore(ctx context.Context, userId string) (bool, error) {
	return s.store.CanWatchMore(ctx, userId, s.today(), s.rewards.MaxAdsPerDay)
}

func (s *LedgerService) RecordAdWatched(ctx context.Context, userId string) (int, error) {
	return s.store.RecordAdWatched(ctx, userId, s.today())
}
