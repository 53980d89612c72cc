package api

import (
	"context"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"go.uber.org/zap"
)

// withdrawalOutcome mirrors settled for the withdrawal workflow
func withdrawalOutcome(op string, result *models.WithdrawalResult, err error) (*models.WithdrawalResult, error) {
	if err == nil {
		result.Success = true
		if result.Withdrawal != nil {
			withdrawalsTotal.WithLabelValues(string(result.Withdrawal.Status)).Inc()
		}
		return result, nil
	}

	if !store.IsRejection(err) {
		zap.L().Error("Withdrawal step failed", zap.String("op", op), zap.Error(err))
		return nil, err
	}

	reason := store.Reason(err)
	zap.L().Warn("Withdrawal step rejected", zap.String("op", op), zap.String("reason", reason), zap.Error(err))
	result.Success = false
	result.Reason = reason
	return result, nil
}

// RequestWithdrawal opens a pending request for the user's full balance and notifies the operator
func (s *LedgerService) RequestWithdrawal(ctx context.Context, userId string) (*models.WithdrawalResult, error) {
	result := &models.WithdrawalResult{}

	withdrawal, err := s.store.CreateWithdrawal(ctx, store.WithdrawalParams{
		UserId:  userId,
		Minimum: s.rewards.WithdrawMinMicro,
		Now:     s.now(),
	})
	if err != nil {
		if account, getErr := s.store.GetAccount(ctx, userId); getErr == nil {
			result.NewTotal = account.Total
		}
		return withdrawalOutcome("request", result, err)
	}

	result.Withdrawal = withdrawal
	result.NewTotal = withdrawal.Amount
	if s.notifier != nil {
		if err := s.notifier.WithdrawalRequested(ctx, withdrawal); err != nil {
			zap.L().Warn("Failed to notify operator of withdrawal request",
				zap.String("withdrawal_id", withdrawal.Id), zap.Error(err))
		}
	}
	return withdrawalOutcome("request", result, nil)
}

// ApproveWithdrawal debits the recorded amount and marks the request approved
func (s *LedgerService) ApproveWithdrawal(ctx context.Context, id string) (*models.WithdrawalResult, error) {
	result := &models.WithdrawalResult{}

	withdrawal, transaction, err := s.store.ApproveWithdrawal(ctx, id, s.now())
	if err != nil {
		return withdrawalOutcome("approve", result, err)
	}

	result.Withdrawal = withdrawal
	result.NewTotal = transaction.BalanceAfter
	s.mirrorTransaction(ctx, transaction)
	s.notifyProcessed(ctx, withdrawal)
	return withdrawalOutcome("approve", result, nil)
}

// RejectWithdrawal closes the request without moving the balance
func (s *LedgerService) RejectWithdrawal(ctx context.Context, id string) (*models.WithdrawalResult, error) {
	result := &models.WithdrawalResult{}

	withdrawal, err := s.store.RejectWithdrawal(ctx, id, s.now())
	if err != nil {
		return withdrawalOutcome("reject", result, err)
	}

	result.Withdrawal = withdrawal
	if account, err := s.store.GetAccount(ctx, withdrawal.UserId); err == nil {
		result.NewTotal = account.Total
	}
	s.notifyProcessed(ctx, withdrawal)
	return withdrawalOutcome("reject", result, nil)
}

func (s *LedgerService) ListPendingWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error) {
	return s.store.ListPendingWithdrawals(ctx)
}

func (s *LedgerService) notifyProcessed(ctx context.Context, withdrawal *models.WithdrawalRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.WithdrawalProcessed(ctx, withdrawal); err != nil {
		zap.L().Warn("Failed to notify withdrawal decision",
			zap.String("withdrawal_id", withdrawal.Id),
			zap.String("status", string(withdrawal.Status)),
			zap.Error(err))
	}
}
