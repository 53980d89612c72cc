package formance

import (
	"context"
	"fmt"
	"math/big"

	"reward-ledger-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// GetBucketBalances returns the mirrored balance of every credit bucket for a user.
// Accounts that were never used come back as zero.
func (s *Service) GetBucketBalances(ctx context.Context, userId string) (map[models.Category]int64, error) {
	zap.L().Debug("Getting bucket balances from Formance", zap.String("user_id", userId))

	balances := make(map[models.Category]int64, len(models.CreditCategories))
	for _, category := range models.CreditCategories {
		vols, err := s.getAccountVolumes(ctx, bucketAddress(userId, category))
		if err != nil {
			return nil, err
		}
		if bal := volumeBalance(vols, formanceAsset()); bal != nil {
			if !bal.IsInt64() {
				return nil, fmt.Errorf("balance of %s overflows int64", bucketAddress(userId, category))
			}
			balances[category] = bal.Int64()
		} else {
			balances[category] = 0
		}
	}
	return balances, nil
}

// CompareAccount checks the mirrored buckets against a local account
func (s *Service) CompareAccount(ctx context.Context, account *models.Account) error {
	mirrored, err := s.GetBucketBalances(ctx, account.UserId)
	if err != nil {
		return err
	}
	for _, category := range models.CreditCategories {
		if mirrored[category] != account.Bucket(category) {
			zap.L().Warn("Formance mirror drift",
				zap.String("user_id", account.UserId),
				zap.String("category", string(category)),
				zap.Int64("local_micro", account.Bucket(category)),
				zap.Int64("formance_micro", mirrored[category]))
			return fmt.Errorf("mirror mismatch for %s/%s: local=%d formance=%d",
				account.UserId, category, account.Bucket(category), mirrored[category])
		}
	}
	return nil
}

// getAccountVolumes fetches volumes for a single account via GetAccount (clean GET).
func (s *Service) getAccountVolumes(ctx context.Context, address string) (map[string]shared.V2Volume, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account volumes for %s: %w", address, err)
	}
	return resp.V2AccountResponse.Data.Volumes, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
