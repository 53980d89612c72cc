package formance

import (
	"context"
	"fmt"
	"strconv"

	"reward-ledger-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. All metadata is set inside the script via set_tx_meta()
// so the Formance transaction is fully self-describing.
// ---------------------------------------------------------------------------

const numscriptRewardCredit = `vars {
  asset $asset
  number $amount
  account $source
  account $destination
  string $user_id
  string $category
  string $local_tx_id
  string $reference
}

send [$asset $amount] (
  source = $source allowing unbounded overdraft
  destination = $destination
)

set_tx_meta("event_type", "reward_credit")
set_tx_meta("user_id", $user_id)
set_tx_meta("category", $category)
set_tx_meta("local_tx_id", $local_tx_id)
set_tx_meta("reference", $reference)
`

// Sources are listed in drain order so Formance empties the buckets exactly as the
// local ledger does.
const numscriptWithdrawal = `vars {
  asset $asset
  number $amount
  account $bonus
  account $referrals
  account $offers
  account $ads
  string $user_id
  string $local_tx_id
  string $reference
}

send [$asset $amount] (
  source = {
    $bonus
    $referrals
    $offers
    $ads
  }
  destination = @withdrawals:payable
)

set_tx_meta("event_type", "withdrawal_approved")
set_tx_meta("user_id", $user_id)
set_tx_meta("local_tx_id", $local_tx_id)
set_tx_meta("reference", $reference)
`

// postTransaction builds the Formance request for a committed local transaction
func postTransaction(transaction *models.Transaction) (shared.V2PostTransaction, error) {
	postTx := shared.V2PostTransaction{
		Reference: strPtr(transaction.Id),
	}
	if !transaction.CreatedAt.IsZero() {
		ts := transaction.CreatedAt
		postTx.Timestamp = &ts
	}

	switch {
	case transaction.Category.IsCredit():
		postTx.Script = &shared.V2PostTransactionScript{
			Plain: numscriptRewardCredit,
			Vars: map[string]string{
				"asset":       formanceAsset(),
				"amount":      strconv.FormatInt(transaction.Amount, 10),
				"source":      fmt.Sprintf("rewards:%s", transaction.Category),
				"destination": bucketAddress(transaction.UserId, transaction.Category),
				"user_id":     transaction.UserId,
				"category":    string(transaction.Category),
				"local_tx_id": transaction.Id,
				"reference":   transaction.Reference,
			},
		}
	case transaction.Category == models.CategoryWithdrawal:
		postTx.Script = &shared.V2PostTransactionScript{
			Plain: numscriptWithdrawal,
			Vars: map[string]string{
				"asset":       formanceAsset(),
				"amount":      strconv.FormatInt(-transaction.Amount, 10),
				"bonus":       bucketAddress(transaction.UserId, models.CategoryBonus),
				"referrals":   bucketAddress(transaction.UserId, models.CategoryReferrals),
				"offers":      bucketAddress(transaction.UserId, models.CategoryOffers),
				"ads":         bucketAddress(transaction.UserId, models.CategoryAds),
				"user_id":     transaction.UserId,
				"local_tx_id": transaction.Id,
				"reference":   transaction.Reference,
			},
		}
	default:
		return postTx, fmt.Errorf("unsupported transaction category %q", transaction.Category)
	}
	return postTx, nil
}

// Record posts one committed transaction. The local transaction id is the Formance
// reference, so replays are absorbed as conflicts.
func (s *Service) Record(ctx context.Context, transaction *models.Transaction) error {
	postTx, err := postTransaction(transaction)
	if err != nil {
		return err
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Debug("Transaction already mirrored", zap.String("transaction_id", transaction.Id))
			return nil
		}
		return fmt.Errorf("error mirroring transaction %s: %w", transaction.Id, err)
	}

	zap.L().Debug("Transaction mirrored to Formance",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", transaction.UserId),
		zap.String("category", string(transaction.Category)),
		zap.Int64("amount_micro", transaction.Amount))
	return nil
}
