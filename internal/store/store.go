package store

import (
	"context"
	"errors"
	"time"

	"reward-ledger-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrClaimNotFound          = errors.New("claim not found")
	ErrClaimAlreadySettled    = errors.New("claim already settled")
	ErrWaitNotElapsed         = errors.New("wait not elapsed")
	ErrDailyLimitReached      = errors.New("daily limit reached")
	ErrAlreadyClaimedToday    = errors.New("already claimed today")
	ErrBelowMinimumWithdrawal = errors.New("below minimum withdrawal")
	ErrAlreadyProcessed       = errors.New("withdrawal already processed")
	ErrWithdrawalNotFound     = errors.New("withdrawal not found")
	ErrUnknownUser            = errors.New("unknown user")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrInvalidPostback        = errors.New("invalid postback")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUnavailable            = errors.New("ledger unavailable")
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrClaimNotFound, "claim_not_found"},
	{ErrClaimAlreadySettled, "claim_already_settled"},
	{ErrWaitNotElapsed, "wait_not_elapsed"},
	{ErrDailyLimitReached, "daily_limit_reached"},
	{ErrAlreadyClaimedToday, "already_claimed_today"},
	{ErrBelowMinimumWithdrawal, "below_minimum_withdrawal"},
	{ErrAlreadyProcessed, "already_processed"},
	{ErrWithdrawalNotFound, "not_found"},
	{ErrUnknownUser, "unknown_user"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrDuplicateTransaction, "duplicate_transaction"},
	{ErrInvalidPostback, "invalid_postback"},
	{ErrConcurrentModification, "unavailable"},
	{ErrUnavailable, "unavailable"},
}

// Reason maps an error to the rejection code reported back to callers.
// Errors outside the ledger's vocabulary map to "internal".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "internal"
}

// IsRejection reports whether err is an expected, user-facing condition rather than a failure.
func IsRejection(err error) bool {
	switch Reason(err) {
	case "", "internal", "unavailable":
		return false
	}
	return true
}

// CreateAccountParams contains the parameters for first contact with a user.
type CreateAccountParams struct {
	UserId        string
	Username      string
	ReferrerId    string
	ReferralBonus int64
	Now           time.Time
}

// Registration is the committed result of first contact. Referral is the referrer's
// credit when this registration applied one, nil otherwise.
type Registration struct {
	Account  *models.Account
	State    models.AccountState
	Referral *models.Transaction
}

// CreditParams contains the parameters for crediting a bucket.
type CreditParams struct {
	UserId       string
	Category     models.Category
	Amount       int64
	ExternalTxId string
	Reference    string
	Now          time.Time
}

// SettleAdClaimParams carries everything the ad-watch settlement needs to decide eligibility.
type SettleAdClaimParams struct {
	UserId string
	Token  string
	Now    time.Time
	Today  string
	Wait   time.Duration
	MaxAds int
	Reward int64
}

// AdSettlement is the committed result of an ad-watch claim.
type AdSettlement struct {
	Transaction *models.Transaction
	Click       *models.ClickRecord
	AdsToday    int
}

// DailyBonusParams contains the parameters for an atomic daily bonus claim.
type DailyBonusParams struct {
	UserId string
	Today  string
	Amount int64
	Now    time.Time
}

// WithdrawalParams contains the parameters for opening a withdrawal request.
type WithdrawalParams struct {
	UserId  string
	Minimum int64
	Now     time.Time
}

// LedgerStore defines the contract that every backend must satisfy.
type LedgerStore interface {
	// --- Accounts ---
	CreateAccount(ctx context.Context, params CreateAccountParams) (*Registration, error)
	GetAccount(ctx context.Context, userId string) (*models.Account, error)

	// --- Click ledger ---
	RecordClick(ctx context.Context, userId, token string, issuedAt time.Time) (*models.ClickRecord, error)
	LookupClick(ctx context.Context, userId, token string) (*models.ClickRecord, error)

	// --- Quotas ---
	CanWatchMore(ctx context.Context, userId, today string, limit int) (bool, error)
	RecordAdWatched(ctx context.Context, userId, today string) (int, error)
	HasClaimedDailyBonus(ctx context.Context, userId, today string) (bool, error)
	MarkDailyBonusClaimed(ctx context.Context, userId, today string) error

	// --- Ledger ---
	Credit(ctx context.Context, params CreditParams) (*models.Transaction, error)
	Debit(ctx context.Context, userId string, amount int64, reference string, now time.Time) (*models.Transaction, error)
	SettleAdClaim(ctx context.Context, params SettleAdClaimParams) (*AdSettlement, error)
	ClaimDailyBonus(ctx context.Context, params DailyBonusParams) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)
	ReconcileAccount(ctx context.Context, userId string) error

	// --- Withdrawals ---
	CreateWithdrawal(ctx context.Context, params WithdrawalParams) (*models.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, id string, now time.Time) (*models.WithdrawalRequest, *models.Transaction, error)
	RejectWithdrawal(ctx context.Context, id string, now time.Time) (*models.WithdrawalRequest, error)
	ListPendingWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error)

	// --- Admin views ---
	TopAccounts(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	Stats(ctx context.Context) (*models.LedgerStats, error)

	// --- Lifecycle ---
	Close()
}
