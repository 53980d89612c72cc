package models

import "time"

// Category tags a balance bucket and the journal entries that move it
type Category string

const (
	CategoryAds        Category = "ads"
	CategoryOffers     Category = "offers"
	CategoryReferrals  Category = "referrals"
	CategoryBonus      Category = "bonus"
	CategoryWithdrawal Category = "withdrawal"
)

// CreditCategories lists the buckets a credit may target, in withdrawal drain order.
var CreditCategories = []Category{CategoryBonus, CategoryReferrals, CategoryOffers, CategoryAds}

// IsCredit reports whether c names a credit bucket
func (c Category) IsCredit() bool {
	switch c {
	case CategoryAds, CategoryOffers, CategoryReferrals, CategoryBonus:
		return true
	}
	return false
}

// Column returns the accounts column holding the bucket for c
func (c Category) Column() string {
	switch c {
	case CategoryAds:
		return "ads_micro"
	case CategoryOffers:
		return "offers_micro"
	case CategoryReferrals:
		return "referrals_micro"
	case CategoryBonus:
		return "bonus_micro"
	}
	return ""
}

// Account represents a user's reward balance and quota state
type Account struct {
	UserId             string    `db:"user_id" json:"user_id"`
	Username           string    `db:"username" json:"username,omitempty"`
	Total              int64     `db:"total_micro" json:"total_micro"`
	Ads                int64     `db:"ads_micro" json:"ads_micro"`
	Offers             int64     `db:"offers_micro" json:"offers_micro"`
	Referrals          int64     `db:"referrals_micro" json:"referrals_micro"`
	Bonus              int64     `db:"bonus_micro" json:"bonus_micro"`
	TotalEarned        int64     `db:"total_earned_micro" json:"total_earned_micro"`
	ReferredBy         string    `db:"referred_by" json:"referred_by,omitempty"`
	ReferralsCount     int       `db:"referrals_count" json:"referrals_count"`
	LastDailyBonusDate string    `db:"last_daily_bonus_date" json:"last_daily_bonus_date,omitempty"`
	LastQuotaResetDate string    `db:"last_quota_reset_date" json:"last_quota_reset_date,omitempty"`
	AdsToday           int       `db:"ads_today" json:"ads_today"`
	Version            int64     `db:"version" json:"-"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Bucket returns the sub-balance for a credit category
func (a *Account) Bucket(c Category) int64 {
	switch c {
	case CategoryAds:
		return a.Ads
	case CategoryOffers:
		return a.Offers
	case CategoryReferrals:
		return a.Referrals
	case CategoryBonus:
		return a.Bonus
	}
	return 0
}

// BucketSum is the sum of all credit buckets; it must always equal Total
func (a *Account) BucketSum() int64 {
	return a.Ads + a.Offers + a.Referrals + a.Bonus
}

// AccountState tells a caller whether RegisterUser created the account
type AccountState string

const (
	AccountNew      AccountState = "new"
	AccountExisting AccountState = "existing"
)

// TokenState tracks whether a click token has been settled
type TokenState string

const (
	TokenIssued   TokenState = "issued"
	TokenConsumed TokenState = "consumed"
)

// ClickRecord is one ad-watch attempt (audit trail, never deleted)
type ClickRecord struct {
	Id         int64      `db:"id" json:"id"`
	UserId     string     `db:"user_id" json:"user_id"`
	Token      string     `db:"token" json:"token"`
	IssuedAt   time.Time  `db:"issued_at" json:"issued_at"`
	State      TokenState `db:"state" json:"state"`
	ConsumedAt *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
}

// Transaction represents an immutable journal entry for one balance mutation
type Transaction struct {
	Id                    string    `db:"id" json:"id"`
	UserId                string    `db:"user_id" json:"user_id"`
	Category              Category  `db:"category" json:"category"`
	Amount                int64     `db:"amount_micro" json:"amount_micro"`
	BalanceBefore         int64     `db:"balance_before" json:"balance_before"`
	BalanceAfter          int64     `db:"balance_after" json:"balance_after"`
	ExternalTransactionId string    `db:"external_transaction_id" json:"external_transaction_id,omitempty"`
	Reference             string    `db:"reference" json:"reference,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// JournalEntry is one leg of the double-entry record behind a Transaction
type JournalEntry struct {
	Id            string `db:"id"`
	TransactionId string `db:"transaction_id"`
	AccountType   string `db:"account_type"`
	AccountId     string `db:"account_id"`
	DebitAmount   int64  `db:"debit_micro"`
	CreditAmount  int64  `db:"credit_micro"`
}

// WithdrawalStatus is the state of a withdrawal request
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// WithdrawalRequest is a cash-out request for the full balance at request time
type WithdrawalRequest struct {
	Id          string           `db:"id" json:"id"`
	UserId      string           `db:"user_id" json:"user_id"`
	Amount      int64            `db:"amount_micro" json:"amount_micro"`
	Status      WithdrawalStatus `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
}

// LeaderboardEntry is one row of the top-balances view
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserId   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Total    int64  `json:"total_micro"`
}

// LedgerStats is the aggregate admin view
type LedgerStats struct {
	TotalUsers         int `json:"total_users"`
	PendingWithdrawals int `json:"pending_withdrawals"`
}
