package database

import (
	"context"
	"errors"
	"testing"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"
)

func TestCreateAccount_NewThenExisting(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	params := store.CreateAccountParams{UserId: "u1", Username: "alice", Now: testNow}

	reg, err := service.CreateAccount(ctx, params)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if reg.State != models.AccountNew {
		t.Errorf("Expected new account, got %s", reg.State)
	}
	if reg.Account.Total != 0 || reg.Account.Username != "alice" || reg.Referral != nil {
		t.Errorf("Unexpected new account: %+v", reg)
	}

	reg, err = service.CreateAccount(ctx, params)
	if err != nil {
		t.Fatalf("Second CreateAccount failed: %v", err)
	}
	if reg.State != models.AccountExisting {
		t.Errorf("Expected existing account, got %s", reg.State)
	}
}

func TestCreateAccount_ReferralCreditsReferrerOnce(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "referrer")

	params := store.CreateAccountParams{UserId: "newbie", ReferrerId: "referrer", ReferralBonus: 1, Now: testNow}
	reg, err := service.CreateAccount(ctx, params)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if reg.Account.ReferredBy != "referrer" {
		t.Errorf("Expected referred_by=referrer, got %q", reg.Account.ReferredBy)
	}
	if reg.Referral == nil || reg.Referral.UserId != "referrer" || reg.Referral.Category != models.CategoryReferrals || reg.Referral.Amount != 1 {
		t.Fatalf("Expected the referrer's credit to be returned, got %+v", reg.Referral)
	}

	// Registering again must not pay again
	reg, err = service.CreateAccount(ctx, params)
	if err != nil {
		t.Fatalf("Repeat CreateAccount failed: %v", err)
	}
	if reg.Referral != nil {
		t.Errorf("Expected no referral on repeat registration, got %+v", reg.Referral)
	}

	referrer, _ := service.GetAccount(ctx, "referrer")
	if referrer.Referrals != 1 || referrer.ReferralsCount != 1 {
		t.Errorf("Expected one referral credit, got referrals=%d count=%d", referrer.Referrals, referrer.ReferralsCount)
	}
}

func TestCreateAccount_IgnoredReferrals(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()

	self, err := service.CreateAccount(ctx, store.CreateAccountParams{UserId: "u1", ReferrerId: "u1", ReferralBonus: 1, Now: testNow})
	if err != nil {
		t.Fatalf("Self-referral CreateAccount failed: %v", err)
	}
	if self.Account.ReferredBy != "" || self.Account.Total != 0 || self.Referral != nil {
		t.Errorf("Expected self-referral to be ignored, got %+v", self)
	}

	orphan, err := service.CreateAccount(ctx, store.CreateAccountParams{UserId: "u2", ReferrerId: "ghost", ReferralBonus: 1, Now: testNow})
	if err != nil {
		t.Fatalf("Unknown-referrer CreateAccount failed: %v", err)
	}
	if orphan.Account.ReferredBy != "" || orphan.Referral != nil {
		t.Errorf("Expected unknown referrer to be ignored, got %+v", orphan)
	}
}

func TestCreateAccount_ReferralOnlyAtCreation(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "a")
	createTestAccount(t, service, "b")
	createTestAccount(t, service, "c")

	// c already exists, so naming a referrer later does nothing
	reg, err := service.CreateAccount(ctx, store.CreateAccountParams{UserId: "c", ReferrerId: "a", ReferralBonus: 1, Now: testNow})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if reg.State != models.AccountExisting || reg.Referral != nil || reg.Account.ReferredBy != "" {
		t.Errorf("Expected existing account to stay unreferred, got %+v", reg)
	}

	a, _ := service.GetAccount(ctx, "a")
	if a.Total != 0 || a.ReferralsCount != 0 {
		t.Errorf("Expected a to earn nothing, got total=%d count=%d", a.Total, a.ReferralsCount)
	}
}

func TestGetAccount_Unknown(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	if _, err := service.GetAccount(context.Background(), "ghost"); !errors.Is(err, store.ErrUnknownUser) {
		t.Errorf("Expected ErrUnknownUser, got %v", err)
	}
}

func TestTopAccountsAndStats(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	for userId, amount := range map[string]int64{"low": 5, "high": 50, "mid": 20} {
		createTestAccount(t, service, userId)
		if _, err := service.Credit(ctx, store.CreditParams{UserId: userId, Category: models.CategoryAds, Amount: amount, Now: testNow}); err != nil {
			t.Fatalf("Credit failed: %v", err)
		}
	}

	top, err := service.TopAccounts(ctx, 2)
	if err != nil {
		t.Fatalf("TopAccounts failed: %v", err)
	}
	if len(top) != 2 || top[0].UserId != "high" || top[1].UserId != "mid" {
		t.Fatalf("Unexpected leaderboard: %+v", top)
	}
	if top[0].Rank != 1 || top[1].Rank != 2 {
		t.Errorf("Expected ranks 1 and 2, got %d and %d", top[0].Rank, top[1].Rank)
	}

	if _, err := service.CreateWithdrawal(ctx, store.WithdrawalParams{UserId: "high", Minimum: 10, Now: testNow}); err != nil {
		t.Fatalf("CreateWithdrawal failed: %v", err)
	}

	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalUsers != 3 || stats.PendingWithdrawals != 1 {
		t.Errorf("Expected 3 users and 1 pending withdrawal, got %+v", stats)
	}
}
