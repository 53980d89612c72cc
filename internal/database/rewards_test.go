package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reward-ledger-go/internal/store"
)

func settleParams(userId, token string, now time.Time) store.SettleAdClaimParams {
	return store.SettleAdClaimParams{
		UserId: userId,
		Token:  token,
		Now:    now,
		Today:  now.Format("2006-01-02"),
		Wait:   30 * time.Second,
		MaxAds: 10,
		Reward: 8,
	}
}

func issueTestClick(t *testing.T, service *Service, userId, token string, at time.Time) {
	t.Helper()
	if _, err := service.RecordClick(context.Background(), userId, token, at); err != nil {
		t.Fatalf("RecordClick failed: %v", err)
	}
}

func TestSettleAdClaim_WaitBoundary(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "u1")
	issueTestClick(t, service, "u1", "tok", testNow)

	_, err := service.SettleAdClaim(ctx, settleParams("u1", "tok", testNow.Add(29*time.Second)))
	if !errors.Is(err, store.ErrWaitNotElapsed) {
		t.Fatalf("Expected ErrWaitNotElapsed at 29s, got %v", err)
	}

	click, err := service.LookupClick(ctx, "u1", "tok")
	if err != nil {
		t.Fatalf("LookupClick failed: %v", err)
	}
	if click.State != "issued" {
		t.Errorf("Expected early claim to leave token issued, got %s", click.State)
	}

	settlement, err := service.SettleAdClaim(ctx, settleParams("u1", "tok", testNow.Add(30*time.Second)))
	if err != nil {
		t.Fatalf("Expected claim at 30s to succeed, got %v", err)
	}
	if settlement.Transaction.Amount != 8 || settlement.AdsToday != 1 {
		t.Errorf("Expected reward 8 and ads_today 1, got %d and %d", settlement.Transaction.Amount, settlement.AdsToday)
	}
	if settlement.Click.State != "consumed" || settlement.Click.ConsumedAt == nil {
		t.Errorf("Expected consumed click, got %+v", settlement.Click)
	}

	account, _ := service.GetAccount(ctx, "u1")
	if account.Ads != 8 || account.Total != 8 {
		t.Errorf("Expected ads=total=8, got ads=%d total=%d", account.Ads, account.Total)
	}
}

func TestSettleAdClaim_NotFoundAndAlreadySettled(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "u1")
	createTestAccount(t, service, "u2")
	issueTestClick(t, service, "u1", "tok", testNow)

	later := testNow.Add(time.Minute)
	if _, err := service.SettleAdClaim(ctx, settleParams("u1", "other", later)); !errors.Is(err, store.ErrClaimNotFound) {
		t.Errorf("Expected ErrClaimNotFound for unknown token, got %v", err)
	}
	if _, err := service.SettleAdClaim(ctx, settleParams("u2", "tok", later)); !errors.Is(err, store.ErrClaimNotFound) {
		t.Errorf("Expected ErrClaimNotFound for another user's token, got %v", err)
	}

	if _, err := service.SettleAdClaim(ctx, settleParams("u1", "tok", later)); err != nil {
		t.Fatalf("First settle failed: %v", err)
	}
	if _, err := service.SettleAdClaim(ctx, settleParams("u1", "tok", later)); !errors.Is(err, store.ErrClaimAlreadySettled) {
		t.Errorf("Expected ErrClaimAlreadySettled, got %v", err)
	}

	account, _ := service.GetAccount(ctx, "u1")
	if account.Total != 8 || account.AdsToday != 1 {
		t.Errorf("Expected a single payout, got total=%d ads_today=%d", account.Total, account.AdsToday)
	}
}

func TestSettleAdClaim_DailyLimitAndRollover(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "u1")

	for i := 0; i < 10; i++ {
		token := string(rune('a' + i))
		issueTestClick(t, service, "u1", token, testNow)
		if _, err := service.SettleAdClaim(ctx, settleParams("u1", token, testNow.Add(time.Minute))); err != nil {
			t.Fatalf("Settle %d failed: %v", i, err)
		}
	}

	issueTestClick(t, service, "u1", "eleventh", testNow)
	_, err := service.SettleAdClaim(ctx, settleParams("u1", "eleventh", testNow.Add(time.Minute)))
	if !errors.Is(err, store.ErrDailyLimitReached) {
		t.Fatalf("Expected ErrDailyLimitReached, got %v", err)
	}

	click, _ := service.LookupClick(ctx, "u1", "eleventh")
	if click.State != "issued" {
		t.Errorf("Expected limited claim to leave token issued, got %s", click.State)
	}

	// The same token pays out once the date rolls over
	tomorrow := testNow.Add(24 * time.Hour)
	settlement, err := service.SettleAdClaim(ctx, settleParams("u1", "eleventh", tomorrow))
	if err != nil {
		t.Fatalf("Expected claim after rollover to succeed, got %v", err)
	}
	if settlement.AdsToday != 1 {
		t.Errorf("Expected ads_today reset to 1, got %d", settlement.AdsToday)
	}

	account, _ := service.GetAccount(ctx, "u1")
	if account.Total != 88 || account.LastQuotaResetDate != tomorrow.Format("2006-01-02") {
		t.Errorf("Expected total 88 on %s, got %d on %s",
			tomorrow.Format("2006-01-02"), account.Total, account.LastQuotaResetDate)
	}
}

func TestSettleAdClaim_ConcurrentClaimsPayOnce(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "u1")
	issueTestClick(t, service, "u1", "tok", testNow)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, settled int
	var unexpected []error

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.SettleAdClaim(ctx, settleParams("u1", "tok", testNow.Add(time.Minute)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrClaimAlreadySettled):
				settled++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("Unexpected errors: %v", unexpected)
	}
	if successes != 1 || settled != 9 {
		t.Errorf("Expected 1 success and 9 already-settled, got %d and %d", successes, settled)
	}

	account, _ := service.GetAccount(ctx, "u1")
	if account.Total != 8 {
		t.Errorf("Expected total 8, got %d", account.Total)
	}
}

func TestLookupClick_MostRecentWins(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "u1")
	issueTestClick(t, service, "u1", "tok", testNow)
	issueTestClick(t, service, "u1", "tok", testNow.Add(time.Minute))

	click, err := service.LookupClick(ctx, "u1", "tok")
	if err != nil {
		t.Fatalf("LookupClick failed: %v", err)
	}
	if !click.IssuedAt.Equal(testNow.Add(time.Minute)) {
		t.Errorf("Expected most recent issue time, got %v", click.IssuedAt)
	}

	missing, err := service.LookupClick(ctx, "u1", "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil record and nil error, got %+v, %v", missing, err)
	}
}

func TestRecordClick_UnknownUser(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	if _, err := service.RecordClick(context.Background(), "ghost", "tok", testNow); !errors.Is(err, store.ErrUnknownUser) {
		t.Errorf("Expected ErrUnknownUser, got %v", err)
	}
}

func TestQuotaOperations(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "u1")

	ok, err := service.CanWatchMore(ctx, "u1", "2025-03-01", 2)
	if err != nil || !ok {
		t.Fatalf("Expected fresh account to watch more, got %v, %v", ok, err)
	}

	for want := 1; want <= 2; want++ {
		got, err := service.RecordAdWatched(ctx, "u1", "2025-03-01")
		if err != nil {
			t.Fatalf("RecordAdWatched failed: %v", err)
		}
		if got != want {
			t.Errorf("Expected ads_today %d, got %d", want, got)
		}
	}

	if ok, _ := service.CanWatchMore(ctx, "u1", "2025-03-01", 2); ok {
		t.Errorf("Expected quota to be exhausted")
	}
	if ok, _ := service.CanWatchMore(ctx, "u1", "2025-03-02", 2); !ok {
		t.Errorf("Expected a new day to reset the quota")
	}

	got, err := service.RecordAdWatched(ctx, "u1", "2025-03-02")
	if err != nil || got != 1 {
		t.Errorf("Expected ads_today 1 on a new day, got %d, %v", got, err)
	}
}

func TestDailyBonus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "u1")

	params := store.DailyBonusParams{UserId: "u1", Today: "2025-03-01", Amount: 1, Now: testNow}
	if _, err := service.ClaimDailyBonus(ctx, params); err != nil {
		t.Fatalf("ClaimDailyBonus failed: %v", err)
	}
	if _, err := service.ClaimDailyBonus(ctx, params); !errors.Is(err, store.ErrAlreadyClaimedToday) {
		t.Fatalf("Expected ErrAlreadyClaimedToday, got %v", err)
	}

	claimed, err := service.HasClaimedDailyBonus(ctx, "u1", "2025-03-01")
	if err != nil || !claimed {
		t.Errorf("Expected bonus to be marked claimed, got %v, %v", claimed, err)
	}

	params.Today = "2025-03-02"
	params.Now = testNow.Add(24 * time.Hour)
	if _, err := service.ClaimDailyBonus(ctx, params); err != nil {
		t.Fatalf("Next-day claim failed: %v", err)
	}

	account, _ := service.GetAccount(ctx, "u1")
	if account.Bonus != 2 || account.Total != 2 {
		t.Errorf("Expected bonus=total=2, got bonus=%d total=%d", account.Bonus, account.Total)
	}
}

func TestMarkDailyBonusClaimed(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	createTestAccount(t, service, "u1")

	if claimed, _ := service.HasClaimedDailyBonus(ctx, "u1", "2025-03-01"); claimed {
		t.Fatalf("Expected no claim yet")
	}
	if err := service.MarkDailyBonusClaimed(ctx, "u1", "2025-03-01"); err != nil {
		t.Fatalf("MarkDailyBonusClaimed failed: %v", err)
	}
	if claimed, _ := service.HasClaimedDailyBonus(ctx, "u1", "2025-03-01"); !claimed {
		t.Errorf("Expected claim to be recorded")
	}
	if err := service.MarkDailyBonusClaimed(ctx, "ghost", "2025-03-01"); !errors.Is(err, store.ErrUnknownUser) {
		t.Errorf("Expected ErrUnknownUser, got %v", err)
	}
}
