package api

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reward-ledger-go/internal/database"
	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMirror struct {
	mu           sync.Mutex
	transactions []*models.Transaction
}

func (m *recordingMirror) Record(_ context.Context, transaction *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, transaction)
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	requested []string
	processed []models.WithdrawalStatus
}

func (n *recordingNotifier) WithdrawalRequested(_ context.Context, w *models.WithdrawalRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested = append(n.requested, w.Id)
	return nil
}

func (n *recordingNotifier) WithdrawalProcessed(_ context.Context, w *models.WithdrawalRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.processed = append(n.processed, w.Status)
	return nil
}

func testRewards() models.RewardsConfig {
	return models.RewardsConfig{
		AdRewardMicro:      10,
		DailyBonusMicro:    1,
		ReferralBonusMicro: 1,
		WithdrawMinMicro:   1000,
		MaxAdsPerDay:       10,
		WaitSeconds:        30,
		PayoutSharePercent: 80,
		Location:           time.UTC,
	}
}

type testEnv struct {
	svc      *LedgerService
	clock    *fakeClock
	mirror   *recordingMirror
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
		BusyTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	env := &testEnv{
		clock:    &fakeClock{now: time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)},
		mirror:   &recordingMirror{},
		notifier: &recordingNotifier{},
	}
	env.svc = NewLedgerService(db, testRewards(),
		WithClock(env.clock.Now),
		WithMirror(env.mirror),
		WithNotifier(env.notifier))
	return env
}

func (e *testEnv) register(t *testing.T, userId string) {
	t.Helper()
	_, state, err := e.svc.RegisterUser(context.Background(), userId, "", "")
	require.NoError(t, err)
	require.Equal(t, models.AccountNew, state)
}

func TestAdReward_RoundsHalfEven(t *testing.T) {
	tests := []struct {
		adReward int64
		want     int64
	}{
		{10, 8},
		{1, 1},   // 0.8
		{5, 4},   // 4.0
		{3, 2},   // 2.4
		{25, 20}, // 20.0
		{15, 12}, // 12.0
	}
	for _, tt := range tests {
		rewards := testRewards()
		rewards.AdRewardMicro = tt.adReward
		svc := NewLedgerService(nil, rewards)
		require.Equal(t, tt.want, svc.AdReward(), "ad reward %d", tt.adReward)
	}

	// 2.5 rounds to the even neighbour
	rewards := testRewards()
	rewards.AdRewardMicro = 5
	rewards.PayoutSharePercent = 50
	require.Equal(t, int64(2), NewLedgerService(nil, rewards).AdReward())
}

func TestSettleAdClaim_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "u1")

	token, err := env.svc.IssueToken(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, token, 16)

	click, err := env.svc.LookupToken(ctx, "u1", token)
	require.NoError(t, err)
	require.Equal(t, models.TokenIssued, click.State)

	env.clock.Advance(29 * time.Second)
	result, err := env.svc.SettleAdClaim(ctx, "u1", token)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "wait_not_elapsed", result.Reason)

	env.clock.Advance(time.Second)
	result, err = env.svc.SettleAdClaim(ctx, "u1", token)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, int64(8), result.Amount)
	require.Equal(t, int64(8), result.NewTotal)
	require.Equal(t, 1, result.AdsToday)

	result, err = env.svc.SettleAdClaim(ctx, "u1", token)
	require.NoError(t, err)
	require.Equal(t, "claim_already_settled", result.Reason)

	require.Len(t, env.mirror.transactions, 1)
}

func TestSettleAdClaim_ConcurrentQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "u1")

	// Seven ads already watched today leaves room for three
	for i := 0; i < 7; i++ {
		_, err := env.svc.RecordAdWatched(ctx, "u1")
		require.NoError(t, err)
	}

	tokens := make([]string, 10)
	for i := range tokens {
		token, err := env.svc.IssueToken(ctx, "u1")
		require.NoError(t, err)
		tokens[i] = token
	}
	env.clock.Advance(time.Minute)

	var wg sync.WaitGroup
	results := make([]*models.RewardResult, len(tokens))
	errs := make([]error, len(tokens))
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			results[i], errs[i] = env.svc.SettleAdClaim(ctx, "u1", token)
		}(i, token)
	}
	wg.Wait()

	var credited, limited int
	for i := range tokens {
		require.NoError(t, errs[i])
		if results[i].Success {
			credited++
		} else {
			require.Equal(t, "daily_limit_reached", results[i].Reason)
			limited++
		}
	}
	require.Equal(t, 3, credited)
	require.Equal(t, 7, limited)

	account, err := env.svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(24), account.Total)
	require.Equal(t, 10, account.AdsToday)
}

func TestCanWatchMore_AfterRollover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "u1")

	for i := 0; i < 10; i++ {
		_, err := env.svc.RecordAdWatched(ctx, "u1")
		require.NoError(t, err)
	}
	ok, err := env.svc.CanWatchMore(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)

	// The clock starts at 23:00 UTC, so two hours later is the next day
	env.clock.Advance(2 * time.Hour)
	ok, err = env.svc.CanWatchMore(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestToday_UsesLedgerTimezone(t *testing.T) {
	env := newTestEnv(t)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("time zone database unavailable: %v", err)
	}
	env.svc.rewards.Location = tokyo

	// 23:00 UTC on March 1st is already March 2nd in Tokyo
	require.Equal(t, "2025-03-02", env.svc.today())
}

func TestSettleOfferPostback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "u1")

	result, err := env.svc.SettleOfferPostback(ctx, "u1", "1.5", "offer-1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, int64(1200), result.Amount)

	result, err = env.svc.SettleOfferPostback(ctx, "u1", "1.5", "offer-1")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "duplicate_transaction", result.Reason)

	result, err = env.svc.SettleOfferPostback(ctx, "u1", "1.5", "")
	require.NoError(t, err)
	require.Equal(t, "invalid_postback", result.Reason)

	result, err = env.svc.SettleOfferPostback(ctx, "u1", "-1", "offer-2")
	require.NoError(t, err)
	require.Equal(t, "invalid_amount", result.Reason)

	result, err = env.svc.SettleOfferPostback(ctx, "ghost", "1", "offer-3")
	require.NoError(t, err)
	require.Equal(t, "unknown_user", result.Reason)

	// the share of this amount does not fit in int64 micro-units
	result, err = env.svc.SettleOfferPostback(ctx, "u1", "23058430092136939.52625", "offer-4")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "invalid_amount", result.Reason)

	account, err := env.svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1200), account.Offers)
	require.Equal(t, int64(1200), account.Total)
}

func TestClaimDailyBonus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "u1")

	result, err := env.svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, int64(1), result.Amount)

	claimed, err := env.svc.HasClaimedDailyBonus(ctx, "u1")
	require.NoError(t, err)
	require.True(t, claimed)

	result, err = env.svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "already_claimed_today", result.Reason)

	env.clock.Advance(24 * time.Hour)
	result, err = env.svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, int64(2), result.NewTotal)
}

func TestRegisterUser_Referral(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "referrer")

	account, state, err := env.svc.RegisterUser(ctx, "newbie", "bob", "referrer")
	require.NoError(t, err)
	require.Equal(t, models.AccountNew, state)
	require.Equal(t, "referrer", account.ReferredBy)

	_, state, err = env.svc.RegisterUser(ctx, "newbie", "bob", "referrer")
	require.NoError(t, err)
	require.Equal(t, models.AccountExisting, state)

	self, _, err := env.svc.RegisterUser(ctx, "selfish", "", "selfish")
	require.NoError(t, err)
	require.Empty(t, self.ReferredBy)
	require.Zero(t, self.Total)

	referrer, err := env.svc.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, int64(1), referrer.Referrals)
	require.Equal(t, 1, referrer.ReferralsCount)

	require.Len(t, env.mirror.transactions, 1)
	mirrored := env.mirror.transactions[0]
	require.Equal(t, "referrer", mirrored.UserId)
	require.Equal(t, models.CategoryReferrals, mirrored.Category)
	require.Equal(t, int64(1), mirrored.Amount)
}

func TestApplyReferral_OnlyOnCreation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "referrer")
	env.register(t, "veteran")

	applied, err := env.svc.ApplyReferral(ctx, "veteran", "referrer")
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = env.svc.ApplyReferral(ctx, "fresh", "referrer")
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = env.svc.ApplyReferral(ctx, "fresh", "referrer")
	require.NoError(t, err)
	require.False(t, applied)

	veteran, err := env.svc.GetAccount(ctx, "veteran")
	require.NoError(t, err)
	require.Empty(t, veteran.ReferredBy)

	referrer, err := env.svc.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	require.Equal(t, int64(1), referrer.Referrals)
	require.Equal(t, 1, referrer.ReferralsCount)
	require.Len(t, env.mirror.transactions, 1)
}

func TestValidatePostback(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.svc.ValidatePostback("u1", "1.5", "offer-1"))

	tests := []struct {
		name                 string
		userId, amount, txId string
		want                 error
	}{
		{"empty subid", "", "1", "t1", store.ErrInvalidPostback},
		{"subid with spaces", "a b", "1", "t1", store.ErrInvalidPostback},
		{"overlong subid", strings.Repeat("x", 65), "1", "t1", store.ErrInvalidPostback},
		{"missing txid", "u1", "1", " ", store.ErrInvalidPostback},
		{"overlong txid", "u1", "1", strings.Repeat("t", 129), store.ErrInvalidPostback},
		{"bad amount", "u1", "abc", "t1", store.ErrInvalidAmount},
		{"negative amount", "u1", "-2", "t1", store.ErrInvalidAmount},
		{"amount out of range", "u1", "23058430092136939.52625", "t1", store.ErrInvalidAmount},
		{"tiny exponent", "u1", "1e-999999999", "t1", store.ErrInvalidAmount},
		{"huge exponent", "u1", "1e999999999", "t1", store.ErrInvalidAmount},
		{"overlong amount", "u1", "0." + strings.Repeat("1", 45), "t1", store.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, env.svc.ValidatePostback(tt.userId, tt.amount, tt.txId), tt.want)
		})
	}
}

func TestWithdrawalWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "u1")

	result, err := env.svc.RequestWithdrawal(ctx, "u1")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "below_minimum_withdrawal", result.Reason)

	_, err = env.svc.SettleOfferPostback(ctx, "u1", "2", "offer-1")
	require.NoError(t, err)

	result, err = env.svc.RequestWithdrawal(ctx, "u1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, int64(1600), result.Withdrawal.Amount)

	pending, err := env.svc.ListPendingWithdrawals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	approved, err := env.svc.ApproveWithdrawal(ctx, result.Withdrawal.Id)
	require.NoError(t, err)
	require.True(t, approved.Success)
	require.Equal(t, models.WithdrawalApproved, approved.Withdrawal.Status)
	require.Zero(t, approved.NewTotal)

	again, err := env.svc.ApproveWithdrawal(ctx, result.Withdrawal.Id)
	require.NoError(t, err)
	require.Equal(t, "already_processed", again.Reason)

	rejected, err := env.svc.RejectWithdrawal(ctx, result.Withdrawal.Id)
	require.NoError(t, err)
	require.Equal(t, "already_processed", rejected.Reason)

	missing, err := env.svc.ApproveWithdrawal(ctx, "nope")
	require.NoError(t, err)
	require.Equal(t, "not_found", missing.Reason)

	account, err := env.svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, account.Total)
	require.Equal(t, int64(1600), account.TotalEarned)

	require.Equal(t, []string{result.Withdrawal.Id}, env.notifier.requested)
	require.Equal(t, []models.WithdrawalStatus{models.WithdrawalApproved}, env.notifier.processed)
	require.NoError(t, env.svc.ReconcileAccount(ctx, "u1"))
}

func TestLeaderboardAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, userId := range []string{"a", "b", "c"} {
		env.register(t, userId)
	}
	_, err := env.svc.Credit(ctx, "b", models.CategoryOffers, 30, "manual")
	require.NoError(t, err)
	_, err = env.svc.Credit(ctx, "c", models.CategoryAds, 20, "manual")
	require.NoError(t, err)

	top, err := env.svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	require.Equal(t, "b", top[0].UserId)
	require.Equal(t, "c", top[1].UserId)

	stats, err := env.svc.AdminStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalUsers)
	require.Zero(t, stats.PendingWithdrawals)

	history, err := env.svc.TransactionHistory(ctx, "b", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}
