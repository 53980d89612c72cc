package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reward-ledger-go/internal/api"
	"reward-ledger-go/internal/database"
	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/ratelimit"

	"github.com/stretchr/testify/require"
)

const testAdmin = "admin-1"

func newTestServer(t *testing.T, limiter ratelimit.Limiter) (*httptest.Server, *api.LedgerService) {
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

	svc := api.NewLedgerService(db, models.RewardsConfig{
		AdRewardMicro:      10,
		DailyBonusMicro:    1,
		ReferralBonusMicro: 1,
		WithdrawMinMicro:   1000,
		MaxAdsPerDay:       10,
		WaitSeconds:        30,
		PayoutSharePercent: 80,
		Location:           time.UTC,
	})

	ts := httptest.NewServer(NewServer(svc, limiter, testAdmin).Router())
	t.Cleanup(ts.Close)
	return ts, svc
}

func get(t *testing.T, url string, header map[string]string) (*http.Response, string) {
	t.Helper()
	return do(t, http.MethodGet, url, header)
}

func do(t *testing.T, method, url string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestPostback(t *testing.T) {
	ts, svc := newTestServer(t, nil)
	ctx := context.Background()

	resp, body := get(t, ts.URL+"/postback?amount=1.5&txid=t1", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Missing subid", body)

	stats, err := svc.AdminStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalUsers)

	resp, body = get(t, ts.URL+"/postback?subid=42&amount=1.5&txid=t1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", body)

	account, err := svc.GetAccount(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, int64(1200), account.Offers)
	require.Equal(t, int64(1200), account.Total)

	resp, body = get(t, ts.URL+"/postback?subid=42&amount=1.5&txid=t1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "DUPLICATE", body)

	account, err = svc.GetAccount(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, int64(1200), account.Total)
}

func TestPostback_Rejections(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/postback?subid=42&amount=1.5", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_postback", body)

	resp, body = get(t, ts.URL+"/postback?subid=42&amount=abc&txid=t2", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_amount", body)

	resp, body = get(t, ts.URL+"/postback?subid=42&amount=-1&txid=t3", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_amount", body)
}

func TestPostback_RejectedCreatesNoAccount(t *testing.T) {
	ts, svc := newTestServer(t, nil)
	ctx := context.Background()

	for _, query := range []string{
		"subid=ghost&amount=abc&txid=t1",
		"subid=ghost&amount=1.5",
		"subid=ghost&amount=23058430092136939.52625&txid=t2",
		"subid=a%20b&amount=1&txid=t3",
		"subid=" + strings.Repeat("x", 65) + "&amount=1&txid=t4",
	} {
		resp, _ := get(t, ts.URL+"/postback?"+query, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}

	stats, err := svc.AdminStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalUsers)

	_, err = svc.GetAccount(ctx, "ghost")
	require.Error(t, err)
}

func TestPostback_RateLimited(t *testing.T) {
	ts, _ := newTestServer(t, ratelimit.NewLocalLimiter(1, time.Hour))

	resp, _ := get(t, ts.URL+"/postback?subid=42&amount=0.1&txid=a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/postback?subid=42&amount=0.1&txid=b", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestAccountAndLeaderboard(t *testing.T) {
	ts, svc := newTestServer(t, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, _, err := svc.RegisterUser(ctx, id, "user-"+id, "")
		require.NoError(t, err)
	}
	_, err := svc.Credit(ctx, "b", models.CategoryBonus, 500, "seed")
	require.NoError(t, err)

	resp, body := get(t, ts.URL+"/api/v1/accounts/b", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var account models.Account
	require.NoError(t, json.Unmarshal([]byte(body), &account))
	require.Equal(t, int64(500), account.Bonus)

	resp, _ = get(t, ts.URL+"/api/v1/accounts/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, ts.URL+"/api/v1/leaderboard?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []models.LeaderboardEntry
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "b", entries[0].UserId)
	require.Equal(t, 1, entries[0].Rank)

	resp, _ = get(t, ts.URL+"/api/v1/leaderboard?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRoutes(t *testing.T) {
	ts, svc := newTestServer(t, nil)
	ctx := context.Background()
	admin := map[string]string{AdminHeader: testAdmin}

	resp, _ := get(t, ts.URL+"/api/v1/admin/stats", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/v1/admin/stats", map[string]string{AdminHeader: "someone-else"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, _, err := svc.RegisterUser(ctx, "u1", "", "")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "u1", models.CategoryAds, 2000, "seed")
	require.NoError(t, err)
	requested, err := svc.RequestWithdrawal(ctx, "u1")
	require.NoError(t, err)
	require.True(t, requested.Success)
	id := requested.Withdrawal.Id

	resp, body := get(t, ts.URL+"/api/v1/admin/stats", admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats models.LedgerStats
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	require.Equal(t, 1, stats.TotalUsers)
	require.Equal(t, 1, stats.PendingWithdrawals)

	resp, body = get(t, ts.URL+"/api/v1/admin/withdrawals", admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending []models.WithdrawalRequest
	require.NoError(t, json.Unmarshal([]byte(body), &pending))
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].Id)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/admin/withdrawals/"+id+"/approve", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/admin/withdrawals/"+id+"/approve", admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result models.WithdrawalResult
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	require.True(t, result.Success)
	require.Equal(t, models.WithdrawalApproved, result.Withdrawal.Status)
	require.Equal(t, int64(0), result.NewTotal)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/admin/withdrawals/"+id+"/reject", admin)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/admin/withdrawals/nope/approve", admin)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, body)

	resp, _ = get(t, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminDisabledWithoutId(t *testing.T) {
	ts := httptest.NewServer(NewServer(nil, nil, "").Router())
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/api/v1/admin/stats", map[string]string{AdminHeader: ""})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
