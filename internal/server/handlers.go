package server

import (
	"net/http"
	"strconv"
	"strings"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.HealthCheck(r.Context()); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, "GET", "/health")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

// PostbackHandler settles an offerwall completion.
// Example: /postback?subid=123&amount=0.50&txid=abc
func (s *Server) PostbackHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/postback"
	timer := startTimer("GET", endpoint)
	defer timer.ObserveDuration()

	q := r.URL.Query()
	userId := strings.TrimSpace(q.Get("subid"))
	if userId == "" {
		respondText(w, http.StatusBadRequest, "Missing subid", "GET", endpoint)
		return
	}
	amount := q.Get("amount")
	if amount == "" {
		amount = "0"
	}

	if err := s.ledger.ValidatePostback(userId, amount, q.Get("txid")); err != nil {
		zap.L().Info("Rejected postback", zap.String("user_id", userId), zap.Error(err))
		respondText(w, http.StatusBadRequest, store.Reason(err), "GET", endpoint)
		return
	}

	// offer providers post for users the bot may not have seen yet
	if _, _, err := s.ledger.RegisterUser(r.Context(), userId, "", ""); err != nil {
		zap.L().Error("Failed to ensure postback account", zap.String("user_id", userId), zap.Error(err))
		respondText(w, statusFor(err), store.Reason(err), "GET", endpoint)
		return
	}

	result, err := s.ledger.SettleOfferPostback(r.Context(), userId, amount, q.Get("txid"))
	if err != nil {
		respondText(w, statusFor(err), store.Reason(err), "GET", endpoint)
		return
	}

	switch {
	case result.Success:
		respondText(w, http.StatusOK, "OK", "GET", endpoint)
	case result.Reason == store.Reason(store.ErrDuplicateTransaction):
		// providers retry on non-2xx, so a replay is acknowledged
		respondText(w, http.StatusOK, "DUPLICATE", "GET", endpoint)
	case result.Reason == store.Reason(store.ErrUnknownUser):
		respondText(w, http.StatusNotFound, result.Reason, "GET", endpoint)
	default:
		respondText(w, http.StatusBadRequest, result.Reason, "GET", endpoint)
	}
}

func (s *Server) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}"
	timer := startTimer("GET", endpoint)
	defer timer.ObserveDuration()

	account, err := s.ledger.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, statusFor(err), store.Reason(err), "GET", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, account, "GET", endpoint)
}

func (s *Server) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/leaderboard"
	timer := startTimer("GET", endpoint)
	defer timer.ObserveDuration()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer", "GET", endpoint)
			return
		}
		limit = n
	}

	entries, err := s.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		respondError(w, statusFor(err), store.Reason(err), "GET", endpoint)
		return
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	respondJSON(w, http.StatusOK, entries, "GET", endpoint)
}

func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/stats"
	timer := startTimer("GET", endpoint)
	defer timer.ObserveDuration()

	stats, err := s.ledger.AdminStats(r.Context())
	if err != nil {
		respondError(w, statusFor(err), store.Reason(err), "GET", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, stats, "GET", endpoint)
}

func (s *Server) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/withdrawals"
	timer := startTimer("GET", endpoint)
	defer timer.ObserveDuration()

	pending, err := s.ledger.ListPendingWithdrawals(r.Context())
	if err != nil {
		respondError(w, statusFor(err), store.Reason(err), "GET", endpoint)
		return
	}
	if pending == nil {
		pending = []models.WithdrawalRequest{}
	}
	respondJSON(w, http.StatusOK, pending, "GET", endpoint)
}

func (s *Server) ApproveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/withdrawals/{id}/approve"
	timer := startTimer("POST", endpoint)
	defer timer.ObserveDuration()

	result, err := s.ledger.ApproveWithdrawal(r.Context(), mux.Vars(r)["id"])
	s.respondWithdrawal(w, result, err, endpoint)
}

func (s *Server) RejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/withdrawals/{id}/reject"
	timer := startTimer("POST", endpoint)
	defer timer.ObserveDuration()

	result, err := s.ledger.RejectWithdrawal(r.Context(), mux.Vars(r)["id"])
	s.respondWithdrawal(w, result, err, endpoint)
}

func (s *Server) respondWithdrawal(w http.ResponseWriter, result *models.WithdrawalResult, err error, endpoint string) {
	switch {
	case err != nil:
		respondError(w, statusFor(err), store.Reason(err), "POST", endpoint)
	case !result.Success:
		respondJSON(w, statusForReason(result.Reason), result, "POST", endpoint)
	default:
		respondJSON(w, http.StatusOK, result, "POST", endpoint)
	}
}

func statusForReason(reason string) int {
	switch reason {
	case store.Reason(store.ErrWithdrawalNotFound), store.Reason(store.ErrUnknownUser):
		return http.StatusNotFound
	case store.Reason(store.ErrAlreadyProcessed):
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}
