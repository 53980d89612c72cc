/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/ratelimit"
	"reward-ledger-go/internal/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	AdminHeader   = "X-Admin-Id"
	postbackScope = "postback"
)

// Ledger is the slice of api.LedgerService the HTTP surface calls into
type Ledger interface {
	HealthCheck(ctx context.Context) error
	RegisterUser(ctx context.Context, userId, username, referrerId string) (*models.Account, models.AccountState, error)
	ValidatePostback(userId, usdAmount, externalTxId string) error
	SettleOfferPostback(ctx context.Context, userId, usdAmount, externalTxId string) (*models.RewardResult, error)
	GetAccount(ctx context.Context, userId string) (*models.Account, error)
	Leaderboard(ctx context.Context, n int) ([]models.LeaderboardEntry, error)
	AdminStats(ctx context.Context) (*models.LedgerStats, error)
	ListPendingWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, id string) (*models.WithdrawalResult, error)
	RejectWithdrawal(ctx context.Context, id string) (*models.WithdrawalResult, error)
}

type Server struct {
	ledger  Ledger
	limiter ratelimit.Limiter
	adminId string
}

// NewServer wires the handlers. A nil limiter disables postback throttling; an empty
// adminId disables the admin routes.
func NewServer(ledger Ledger, limiter ratelimit.Limiter, adminId string) *Server {
	return &Server{ledger: ledger, limiter: limiter, adminId: adminId}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.Handle("/postback", s.rateLimited(postbackScope, http.HandlerFunc(s.PostbackHandler))).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts/{id}", s.GetAccountHandler).Methods("GET")
	apiV1.HandleFunc("/leaderboard", s.LeaderboardHandler).Methods("GET")

	admin := apiV1.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/stats", s.StatsHandler).Methods("GET")
	admin.HandleFunc("/withdrawals", s.ListWithdrawalsHandler).Methods("GET")
	admin.HandleFunc("/withdrawals/{id}/approve", s.ApproveWithdrawalHandler).Methods("POST")
	admin.HandleFunc("/withdrawals/{id}/reject", s.RejectWithdrawalHandler).Methods("POST")

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server starting", zap.String("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	zap.L().Info("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) rateLimited(scope string, next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.Context(), scope, clientIP(r)) {
			countRequest(r.Method, "/"+scope, http.StatusTooManyRequests)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminId == "" || r.Header.Get(AdminHeader) != s.adminId {
			zap.L().Warn("Rejected admin request",
				zap.String("path", r.URL.Path),
				zap.String("remote", clientIP(r)))
			respondError(w, http.StatusForbidden, "forbidden", r.Method, "/admin")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusFor maps a ledger error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrUnknownUser), errors.Is(err, store.ErrWithdrawalNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidAmount), errors.Is(err, store.ErrInvalidPostback):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAlreadyProcessed), errors.Is(err, store.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientBalance), errors.Is(err, store.ErrBelowMinimumWithdrawal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrConcurrentModification):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func startTimer(method, endpoint string) *prometheus.Timer {
	return prometheus.NewTimer(httpRequestDuration.WithLabelValues(method, endpoint))
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	countRequest(method, endpoint, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			zap.L().Error("Failed to encode response", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
}

func respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}

func respondText(w http.ResponseWriter, code int, msg, method, endpoint string) {
	countRequest(method, endpoint, code)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}
