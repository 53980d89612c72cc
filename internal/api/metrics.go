package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_settlements_total",
		Help: "Reward settlement attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	creditedMicroTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_credited_micro_total",
		Help: "Micro-units credited by category",
	}, []string{"category"})

	withdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_withdrawals_total",
		Help: "Withdrawal workflow transitions by status",
	}, []string{"status"})
)

const (
	kindAd       = "ad"
	kindOffer    = "offer"
	kindBonus    = "daily_bonus"
	kindReferral = "referral"
	kindCredit   = "credit"
)

func observeSettlement(kind, outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	settlementsTotal.WithLabelValues(kind, outcome).Inc()
}
