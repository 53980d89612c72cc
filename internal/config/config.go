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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"reward-ledger-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	busyTimeout, err := getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	postbackWindow, err := getEnvDuration("POSTBACK_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	notifyTimeout, err := getEnvDuration("NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	location, err := time.LoadLocation(getEnvString("LEDGER_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_TIMEZONE: %w", err)
	}

	rewards := models.RewardsConfig{
		AdRewardMicro:      getEnvInt64("AD_REWARD_MICRO", 10),
		DailyBonusMicro:    getEnvInt64("DAILY_BONUS_MICRO", 1),
		ReferralBonusMicro: getEnvInt64("REFERRAL_BONUS_MICRO", 1),
		WithdrawMinMicro:   getEnvInt64("WITHDRAW_MIN_MICRO", 1000),
		MaxAdsPerDay:       getEnvInt("MAX_ADS_PER_DAY", 10),
		WaitSeconds:        getEnvInt("WAIT_SECONDS", 30),
		PayoutSharePercent: getEnvInt64("PAYOUT_SHARE_PERCENT", 80),
		Location:           location,
	}

	if rewardsFile := getEnvString("REWARDS_FILE", ""); rewardsFile != "" {
		if err := LoadRewardsFile(rewardsFile, &rewards); err != nil {
			return nil, err
		}
	}

	if err := validateRewards(rewards); err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "rewards.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			BusyTimeout:     busyTimeout,
		},
		Rewards: rewards,
		Server: models.ServerConfig{
			Port:    getEnvString("SERVER_PORT", "8080"),
			AdminId: getEnvString("ADMIN_ID", ""),
		},
		RateLimit: models.RateLimitConfig{
			PostbackLimit:  getEnvInt("POSTBACK_RATE_LIMIT", 60),
			PostbackWindow: postbackWindow,
			RedisAddr:      getEnvString("REDIS_ADDR", ""),
			RedisPassword:  getEnvString("REDIS_PASSWORD", ""),
			RedisDb:        getEnvInt("REDIS_DB", 0),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "rewards"),
		},
		Notify: models.NotifyConfig{
			WebhookURL:    getEnvString("NOTIFY_WEBHOOK_URL", ""),
			WebhookSecret: getEnvString("NOTIFY_WEBHOOK_SECRET", ""),
			Timeout:       notifyTimeout,
		},
	}, nil
}

func validateRewards(r models.RewardsConfig) error {
	if r.AdRewardMicro < 0 || r.DailyBonusMicro < 0 || r.ReferralBonusMicro < 0 || r.WithdrawMinMicro < 0 {
		return fmt.Errorf("reward amounts must not be negative")
	}
	if r.MaxAdsPerDay <= 0 {
		return fmt.Errorf("MAX_ADS_PER_DAY must be positive, got %d", r.MaxAdsPerDay)
	}
	if r.WaitSeconds < 0 {
		return fmt.Errorf("WAIT_SECONDS must not be negative, got %d", r.WaitSeconds)
	}
	if r.PayoutSharePercent < 0 || r.PayoutSharePercent > 100 {
		return fmt.Errorf("PAYOUT_SHARE_PERCENT must be between 0 and 100, got %d", r.PayoutSharePercent)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
