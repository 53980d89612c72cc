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

package models

import "time"

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig
	Rewards   RewardsConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
	Formance  FormanceConfig
	Notify    NotifyConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// RewardsConfig holds the reward amounts and anti-cheat limits. All amounts are micro-units.
type RewardsConfig struct {
	AdRewardMicro      int64
	DailyBonusMicro    int64
	ReferralBonusMicro int64
	WithdrawMinMicro   int64
	MaxAdsPerDay       int
	WaitSeconds        int
	PayoutSharePercent int64
	Location           *time.Location
}

// Wait is the minimum time between issuing an ad token and settling it
func (r RewardsConfig) Wait() time.Duration {
	return time.Duration(r.WaitSeconds) * time.Second
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	Port    string
	AdminId string
}

// RateLimitConfig holds postback throttling settings. An empty RedisAddr selects the in-process limiter.
type RateLimitConfig struct {
	PostbackLimit  int
	PostbackWindow time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDb        int
}

// FormanceConfig holds the optional Formance mirror settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// Enabled reports whether the mirror should be started.
func (c FormanceConfig) Enabled() bool {
	return c.StackURL != ""
}

// NotifyConfig holds the operator webhook settings
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
}
