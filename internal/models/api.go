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

// RewardResult represents the outcome of a reward settlement as reported to the caller.
// A rejected claim has Success false and a stable Reason code.
type RewardResult struct {
	Success       bool     `json:"success"`
	UserId        string   `json:"user_id,omitempty"`
	Category      Category `json:"category,omitempty"`
	Amount        int64    `json:"amount_micro"`
	NewTotal      int64    `json:"new_total_micro"`
	AdsToday      int      `json:"ads_today,omitempty"`
	TransactionId string   `json:"transaction_id,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// WithdrawalResult represents the outcome of a withdrawal workflow step
type WithdrawalResult struct {
	Success    bool               `json:"success"`
	Withdrawal *WithdrawalRequest `json:"withdrawal,omitempty"`
	NewTotal   int64              `json:"new_total_micro"`
	Reason     string             `json:"reason,omitempty"`
}
