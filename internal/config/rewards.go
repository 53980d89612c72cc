package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"reward-ledger-go/internal/models"

	"gopkg.in/yaml.v2"
)

// rewardsFile is the optional YAML override for reward constants. Absent keys keep
// the environment value.
type rewardsFile struct {
	AdRewardMicro      *int64  `yaml:"ad_reward_micro"`
	DailyBonusMicro    *int64  `yaml:"daily_bonus_micro"`
	ReferralBonusMicro *int64  `yaml:"referral_bonus_micro"`
	WithdrawMinMicro   *int64  `yaml:"withdraw_min_micro"`
	MaxAdsPerDay       *int    `yaml:"max_ads_per_day"`
	WaitSeconds        *int    `yaml:"wait_seconds"`
	PayoutSharePercent *int64  `yaml:"payout_share_percent"`
	Timezone           *string `yaml:"timezone"`
}

func LoadRewardsFile(rewardsPath string, rewards *models.RewardsConfig) error {
	if !filepath.IsAbs(rewardsPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		rewardsPath = filepath.Join(wd, rewardsPath)
	}

	data, err := os.ReadFile(rewardsPath)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", rewardsPath, err)
	}

	var file rewardsFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return fmt.Errorf("unable to parse %s: %w", rewardsPath, err)
	}

	setInt64(&rewards.AdRewardMicro, file.AdRewardMicro)
	setInt64(&rewards.DailyBonusMicro, file.DailyBonusMicro)
	setInt64(&rewards.ReferralBonusMicro, file.ReferralBonusMicro)
	setInt64(&rewards.WithdrawMinMicro, file.WithdrawMinMicro)
	setInt64(&rewards.PayoutSharePercent, file.PayoutSharePercent)
	if file.MaxAdsPerDay != nil {
		rewards.MaxAdsPerDay = *file.MaxAdsPerDay
	}
	if file.WaitSeconds != nil {
		rewards.WaitSeconds = *file.WaitSeconds
	}
	if file.Timezone != nil {
		location, err := time.LoadLocation(*file.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone in %s: %w", rewardsPath, err)
		}
		rewards.Location = location
	}

	return nil
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}
