package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierAllotment(t *testing.T) {
	assert.Equal(t, Allotment{Text: 5, Image: 2}, TierAllotment(TierFree))
	assert.Equal(t, Allotment{Text: Unlimited, Image: 10}, TierAllotment(TierPremium))
	assert.Equal(t, Allotment{Text: Unlimited, Image: Unlimited}, TierAllotment(TierPro))
	assert.Equal(t, TierAllotment(TierFree), TierAllotment(SubscriptionTier("gold")))

	assert.True(t, TierAllotment(TierPremium).IsUnlimited(UsageText))
	assert.False(t, TierAllotment(TierPremium).IsUnlimited(UsageImage))
	assert.False(t, TierAllotment(TierFree).IsUnlimited(UsageText))
}

func TestSubscriptionTierScan(t *testing.T) {
	var tier SubscriptionTier
	require.NoError(t, tier.Scan("pro"))
	assert.Equal(t, TierPro, tier)
	require.NoError(t, tier.Scan([]byte("premium")))
	assert.Equal(t, TierPremium, tier)
	require.NoError(t, tier.Scan(nil))
	assert.Equal(t, TierFree, tier)
	assert.Error(t, tier.Scan(42))
}

func TestValidateTierRaw(t *testing.T) {
	assert.True(t, ValidateTierRaw("free"))
	assert.True(t, ValidateTierRaw("pro"))
	assert.False(t, ValidateTierRaw("pro_plus"))
	assert.False(t, ValidateTierRaw(""))
}

func TestValidatePlanRaw(t *testing.T) {
	assert.True(t, ValidatePlanRaw("premium"))
	assert.True(t, ValidatePlanRaw("pro"))
	assert.False(t, ValidatePlanRaw("free"))
	assert.False(t, ValidatePlanRaw(""))
}

func TestUsageRecordResetDay(t *testing.T) {
	assert.Equal(t, "2024-03-10", UsageRecord{LastReset: "2024-03-10"}.ResetDay())
	assert.Equal(t, "2024-03-10", UsageRecord{LastReset: "2024-03-10T23:59:59.999Z"}.ResetDay())
	assert.Equal(t, "", UsageRecord{}.ResetDay())
}

func TestUsageRecordRemaining(t *testing.T) {
	u := UsageRecord{DailyTextGenerations: 3, DailyImageGenerations: 1}
	assert.Equal(t, 3, u.Remaining(UsageText))
	assert.Equal(t, 1, u.Remaining(UsageImage))
	assert.Equal(t, "daily_image_generations", UsageColumn(UsageImage))
	assert.Equal(t, "dailyTextGenerations", UsageField(UsageText))
}
