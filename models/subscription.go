package models

import (
	"database/sql/driver"
	"fmt"
	"regexp"

	"github.com/go-playground/validator"
)

type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierPremium SubscriptionTier = "premium"
	TierPro     SubscriptionTier = "pro"
)

// Unlimited is the counter value stored for unlimited allotments. Clients
// read it as a plain number so it must stay stable.
const Unlimited = 999999

type UsageKind string

const (
	UsageText  UsageKind = "text"
	UsageImage UsageKind = "image"
)

type Allotment struct {
	Text  int `json:"text"`
	Image int `json:"image"`
}

var tierAllotments = map[SubscriptionTier]Allotment{
	TierFree:    {Text: 5, Image: 2},
	TierPremium: {Text: Unlimited, Image: 10},
	TierPro:     {Text: Unlimited, Image: Unlimited},
}

// TierAllotment returns the daily allotment for tier. Unknown tiers get the free allotment.
func TierAllotment(tier SubscriptionTier) Allotment {
	if a, ok := tierAllotments[tier]; ok {
		return a
	}
	return tierAllotments[TierFree]
}

func (a Allotment) For(kind UsageKind) int {
	if kind == UsageImage {
		return a.Image
	}
	return a.Text
}

func (a Allotment) IsUnlimited(kind UsageKind) bool {
	return a.For(kind) >= Unlimited
}

func (t *SubscriptionTier) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*t = SubscriptionTier(v)
	case []byte:
		*t = SubscriptionTier(v)
	case nil:
		*t = TierFree
	default:
		return fmt.Errorf("cannot scan %T into SubscriptionTier", value)
	}
	return nil
}

func (t SubscriptionTier) Value() (driver.Value, error) {
	return string(t), nil
}

var tierPattern = regexp.MustCompile("^(free|premium|pro)$")
var planPattern = regexp.MustCompile("^(premium|pro)$")

func ValidateTier(fl validator.FieldLevel) bool {
	return ValidateTierRaw(fl.Field().String())
}

func ValidateTierRaw(value string) bool {
	return tierPattern.MatchString(value)
}

// ValidatePlan accepts only purchasable tiers.
func ValidatePlan(fl validator.FieldLevel) bool {
	return ValidatePlanRaw(fl.Field().String())
}

func ValidatePlanRaw(value string) bool {
	return planPattern.MatchString(value)
}

// PlanPrices holds plan prices in minor currency units.
var PlanPrices = map[SubscriptionTier]int64{
	TierPremium: 999,
	TierPro:     1999,
}
