package models

import "time"

// DateLayout is the calendar day format of UsageRecord.LastReset.
const DateLayout = "2006-01-02"

// UsageRecord is the per-caller quota and billing state.
type UsageRecord struct {
	UID                   string           `gorm:"primaryKey;size:128" json:"uid" firestore:"-"`
	Email                 string           `json:"email" firestore:"email"`
	SubscriptionTier      SubscriptionTier `gorm:"type:varchar(16);default:free" json:"subscriptionTier" firestore:"subscriptionTier"`
	DailyTextGenerations  int              `json:"dailyTextGenerations" firestore:"dailyTextGenerations"`
	DailyImageGenerations int              `json:"dailyImageGenerations" firestore:"dailyImageGenerations"`
	// UTC calendar day of the last counter reset
	LastReset string `gorm:"size:10" json:"lastReset" firestore:"lastReset"`

	CustomerID         *string `gorm:"index" json:"-" firestore:"customerId"`
	SubscriptionID     *string `json:"-" firestore:"subscriptionId"`
	SubscriptionStatus string  `json:"subscriptionStatus" firestore:"subscriptionStatus"`

	// The web client writes createdAt as an ISO string, so document stores
	// fill these from their own metadata.
	CreatedAt time.Time `json:"createdAt" firestore:"-"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"-"`
}

// ResetDay returns the calendar day of LastReset, which may also hold a full
// ISO timestamp.
func (u UsageRecord) ResetDay() string {
	if len(u.LastReset) > len(DateLayout) {
		return u.LastReset[:len(DateLayout)]
	}
	return u.LastReset
}

func (u UsageRecord) Remaining(kind UsageKind) int {
	if kind == UsageImage {
		return u.DailyImageGenerations
	}
	return u.DailyTextGenerations
}

// UsageColumn maps a usage kind to its column.
func UsageColumn(kind UsageKind) string {
	if kind == UsageImage {
		return "daily_image_generations"
	}
	return "daily_text_generations"
}

// UsageField maps a usage kind to its document field.
func UsageField(kind UsageKind) string {
	if kind == UsageImage {
		return "dailyImageGenerations"
	}
	return "dailyTextGenerations"
}

// BillingUpdate carries processor-side state attached to a usage record.
// Nil fields are left untouched.
type BillingUpdate struct {
	CustomerID         *string
	SubscriptionID     *string
	SubscriptionStatus *string
}
