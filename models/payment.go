package models

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	JsonModel
	UID             string           `gorm:"index;size:128" json:"uid"`
	PaymentIntentID string           `gorm:"uniqueIndex;size:255" json:"paymentIntentId"`
	PlanID          SubscriptionTier `gorm:"type:varchar(16)" json:"planId"`
	Amount          int64            `json:"amount"`
	Currency        string           `gorm:"size:8" json:"currency"`
	Status          PaymentStatus    `gorm:"type:varchar(16);default:pending" json:"status"`
}
