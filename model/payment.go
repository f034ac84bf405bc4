package model

import (
	"time"

	"gorm.io/datatypes"
)

// Payment status values.
const (
	PaymentPending   = "PENDING"
	PaymentCompleted = "COMPLETED"
	PaymentFailed    = "FAILED"
)

// Payment records one checkout attempt and its outcome.
type Payment struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64          `gorm:"index:idx_payment_user;not null" json:"user_id"`
	PlanType        string         `gorm:"size:16;not null" json:"plan_type"`
	AmountCents     int64          `gorm:"not null" json:"amount_cents"`
	Currency        string         `gorm:"size:3;default:'usd'" json:"currency"`
	Status          string         `gorm:"size:16;default:'PENDING'" json:"status"`
	StripeSessionID string         `gorm:"uniqueIndex;size:128" json:"-"`
	RawEvent        datatypes.JSON `json:"-"` // last webhook payload that touched this payment
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
