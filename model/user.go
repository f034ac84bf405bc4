package model

import "time"

// User represents a registered account and its public link-in-bio page.
type User struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Email        string `gorm:"uniqueIndex;size:128;not null" json:"email"`
	PasswordHash string `gorm:"size:64;not null" json:"-"`
	Bio          string `gorm:"size:512" json:"bio"`
	Avatar       string `gorm:"size:255" json:"avatar"`
	IsPublic     bool   `gorm:"default:true" json:"is_public"`
	ViewMode     string `gorm:"size:8;default:'grid'" json:"view_mode"` // list | grid
	Status       int    `gorm:"default:1" json:"status"`                // 0=banned 1=normal

	Appearance Appearance `gorm:"embedded;embeddedPrefix:appearance_" json:"appearance"`

	// Subscription state, driven by billing webhooks.
	PlanType             string     `gorm:"size:16;default:'FREE'" json:"plan_type"`
	PlanStatus           string     `gorm:"size:16;default:'INACTIVE'" json:"plan_status"` // ACTIVE | INACTIVE | CANCELLED
	PlanStartedAt        *time.Time `json:"plan_started_at"`
	PlanExpiresAt        *time.Time `json:"plan_expires_at"`
	StripeCustomerID     string     `gorm:"size:64;index" json:"-"`
	StripeSubscriptionID string     `gorm:"size:64;index" json:"-"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `gorm:"size:45" json:"-"`
}

// Appearance holds the customizable look of a user's public page.
type Appearance struct {
	BackgroundColor string `gorm:"size:16;default:'#ffffff'" json:"background_color"`
	CardColor       string `gorm:"size:16;default:'#f5f5f5'" json:"card_color"`
	TextColor       string `gorm:"size:16;default:'#000000'" json:"text_color"`
	CardTextColor   string `gorm:"size:16;default:'#000000'" json:"card_text_color"`
	LikesColor      string `gorm:"size:16;default:'#ff0000'" json:"likes_color"`
	DisplayMode     string `gorm:"size:8;default:'list'" json:"display_mode"` // list | grid
	CardStyle       string `gorm:"size:8;default:'rounded'" json:"card_style"`
	Animation       string `gorm:"size:8;default:'none'" json:"animation"`
	Font            string `gorm:"size:8;default:'default'" json:"font"`
	Spacing         int    `gorm:"default:16" json:"spacing"`
	SortMode        string `gorm:"size:8;default:'custom'" json:"sort_mode"`
}

// Follow is a directed follower edge between two users.
type Follow struct {
	FollowerID int64     `gorm:"primaryKey;index:idx_follow_follower" json:"follower_id"`
	FolloweeID int64     `gorm:"primaryKey;index:idx_follow_followee" json:"followee_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Plan types, ordered by tier.
const (
	PlanFree   = "FREE"
	PlanBronze = "BRONZE"
	PlanSilver = "SILVER"
	PlanGold   = "GOLD"
)

// Plan status values, driven by the billing webhook state machine.
const (
	PlanStatusActive    = "ACTIVE"
	PlanStatusInactive  = "INACTIVE"
	PlanStatusCancelled = "CANCELLED"
)
