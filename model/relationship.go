package model

import (
	"fmt"
	"time"
)

// Relationship status values. A rejected or unfriended relationship goes back
// to NONE; the row is kept so the pair's uniqueness slot survives.
const (
	RelationNone     = "NONE"
	RelationPending  = "PENDING"
	RelationFriendly = "FRIENDLY"
)

// Relationship is the single row for an unordered pair of users.
// RequesterID/RecipientID carry the direction of the latest request.
type Relationship struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID int64     `gorm:"index:idx_rel_requester;not null" json:"requester_id"`
	RecipientID int64     `gorm:"index:idx_rel_recipient;not null" json:"recipient_id"`
	PairKey     string    `gorm:"uniqueIndex;size:42;not null" json:"-"`
	Status      string    `gorm:"size:10;default:'NONE';not null" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RelationPairKey builds the order-independent unique key for two user IDs.
// The unique index on it makes a concurrent double-create lose at the DB.
func RelationPairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// Involves reports whether the given user is one of the two parties.
func (r *Relationship) Involves(userID int64) bool {
	return r.RequesterID == userID || r.RecipientID == userID
}

// OtherParty returns the party that is not userID.
func (r *Relationship) OtherParty(userID int64) int64 {
	if r.RequesterID == userID {
		return r.RecipientID
	}
	return r.RequesterID
}
