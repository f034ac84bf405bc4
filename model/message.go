package model

import "time"

// Message is a direct message between two users.
type Message struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID    int64     `gorm:"index:idx_msg_sender;not null" json:"sender_id"`
	RecipientID int64     `gorm:"index:idx_msg_recipient;not null" json:"recipient_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Read        bool      `gorm:"default:false" json:"read"`
	CreatedAt   time.Time `gorm:"index:idx_msg_created;autoCreateTime:milli" json:"created_at"`
}
