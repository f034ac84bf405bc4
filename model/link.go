package model

import "time"

// Link is one entry on a user's public page.
type Link struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index:idx_link_user;not null" json:"user_id"`
	Title     string    `gorm:"size:128;not null" json:"title"`
	URL       string    `gorm:"size:2048;not null" json:"url"`
	Visible   bool      `gorm:"default:true" json:"visible"`
	Order     int       `gorm:"column:sort_order;default:0" json:"order"`
	Likes     int64     `gorm:"default:0" json:"likes"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
