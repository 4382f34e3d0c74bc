package models

import (
	"time"
)

// UserModel is the database user row.
type UserModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Profile      string `gorm:"type:text"` // JSON encoded string→string map
	Subscribed   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// EmotionModel is one append-only emotional log row.
type EmotionModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"index;size:64;not null"`
	Emotion   string `gorm:"size:64;not null"`
	Intensity *int
	Context   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (EmotionModel) TableName() string {
	return "emotion_entries"
}
