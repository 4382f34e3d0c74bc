package models

import "time"

// MemoryModel is a short-lived conversation memory row.
type MemoryModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"index:idx_memory_user_time;size:64;not null"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_memory_user_time"`
}

func (MemoryModel) TableName() string {
	return "memory_messages"
}
