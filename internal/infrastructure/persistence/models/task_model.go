package models

import "time"

// TaskModel is an inferred-task row.
type TaskModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	UserID     string `gorm:"index;size:64;not null"`
	TaskType   string `gorm:"size:64;not null"`
	Parameters string `gorm:"type:text"` // JSON encoded
	Status     string `gorm:"index;size:16;not null"`
	Priority   int    `gorm:"default:0"`
	RunAt      time.Time `gorm:"index"`
	Result     string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (TaskModel) TableName() string {
	return "tasks"
}
