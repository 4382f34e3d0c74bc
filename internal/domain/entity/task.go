package entity

import "time"

// TaskStatus is the lifecycle state of an inferred task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is a unit of deferred work inferred from a completion.
// A task in processing is owned by exactly one worker; the transition
// queued→processing is a compare-and-set in the repository.
type Task struct {
	ID         string
	UserID     string
	TaskType   string
	Parameters map[string]interface{}
	Status     TaskStatus
	Priority   int // 0–10, default 0
	CreatedAt  time.Time
	RunAt      time.Time
	Result     string
}

// ClampPriority normalizes a priority into [0,10].
func ClampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 10 {
		return 10
	}
	return p
}
