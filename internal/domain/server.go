package domain

import "time"

// ServerRecord is the availability row of one server process.
type ServerRecord struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Group      string    `json:"group"`
	LastActive time.Time `json:"last_active"`
	Abandoned  bool      `json:"abandoned"`
}

type RouterRequestAddTask struct {
	Payload string `json:"payload" binding:"required,validate_payload"`
	QosKey  string `json:"qos_key" binding:"omitempty,validate_qos_key"`
}

type RouterResponseAddTask struct {
	TaskID int64  `json:"task_id"`
	Queue  string `json:"queue"`
	// Queued is false when the queue group was full, the task is loaded
	// from the task store later.
	Queued bool `json:"queued"`
}

type RouterRequestSetPaused struct {
	Paused bool `json:"paused"`
}
