package domain

import "time"

// TaskRecord is a persisted task together with its payload.
type TaskRecord struct {
	ID         int64     `json:"id"`
	ServerID   int64     `json:"server_id"`
	QueueName  string    `json:"queue"`
	QosKey     string    `json:"qos_key,omitempty"`
	ExpireAt   time.Time `json:"expire_at"`
	RetryCount int32     `json:"retry_count"`
	Payload    []byte    `json:"-"`
	Abandoned  bool      `json:"abandoned"`
}

// NewTask is what gets inserted when a task is stored.
type NewTask struct {
	ServerID  int64
	QueueName string
	QosKey    string
	ExpireAt  time.Time
	Payload   []byte
}
