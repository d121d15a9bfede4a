package postgres

import (
	"github.com/jackc/pgtype"
)

type TaskqServer struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	ServerGroup string             `json:"server_group"`
	LastActive  pgtype.Timestamptz `json:"last_active"`
	Abandoned   bool               `json:"abandoned"`
}

type TaskqTask struct {
	ID         int64              `json:"id"`
	ServerID   int64              `json:"server_id"`
	QueueName  string             `json:"queue_name"`
	QosKey     pgtype.Text        `json:"qos_key"`
	ExpireAt   pgtype.Timestamptz `json:"expire_at"`
	RetryCount int32              `json:"retry_count"`
	Abandoned  bool               `json:"abandoned"`
	Payload    []byte             `json:"payload"`
}
