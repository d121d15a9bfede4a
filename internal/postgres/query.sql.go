package postgres

import (
	"context"

	"github.com/jackc/pgtype"
)

const abandonServer = `-- name: AbandonServer :execrows
UPDATE taskq_servers SET abandoned = TRUE WHERE id = $1
`

func (q *Queries) AbandonServer(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.Exec(ctx, abandonServer, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const abandonTask = `-- name: AbandonTask :execrows
UPDATE taskq_tasks SET abandoned = TRUE WHERE id = $1 AND server_id = $2
`

type AbandonTaskParams struct {
	ID       int64 `json:"id"`
	ServerID int64 `json:"server_id"`
}

func (q *Queries) AbandonTask(ctx context.Context, arg AbandonTaskParams) (int64, error) {
	result, err := q.db.Exec(ctx, abandonTask, arg.ID, arg.ServerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const activeTasksCount = `-- name: ActiveTasksCount :one
SELECT COUNT(*) FROM taskq_tasks WHERE server_id = $1 AND NOT abandoned
`

func (q *Queries) ActiveTasksCount(ctx context.Context, serverID int64) (int64, error) {
	row := q.db.QueryRow(ctx, activeTasksCount, serverID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const deadServers = `-- name: DeadServers :many
SELECT id, name, server_group, last_active, abandoned FROM taskq_servers
WHERE server_group = $1 AND id <> $2 AND NOT abandoned AND last_active < $3
ORDER BY id
`

type DeadServersParams struct {
	ServerGroup string             `json:"server_group"`
	ExcludeID   int64              `json:"exclude_id"`
	Cutoff      pgtype.Timestamptz `json:"cutoff"`
}

func (q *Queries) DeadServers(ctx context.Context, arg DeadServersParams) ([]TaskqServer, error) {
	rows, err := q.db.Query(ctx, deadServers, arg.ServerGroup, arg.ExcludeID, arg.Cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TaskqServer
	for rows.Next() {
		var i TaskqServer
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.ServerGroup,
			&i.LastActive,
			&i.Abandoned,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteTask = `-- name: DeleteTask :execrows
DELETE FROM taskq_tasks WHERE id = $1 AND server_id = $2
`

type DeleteTaskParams struct {
	ID       int64 `json:"id"`
	ServerID int64 `json:"server_id"`
}

func (q *Queries) DeleteTask(ctx context.Context, arg DeleteTaskParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteTask, arg.ID, arg.ServerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const expiredQueues = `-- name: ExpiredQueues :many
SELECT DISTINCT queue_name FROM taskq_tasks
WHERE server_id = $1 AND expire_at < $2 AND NOT abandoned
ORDER BY queue_name
`

type ExpiredQueuesParams struct {
	ServerID int64              `json:"server_id"`
	Now      pgtype.Timestamptz `json:"now"`
}

func (q *Queries) ExpiredQueues(ctx context.Context, arg ExpiredQueuesParams) ([]string, error) {
	rows, err := q.db.Query(ctx, expiredQueues, arg.ServerID, arg.Now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var queueName string
		if err := rows.Scan(&queueName); err != nil {
			return nil, err
		}
		items = append(items, queueName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const expiredTask = `-- name: ExpiredTask :one
SELECT id FROM taskq_tasks
WHERE server_id = $1 AND queue_name = $2 AND expire_at < $3 AND NOT abandoned
ORDER BY id
LIMIT 1
`

type ExpiredTaskParams struct {
	ServerID  int64              `json:"server_id"`
	QueueName string             `json:"queue_name"`
	Now       pgtype.Timestamptz `json:"now"`
}

func (q *Queries) ExpiredTask(ctx context.Context, arg ExpiredTaskParams) (int64, error) {
	row := q.db.QueryRow(ctx, expiredTask, arg.ServerID, arg.QueueName, arg.Now)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const findServer = `-- name: FindServer :one
SELECT id, name, server_group, last_active, abandoned FROM taskq_servers
WHERE name = $1 AND server_group = $2
`

type FindServerParams struct {
	Name        string `json:"name"`
	ServerGroup string `json:"server_group"`
}

func (q *Queries) FindServer(ctx context.Context, arg FindServerParams) (TaskqServer, error) {
	row := q.db.QueryRow(ctx, findServer, arg.Name, arg.ServerGroup)
	var i TaskqServer
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.ServerGroup,
		&i.LastActive,
		&i.Abandoned,
	)
	return i, err
}

const getTask = `-- name: GetTask :one
SELECT t.id, t.server_id, t.queue_name, t.qos_key, t.expire_at, t.retry_count, t.abandoned, i.payload
FROM taskq_tasks t
JOIN taskq_items i ON i.task_id = t.id
WHERE t.id = $1 AND t.server_id = $2
`

type GetTaskParams struct {
	ID       int64 `json:"id"`
	ServerID int64 `json:"server_id"`
}

func (q *Queries) GetTask(ctx context.Context, arg GetTaskParams) (TaskqTask, error) {
	row := q.db.QueryRow(ctx, getTask, arg.ID, arg.ServerID)
	var i TaskqTask
	err := row.Scan(
		&i.ID,
		&i.ServerID,
		&i.QueueName,
		&i.QosKey,
		&i.ExpireAt,
		&i.RetryCount,
		&i.Abandoned,
		&i.Payload,
	)
	return i, err
}

const insertItem = `-- name: InsertItem :exec
INSERT INTO taskq_items (task_id, payload) VALUES ($1, $2)
`

type InsertItemParams struct {
	TaskID  int64  `json:"task_id"`
	Payload []byte `json:"payload"`
}

func (q *Queries) InsertItem(ctx context.Context, arg InsertItemParams) error {
	_, err := q.db.Exec(ctx, insertItem, arg.TaskID, arg.Payload)
	return err
}

const insertServer = `-- name: InsertServer :one
INSERT INTO taskq_servers (name, server_group, last_active) VALUES ($1, $2, $3)
RETURNING id, name, server_group, last_active, abandoned
`

type InsertServerParams struct {
	Name        string             `json:"name"`
	ServerGroup string             `json:"server_group"`
	LastActive  pgtype.Timestamptz `json:"last_active"`
}

func (q *Queries) InsertServer(ctx context.Context, arg InsertServerParams) (TaskqServer, error) {
	row := q.db.QueryRow(ctx, insertServer, arg.Name, arg.ServerGroup, arg.LastActive)
	var i TaskqServer
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.ServerGroup,
		&i.LastActive,
		&i.Abandoned,
	)
	return i, err
}

const insertTask = `-- name: InsertTask :one
INSERT INTO taskq_tasks (server_id, queue_name, qos_key, expire_at) VALUES ($1, $2, $3, $4)
RETURNING id
`

type InsertTaskParams struct {
	ServerID  int64              `json:"server_id"`
	QueueName string             `json:"queue_name"`
	QosKey    pgtype.Text        `json:"qos_key"`
	ExpireAt  pgtype.Timestamptz `json:"expire_at"`
}

func (q *Queries) InsertTask(ctx context.Context, arg InsertTaskParams) (int64, error) {
	row := q.db.QueryRow(ctx, insertTask,
		arg.ServerID,
		arg.QueueName,
		arg.QosKey,
		arg.ExpireAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const lockServer = `-- name: LockServer :one
SELECT id FROM taskq_servers WHERE id = $1 AND NOT abandoned FOR UPDATE NOWAIT
`

func (q *Queries) LockServer(ctx context.Context, id int64) (int64, error) {
	row := q.db.QueryRow(ctx, lockServer, id)
	err := row.Scan(&id)
	return id, err
}

const reassignTasks = `-- name: ReassignTasks :execrows
UPDATE taskq_tasks SET server_id = $2 WHERE server_id = $1 AND NOT abandoned
`

type ReassignTasksParams struct {
	FromServerID int64 `json:"from_server_id"`
	ToServerID   int64 `json:"to_server_id"`
}

func (q *Queries) ReassignTasks(ctx context.Context, arg ReassignTasksParams) (int64, error) {
	result, err := q.db.Exec(ctx, reassignTasks, arg.FromServerID, arg.ToServerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateExpired = `-- name: UpdateExpired :execrows
UPDATE taskq_tasks SET expire_at = $3 WHERE id = $1 AND server_id = $2 AND NOT abandoned
`

type UpdateExpiredParams struct {
	ID       int64              `json:"id"`
	ServerID int64              `json:"server_id"`
	ExpireAt pgtype.Timestamptz `json:"expire_at"`
}

func (q *Queries) UpdateExpired(ctx context.Context, arg UpdateExpiredParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateExpired, arg.ID, arg.ServerID, arg.ExpireAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateServerActive = `-- name: UpdateServerActive :execrows
UPDATE taskq_servers SET last_active = $2, abandoned = FALSE WHERE id = $1
`

type UpdateServerActiveParams struct {
	ID         int64              `json:"id"`
	LastActive pgtype.Timestamptz `json:"last_active"`
}

func (q *Queries) UpdateServerActive(ctx context.Context, arg UpdateServerActiveParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateServerActive, arg.ID, arg.LastActive)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateTaskQueueName = `-- name: UpdateTaskQueueName :execrows
UPDATE taskq_tasks SET queue_name = $3, expire_at = $4 WHERE id = $1 AND server_id = $2
`

type UpdateTaskQueueNameParams struct {
	ID        int64              `json:"id"`
	ServerID  int64              `json:"server_id"`
	QueueName string             `json:"queue_name"`
	ExpireAt  pgtype.Timestamptz `json:"expire_at"`
}

func (q *Queries) UpdateTaskQueueName(ctx context.Context, arg UpdateTaskQueueNameParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateTaskQueueName,
		arg.ID,
		arg.ServerID,
		arg.QueueName,
		arg.ExpireAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateTaskRetry = `-- name: UpdateTaskRetry :one
WITH t AS (
    UPDATE taskq_tasks SET retry_count = retry_count + $3, expire_at = $4
    WHERE id = $1 AND server_id = $2
    RETURNING id, server_id, queue_name, qos_key, expire_at, retry_count, abandoned
)
SELECT t.id, t.server_id, t.queue_name, t.qos_key, t.expire_at, t.retry_count, t.abandoned, i.payload
FROM t
JOIN taskq_items i ON i.task_id = t.id
`

type UpdateTaskRetryParams struct {
	ID       int64              `json:"id"`
	ServerID int64              `json:"server_id"`
	Delta    int32              `json:"delta"`
	ExpireAt pgtype.Timestamptz `json:"expire_at"`
}

func (q *Queries) UpdateTaskRetry(ctx context.Context, arg UpdateTaskRetryParams) (TaskqTask, error) {
	row := q.db.QueryRow(ctx, updateTaskRetry,
		arg.ID,
		arg.ServerID,
		arg.Delta,
		arg.ExpireAt,
	)
	var i TaskqTask
	err := row.Scan(
		&i.ID,
		&i.ServerID,
		&i.QueueName,
		&i.QosKey,
		&i.ExpireAt,
		&i.RetryCount,
		&i.Abandoned,
		&i.Payload,
	)
	return i, err
}
