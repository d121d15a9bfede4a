package taskq

type QueueStats struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Size          int    `json:"size"`
	InProgress    int    `json:"in_progress"`
	MaxConcurrent int    `json:"max_concurrent"`
	Paused        bool   `json:"paused"`
}

type Stats struct {
	Added  int64        `json:"added"`
	Done   int64        `json:"done"`
	Queued int64        `json:"queued"`
	Paused bool         `json:"paused"`
	Queues []QueueStats `json:"queues"`
}

func (g *Group) Stats() Stats {
	stats := Stats{
		Added:  g.added.Load(),
		Done:   g.done.Load(),
		Queued: g.queued.Load(),
		Paused: g.Paused(),
	}
	for _, q := range g.sortedQueues() {
		stats.Queues = append(stats.Queues, QueueStats{
			Name:          q.Name(),
			Kind:          kindOf(q),
			Size:          q.Size(),
			InProgress:    q.InProgress(),
			MaxConcurrent: q.MaxConcurrent(),
			Paused:        q.Paused(),
		})
	}

	return stats
}

func kindOf(q Queue) string {
	switch q.(type) {
	case *Qos:
		return "qos"
	case *Fifo:
		return "fifo"
	default:
		return "custom"
	}
}
