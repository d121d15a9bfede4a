package taskq

// Entry is one task waiting in or running from a queue. An empty QosKey puts
// the entry in the no-key channel, a zero TaskID marks a non durable task.
type Entry struct {
	Payload any
	QosKey  string
	TaskID  int64
}
