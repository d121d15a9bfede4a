package domain

// IngressMessage is the body of a task published to a message broker queue.
type IngressMessage struct {
	Queue   string `json:"queue"`
	QosKey  string `json:"qos_key,omitempty"`
	Payload string `json:"payload"`
}

// Queue is a message broker carrying IngressMessage bodies. A handler error
// returns the message to the broker.
type Queue interface {
	IsHealthy() bool
	PublishMessage(queueName, body string) error
	ConsumeMessages(consumerName, queueName string, handler func(string) error) error
	Close() error
}
