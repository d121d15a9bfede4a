package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQClient struct {
	ctx     context.Context
	conn    *amqp.Connection
	channel *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
}

func NewRabbitMQClient(ctx context.Context, amqpURL string, mainQueueNames []string) (*RabbitMQClient, error) {
	var conn *amqp.Connection
	err := backoff.Retry(func() (err error) {
		if conn, err = amqp.Dial(amqpURL); err != nil {
			slog.ErrorContext(ctx, "failed to connect to rabbitmq.. retrying...", "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5), ctx))
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		err2 := conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return nil, err
	}

	client := &RabbitMQClient{
		ctx:      ctx,
		conn:     conn,
		channel:  ch,
		declared: map[string]bool{},
	}
	err = client.checkMainQueueDeclarations(mainQueueNames)
	if err != nil {
		slog.Error("Error while checking declarations of main queues", "error", err.Error())
		return nil, err
	}

	return client, nil
}

func (c *RabbitMQClient) PublishMessage(queueName, body string) (err error) {
	err = c.checkQueueDeclaration(queueName)
	if err != nil {
		return err
	}

	return c.channel.PublishWithContext(
		c.ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(body),
		})
}

// ConsumeMessages acks a delivery once handler returned nil. Failed
// deliveries are requeued unless they were redelivered already, those are
// dropped.
func (c *RabbitMQClient) ConsumeMessages(consumerName, queueName string, handler func(string) error) error {
	err := c.checkQueueDeclaration(queueName)
	if err != nil {
		return err
	}

	msgs, err := c.channel.ConsumeWithContext(
		c.ctx,
		queueName,    // queue
		consumerName, // consumer
		false,        // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			if err := handler(string(d.Body)); err != nil {
				slog.Error("failed to handle rabbitmq message", "queue", queueName, "redelivered", d.Redelivered, "error", err.Error())
				if err := d.Nack(false, !d.Redelivered); err != nil {
					slog.Error("failed to nack rabbitmq message", "queue", queueName, "error", err.Error())
				}
				continue
			}

			if err := d.Ack(false); err != nil {
				slog.Error("failed to ack rabbitmq message", "queue", queueName, "error", err.Error())
			}
		}
		slog.Info("rabbitmq consumer stopped", "queue", queueName, "consumer_name", consumerName)
	}()

	return nil
}

func (c *RabbitMQClient) Close() error {
	err := c.channel.Close()
	if err != nil {
		return err
	}

	err = c.conn.Close()
	return err
}

func (c *RabbitMQClient) IsHealthy() bool {
	if c.conn.IsClosed() {
		slog.Error("RabbitMQ connection is closed, Rabbit is not healthy")
		return false
	}

	ch, err := c.conn.Channel()
	if err != nil {
		slog.Error("Failed to open RabbitMQ channel, Rabbit is not healthy", "error", err)
		return false
	}
	defer func() {
		err = ch.Close()
		if err != nil {
			slog.Error("Error occurred while closing rabbit channel created for health check", "error", err.Error())
		}
	}()

	return true
}

func (c *RabbitMQClient) checkMainQueueDeclarations(mainQueueNames []string) (err error) {
	for _, queueName := range mainQueueNames {
		err = c.checkQueueDeclaration(queueName)
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *RabbitMQClient) checkQueueDeclaration(queueName string) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.declared[queueName] {
		return nil
	}

	_, err = c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		err2 := c.channel.Close()
		if err2 != nil {
			slog.Error("error occurred while closing channel", "error", err2.Error())
		}

		err2 = c.conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return err
	}
	c.declared[queueName] = true

	return nil
}
