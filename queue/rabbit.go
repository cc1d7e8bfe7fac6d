package queue

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"pkgsignal.dev/analyzer/common"
)

// MessagePublisher publishes analysis work onto the shared queue.
type MessagePublisher interface {
	PublishMessage(message Message) error
	Close() error
}

// RabbitMQService is a durable-queue publisher over RabbitMQ; consuming
// is done by Consumer.
type RabbitMQService struct {
	connection AMQPConnection
	channel    AMQPChannel
	config     Config
}

// NewRabbitMQService connects to config.URL and declares config.QueueName
// as a durable queue.
func NewRabbitMQService(config Config) (*RabbitMQService, error) {
	return NewRabbitMQServiceWithDialer(config, &RealAMQPDialer{})
}

// NewRabbitMQServiceWithDialer allows injecting a fake AMQPDialer for tests.
func NewRabbitMQServiceWithDialer(config Config, dialer AMQPDialer) (*RabbitMQService, error) {
	conn, err := dialer.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		config.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &RabbitMQService{
		connection: conn,
		channel:    ch,
		config:     config,
	}, nil
}

// PublishMessage serializes message to JSON and publishes it to the
// configured queue via the default exchange.
func (r *RabbitMQService) PublishMessage(message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = r.channel.Publish(
		"",                 // default exchange
		r.config.QueueName, // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	common.Logger.WithField("package", message.Name).Debug("published analysis message")
	return nil
}

// Close releases the channel and connection, tolerating either being nil.
func (r *RabbitMQService) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		r.connection.Close()
	}
	return nil
}
