// Package queue publishes and consumes the analysis work queue over
// RabbitMQ, adapted from the teacher's rabbit.go/amqp_interface.go (kept
// in place for dependency injection and mock testing) but carrying this
// pipeline's own message shape instead of FlowProcessMessage.
package queue

import "time"

// Message is one unit of analysis work: a package name pushed onto the
// queue either by the CDC observer or an operator command.
type Message struct {
	Name     string    `json:"name"`
	PushedAt time.Time `json:"pushedAt"`
	// Reason records why the message was enqueued (changed, outdated,
	// view-backfill), useful for debugging a stuck queue.
	Reason string `json:"reason,omitempty"`
	// RetryCount is re-stamped and republished by the consumer on each
	// processing failure, mirroring the redis queue's FailJob/Enqueue
	// retry pattern over the AMQP transport (AMQP redelivery alone
	// carries no attempt count without a dead-letter exchange).
	RetryCount int `json:"retryCount,omitempty"`
}

// Config names the broker connection and queue this pipeline shares
// between its observer (publisher) and consume command (consumer).
type Config struct {
	URL       string
	QueueName string
}
