package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T, mockChannel *MockAMQPChannel) *Consumer {
	t.Helper()
	mockConn := &MockAMQPConnection{MockChannel: mockChannel}
	dialer := &MockAMQPDialer{MockConnection: mockConn}
	c, err := NewConsumerWithDialer(Config{URL: "amqp://test", QueueName: "analysis"}, ConsumerConfig{Concurrency: 1, MaxRetries: 3}, dialer)
	require.NoError(t, err)
	return c
}

func deliveryFor(t *testing.T, msg Message) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func TestConsumerAcksOnSuccess(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 1)
	mockChannel := &MockAMQPChannel{DeliveriesCh: deliveries}
	c := newTestConsumer(t, mockChannel)

	deliveries <- deliveryFor(t, Message{Name: "left-pad"})
	close(deliveries)

	var processed int32
	err := c.Run(context.Background(), func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&processed, 1)
		assert.Equal(t, "left-pad", msg.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), processed)
	assert.Empty(t, mockChannel.PublishedMessages)
}

func TestConsumerRepublishesOnFailureBelowMaxRetries(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 1)
	mockChannel := &MockAMQPChannel{DeliveriesCh: deliveries}
	c := newTestConsumer(t, mockChannel)

	deliveries <- deliveryFor(t, Message{Name: "left-pad", RetryCount: 1})
	close(deliveries)

	err := c.Run(context.Background(), func(ctx context.Context, msg Message) error {
		return assert.AnError
	})
	require.NoError(t, err)

	require.Len(t, mockChannel.PublishedMessages, 1)
	var retried Message
	require.NoError(t, json.Unmarshal(mockChannel.PublishedMessages[0].Body, &retried))
	assert.Equal(t, 2, retried.RetryCount)
}

func TestConsumerDropsAfterMaxRetries(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 1)
	mockChannel := &MockAMQPChannel{DeliveriesCh: deliveries}
	c := newTestConsumer(t, mockChannel)

	deliveries <- deliveryFor(t, Message{Name: "left-pad", RetryCount: 2})
	close(deliveries)

	err := c.Run(context.Background(), func(ctx context.Context, msg Message) error {
		return assert.AnError
	})
	require.NoError(t, err)
	assert.Empty(t, mockChannel.PublishedMessages)
}

func TestConsumerStopsOnContextCancel(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	mockChannel := &MockAMQPChannel{DeliveriesCh: deliveries}
	c := newTestConsumer(t, mockChannel)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, func(ctx context.Context, msg Message) error { return nil })
	require.NoError(t, err)
}
