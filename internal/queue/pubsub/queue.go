// Package pubsub implements the extraction job queue on Google Cloud
// Pub/Sub, for deployments where intake and workers outlive a single
// process restart.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/novel"
)

const receiveBuffer = 16

// Queue is a Pub/Sub-backed novel.Queue. Enqueue publishes the item and
// waits for the server ack so a confirmed enqueue is durable; Dequeue pulls
// from the subscription.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	startOnce sync.Once
	items     chan novel.QueueItem
	recvErr   chan error
}

// New connects to Pub/Sub and validates that the topic and subscription
// exist.
func New(ctx context.Context, projectID, topicID, subID string, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		closeQuietly(client, logger)
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		closeQuietly(client, logger)
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	sub := client.Subscription(subID)
	ok, err = sub.Exists(ctx)
	if err != nil {
		closeQuietly(client, logger)
		return nil, fmt.Errorf("check subscription %q: %w", subID, err)
	}
	if !ok {
		closeQuietly(client, logger)
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", subID, projectID)
	}
	return &Queue{
		client:  client,
		topic:   topic,
		sub:     sub,
		logger:  logger,
		items:   make(chan novel.QueueItem, receiveBuffer),
		recvErr: make(chan error, 1),
	}, nil
}

// Enqueue publishes item and blocks until the message is acknowledged.
func (q *Queue) Enqueue(ctx context.Context, item novel.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue returns the next job, starting the background receiver on first
// use. Messages that fail to decode are acked and dropped with a warning so
// a poison message cannot wedge the subscription.
func (q *Queue) Dequeue(ctx context.Context) (novel.QueueItem, error) {
	q.startOnce.Do(func() { go q.receive(ctx) })
	select {
	case <-ctx.Done():
		return novel.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case err := <-q.recvErr:
		return novel.QueueItem{}, fmt.Errorf("pubsub receive: %w", err)
	case item := <-q.items:
		return item, nil
	}
}

func (q *Queue) receive(ctx context.Context) {
	err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var item novel.QueueItem
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			q.logger.Warn("dropping undecodable queue message", zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.items <- item:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		select {
		case q.recvErr <- err:
		default:
		}
	}
}

// Close stops the topic publisher and the underlying client.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func closeQuietly(client *pubsub.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("close pubsub client failed", zap.Error(err))
	}
}
