// Package pubsub implements a Google Cloud Pub/Sub completion publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher sends job completion notifications to a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New creates a Publisher bound to topicID.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish marshals payload to JSON and publishes it, returning the server
// message ID. The topic argument is informational; the Publisher is bound to
// its topic at construction.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close stops the publisher and closes the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
