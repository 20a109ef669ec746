package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"

	"github.com/fieldline/payments-api/internal/services"
)

// PubSubRecomputePublisher publishes order recompute jobs to a Pub/Sub topic.
type PubSubRecomputePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

// NewPubSubRecomputePublisher constructs a Pub/Sub backed recompute job publisher.
func NewPubSubRecomputePublisher(topic *pubsub.Topic) (*PubSubRecomputePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub recompute publisher: topic is required")
	}
	return &PubSubRecomputePublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID: func() string {
			return "rj_" + ulid.Make().String()
		},
	}, nil
}

// PublishRecomputeJob enqueues a recompute job message on the configured topic.
// A missing job id is filled in so every message downstream is traceable.
func (p *PubSubRecomputePublisher) PublishRecomputeJob(ctx context.Context, message services.RecomputeJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub recompute publisher: not initialised")
	}

	if strings.TrimSpace(message.JobID) == "" {
		message.JobID = p.newID()
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal recompute job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", message.JobID)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "reason", message.Reason)
	setAttr(attrs, "eventId", message.EventID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish recompute job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
