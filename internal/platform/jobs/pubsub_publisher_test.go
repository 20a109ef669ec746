package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fieldline/payments-api/internal/services"
)

func TestPubSubRecomputePublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-recompute")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubRecomputePublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubRecomputePublisher: %v", err)
	}

	msg := services.RecomputeJobMessage{
		OrderID:  "3f0c8a4a-3f3e-4be0-9d1c-2f6f1a2b3c4d",
		Reason:   "payment_applied",
		EventID:  "evt_123",
		QueuedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishRecomputeJob(ctx, msg); err != nil {
		t.Fatalf("PublishRecomputeJob: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.RecomputeJobMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.Reason != msg.Reason {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !strings.HasPrefix(payload.JobID, "rj_") {
		t.Fatalf("expected generated job id, got %q", payload.JobID)
	}
	if attr := messages[0].Attributes["orderId"]; attr != msg.OrderID {
		t.Fatalf("expected orderId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["jobId"]; attr != payload.JobID {
		t.Fatalf("jobId attribute mismatch: %q vs %q", attr, payload.JobID)
	}
}
