package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

func newTestTopic(t *testing.T, ctx context.Context) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "fulfillment-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.FulfillmentEvent{
		Type:       domain.EventPhaseCompleted,
		CartID:     "cart-1",
		Phase:      domain.PhaseBottleControl,
		Status:     domain.CartStatusWeighing,
		Operator:   "op-7",
		OccurredAt: occurredAt,
	}

	if err := publisher.PublishFulfillmentEvent(ctx, event); err != nil {
		t.Fatalf("PublishFulfillmentEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.FulfillmentEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != event.Type || payload.CartID != "cart-1" || !payload.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["type"]; attr != string(domain.EventPhaseCompleted) {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["status"]; attr != "weighing" {
		t.Fatalf("expected status attribute, got %q", attr)
	}
	if messages[0].OrderingKey != "cart-1" {
		t.Fatalf("expected cart ordering key, got %q", messages[0].OrderingKey)
	}
}

func TestPubSubEventPublisherOmitsEmptyAttributes(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	if err := publisher.PublishFulfillmentEvent(ctx, services.FulfillmentEvent{
		Type:   domain.EventLedgerUpdated,
		CartID: "cart-2",
		Ledger: []domain.LedgerEntry{{ProductID: "coke-350", Missing: 4, Found: 6}},
	}); err != nil {
		t.Fatalf("PublishFulfillmentEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if _, ok := messages[0].Attributes["operator"]; ok {
		t.Fatalf("operator attribute should not be present")
	}
	if _, ok := messages[0].Attributes["phase"]; ok {
		t.Fatalf("phase attribute should not be present")
	}
}

func TestPubSubEventPublisherValidation(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}

	ctx := context.Background()
	_, topic := newTestTopic(t, ctx)
	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	if err := publisher.PublishFulfillmentEvent(ctx, services.FulfillmentEvent{Type: domain.EventLedgerUpdated}); err == nil {
		t.Fatalf("expected error for missing cart id")
	}
}
