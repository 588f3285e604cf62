package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pncp-tools/harvester/internal/publisher/pubsub"
)

func TestPublisherPublishesJSON(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := gpubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "task-completions")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "sub-id", gpubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := pubsub.New(client)
	defer pub.Close()

	id, err := pub.Publish(ctx, "task-completions", map[string]any{
		"task_id":  "task-1",
		"endpoint": "atas",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	received := make(chan *gpubsub.Message, 1)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *gpubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
			cancel()
		})
	}()

	select {
	case msg := <-received:
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		require.Equal(t, "task-1", payload["task_id"])
		require.Equal(t, "application/json", msg.Attributes["content-type"])
	case <-recvCtx.Done():
		t.Fatal("message was not delivered")
	}
}

func TestPublisherWithoutClient(t *testing.T) {
	t.Parallel()

	pub := pubsub.New(nil)
	_, err := pub.Publish(context.Background(), "task-completions", "payload")
	require.Error(t, err)
}
